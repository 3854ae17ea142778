package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cgm-trend-alerts/internal/alerting"
	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/risk"
	"cgm-trend-alerts/internal/storage"
)

// SimulateAlert 通过合成的血糖序列模拟一次预测与告警流程。
// Nothing is written to the database; state lives in memory.
func (a *App) SimulateAlert(ctx context.Context, startMgdl int, ratePer5Min float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC().Truncate(time.Minute)
	readings := make([]records.GlucoseReading, 0, 10)
	for i := 0; i < 10; i++ {
		offset := time.Duration(9-i) * 5 * time.Minute
		value := float64(startMgdl) + ratePer5Min*float64(i)
		readings = append(readings, records.GlucoseReading{
			Time:  now.Add(-offset),
			Value: int(value + 0.5),
			Trend: records.TrendUnknown,
		})
	}

	forecast, err := a.newPredictor().Predict(readings)
	if err != nil {
		return err
	}

	state := &memRiskState{}
	history := alerts.NewManager(&memAlertStore{}, a.Logger)
	assessor := risk.NewAssessor(a.thresholds(), state, history, a.Logger)

	current := readings[len(readings)-1].Value
	transition, err := assessor.Evaluate(ctx, current, forecast)
	if err != nil {
		return err
	}

	if !transition.Changed || transition.Event == nil {
		fmt.Fprintf(os.Stdout, "risk level %s; 未触发告警\n", transition.To)
		return nil
	}

	return notifier.Notify(ctx, alerting.Notification{
		Time:           now,
		Level:          transition.Event.Level,
		CurrentMgdl:    current,
		PredictedMin:   forecast.MinProjected(),
		HorizonMinutes: forecast.HorizonMinutes(),
		Trend:          forecast.Trend,
		Confidence:     forecast.Confidence,
		Channels:       a.Config.Alerting.Channels,
		AdditionalMsg:  "simulated series",
	})
}

type memRiskState struct {
	state storage.RiskState
	set   bool
}

func (m *memRiskState) GetRiskState(ctx context.Context) (storage.RiskState, bool, error) {
	return m.state, m.set, nil
}

func (m *memRiskState) SaveRiskState(ctx context.Context, state storage.RiskState) error {
	m.state = state
	m.set = true
	return nil
}

type memAlertStore struct {
	events []storage.AlertEvent
}

func (m *memAlertStore) InsertAlert(ctx context.Context, event storage.AlertEvent) (storage.AlertEvent, error) {
	event.ID = int64(len(m.events) + 1)
	event.CreatedAt = time.Now().UTC()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memAlertStore) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertEvent, error) {
	return m.events, nil
}

func (m *memAlertStore) AcknowledgeAlert(ctx context.Context, id int64) error {
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Acknowledged = true
			return nil
		}
	}
	return storage.ErrNotFound
}

var _ storage.RiskStateStore = (*memRiskState)(nil)
var _ storage.AlertStore = (*memAlertStore)(nil)
