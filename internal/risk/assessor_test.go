package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/predict"
	"cgm-trend-alerts/internal/storage"
)

type memRiskState struct {
	state storage.RiskState
	ok    bool
}

func (m *memRiskState) GetRiskState(ctx context.Context) (storage.RiskState, bool, error) {
	return m.state, m.ok, nil
}

func (m *memRiskState) SaveRiskState(ctx context.Context, state storage.RiskState) error {
	state.UpdatedAt = time.Now().UTC()
	m.state = state
	m.ok = true
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

func newTestAssessor(store *memAlertStore) *Assessor {
	history := alerts.NewManager(store, zerolog.Nop())
	return NewAssessor(Thresholds{High: 70, Medium: 80, WatchMargin: 10}, &memRiskState{}, history, zerolog.Nop())
}

func forecastTo(min int) predict.Result {
	return predict.Result{
		BaseValue: min,
		Points: []predict.Point{
			{OffsetMinutes: 15, Value: min + 5},
			{OffsetMinutes: 30, Value: min},
		},
	}
}

func TestClassifyThresholds(t *testing.T) {
	th := Thresholds{High: 70, Medium: 80, WatchMargin: 10}
	cases := []struct {
		worst int
		want  Level
	}{
		{65, LevelHigh},
		{69, LevelHigh},
		{70, LevelMedium},
		{79, LevelMedium},
		{80, LevelLow},
		{89, LevelLow},
		{90, LevelNone},
		{180, LevelNone},
	}
	for _, tc := range cases {
		if got := th.Classify(tc.worst); got != tc.want {
			t.Fatalf("worst=%d 期望 %s, 实际 %s", tc.worst, tc.want, got)
		}
	}
}

func TestEvaluateOpensEpisodeOnce(t *testing.T) {
	store := &memAlertStore{}
	assessor := newTestAssessor(store)
	ctx := context.Background()

	transition, err := assessor.Evaluate(ctx, 100, forecastTo(65))
	if err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if !transition.Changed || transition.To != LevelHigh {
		t.Fatalf("预测 65 应触发 high, 实际 %+v", transition)
	}
	if transition.Event == nil {
		t.Fatal("级别上升应记录告警事件")
	}

	// 相同级别的重复评估不应产生新事件。
	for i := 0; i < 3; i++ {
		transition, err = assessor.Evaluate(ctx, 100, forecastTo(65))
		if err != nil {
			t.Fatalf("评估不应报错: %v", err)
		}
		if transition.Changed || transition.Event != nil {
			t.Fatalf("重复评估不应重复告警: %+v", transition)
		}
	}

	if len(store.events) != 1 {
		t.Fatalf("应恰好记录 1 条事件, 实际 %d", len(store.events))
	}
}

func TestEvaluateClosesAndReopens(t *testing.T) {
	store := &memAlertStore{}
	assessor := newTestAssessor(store)
	ctx := context.Background()

	if _, err := assessor.Evaluate(ctx, 100, forecastTo(65)); err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}

	// 回到安全区应关闭事件段, 但不记录事件。
	transition, err := assessor.Evaluate(ctx, 120, forecastTo(110))
	if err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if !transition.Changed || transition.To != LevelNone {
		t.Fatalf("回到安全区应转为 none: %+v", transition)
	}
	if transition.Event != nil {
		t.Fatal("关闭事件段不应记录事件")
	}

	// 再次跌破阈值应开启新事件段并记录新事件。
	transition, err = assessor.Evaluate(ctx, 90, forecastTo(65))
	if err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if transition.Event == nil {
		t.Fatal("新事件段应记录新事件")
	}
	if len(store.events) != 2 {
		t.Fatalf("应有 2 条事件, 实际 %d", len(store.events))
	}
}

func TestEvaluateUsesWorstOfCurrentAndForecast(t *testing.T) {
	store := &memAlertStore{}
	assessor := newTestAssessor(store)
	ctx := context.Background()

	// 当前值已低于高风险阈值, 即便预测平稳也应告警。
	transition, err := assessor.Evaluate(ctx, 62, forecastTo(100))
	if err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if transition.To != LevelHigh {
		t.Fatalf("当前值 62 应判为 high, 实际 %s", transition.To)
	}
}

func TestCurrentLevelDefaultsToNone(t *testing.T) {
	assessor := newTestAssessor(&memAlertStore{})

	level, err := assessor.CurrentLevel(context.Background())
	if err != nil {
		t.Fatalf("读取级别不应报错: %v", err)
	}
	if level != LevelNone {
		t.Fatalf("未评估时应为 none, 实际 %s", level)
	}
}
