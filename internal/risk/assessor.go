package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/predict"
	"cgm-trend-alerts/internal/storage"
)

// Level is the assessed risk of the current glucose trajectory.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Thresholds are the glucose cut-offs in mg/dL. A projection below High is
// high risk, below Medium is medium risk, below Medium+WatchMargin is low.
type Thresholds struct {
	High        int
	Medium      int
	WatchMargin int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.High <= 0 {
		t.High = 70
	}
	if t.Medium <= t.High {
		t.Medium = t.High + 10
	}
	if t.WatchMargin < 0 {
		t.WatchMargin = 10
	}
	return t
}

// Classify maps the worst expected value to a level.
func (t Thresholds) Classify(worst int) Level {
	switch {
	case worst < t.High:
		return LevelHigh
	case worst < t.Medium:
		return LevelMedium
	case worst < t.Medium+t.WatchMargin:
		return LevelLow
	default:
		return LevelNone
	}
}

// Transition reports the outcome of one evaluation.
type Transition struct {
	From    Level
	To      Level
	Changed bool
	// Event is set when the transition opened or escalated an episode.
	Event *storage.AlertEvent
}

// Assessor is the edge-triggered risk state machine. The persisted
// single-row state survives restarts; the mutex serialises concurrent
// evaluations so only one observes a given transition.
type Assessor struct {
	mu         sync.Mutex
	thresholds Thresholds
	state      storage.RiskStateStore
	history    *alerts.Manager
	logger     zerolog.Logger
}

// NewAssessor constructs a risk assessor.
func NewAssessor(thresholds Thresholds, state storage.RiskStateStore, history *alerts.Manager, logger zerolog.Logger) *Assessor {
	return &Assessor{
		thresholds: thresholds.withDefaults(),
		state:      state,
		history:    history,
		logger:     logger.With().Str("component", "risk").Logger(),
	}
}

// Evaluate compares the forecast and current value against the thresholds
// and records an alert event iff the level changed. Repeated evaluations at
// the same level never spawn duplicate events; a return to none closes the
// episode and the next rise opens a fresh one.
func (a *Assessor) Evaluate(ctx context.Context, current int, forecast predict.Result) (Transition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	worst := forecast.MinProjected()
	if current > 0 && current < worst {
		worst = current
	}
	level := a.thresholds.Classify(worst)

	previous := LevelNone
	state, ok, err := a.state.GetRiskState(ctx)
	if err != nil {
		return Transition{}, fmt.Errorf("load risk state: %w", err)
	}
	if ok {
		previous = Level(state.Level)
	}

	transition := Transition{From: previous, To: level, Changed: level != previous}
	if !transition.Changed {
		return transition, nil
	}

	if err := a.state.SaveRiskState(ctx, storage.RiskState{
		Level:       string(level),
		EpisodeOpen: level != LevelNone,
	}); err != nil {
		return Transition{}, fmt.Errorf("save risk state: %w", err)
	}

	a.logger.Info().
		Str("from", string(previous)).
		Str("to", string(level)).
		Int("worst_mgdl", worst).
		Msg("risk level transition")

	if level == LevelNone {
		// Episode closed; nothing to record.
		return transition, nil
	}

	event, err := a.history.Record(ctx, storage.AlertEvent{
		Level:          string(level),
		CurrentMgdl:    current,
		PredictedMin:   forecast.MinProjected(),
		HorizonMinutes: forecast.HorizonMinutes(),
	})
	if err != nil {
		return Transition{}, fmt.Errorf("record alert: %w", err)
	}
	transition.Event = &event

	return transition, nil
}

// CurrentLevel reads the persisted last-evaluated level. Absent state means
// no evaluation has run yet and maps to none.
func (a *Assessor) CurrentLevel(ctx context.Context) (Level, error) {
	state, ok, err := a.state.GetRiskState(ctx)
	if err != nil {
		return LevelNone, fmt.Errorf("load risk state: %w", err)
	}
	if !ok {
		return LevelNone, nil
	}
	return Level(state.Level), nil
}
