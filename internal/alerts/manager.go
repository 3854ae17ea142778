package alerts

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/storage"
)

// ErrNotFound indicates the referenced alert does not exist.
var ErrNotFound = errors.New("alerts: not found")

// Manager persists risk events and tracks acknowledgment state. History is
// append-only except for the acknowledged flag.
type Manager struct {
	store  storage.AlertStore
	logger zerolog.Logger
}

// NewManager constructs an alert history manager.
func NewManager(store storage.AlertStore, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "alerts").Logger(),
	}
}

// Record persists a new alert event and returns the stored row.
func (m *Manager) Record(ctx context.Context, event storage.AlertEvent) (storage.AlertEvent, error) {
	stored, err := m.store.InsertAlert(ctx, event)
	if err != nil {
		return storage.AlertEvent{}, err
	}
	m.logger.Info().
		Int64("id", stored.ID).
		Str("level", stored.Level).
		Int("current_mgdl", stored.CurrentMgdl).
		Int("predicted_min_mgdl", stored.PredictedMin).
		Msg("alert recorded")
	return stored, nil
}

// List returns alert events matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertEvent, error) {
	return m.store.ListAlerts(ctx, filter)
}

// Acknowledge marks an alert acknowledged. Acknowledging an already
// acknowledged event is a no-op success.
func (m *Manager) Acknowledge(ctx context.Context, id int64) error {
	err := m.store.AcknowledgeAlert(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	m.logger.Debug().Int64("id", id).Msg("alert acknowledged")
	return nil
}
