package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/alerting"
	"cgm-trend-alerts/internal/cache"
	"cgm-trend-alerts/internal/config"
	"cgm-trend-alerts/internal/predict"
	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/risk"
	"cgm-trend-alerts/internal/scheduler"
	"cgm-trend-alerts/internal/storage"
	"cgm-trend-alerts/internal/syncer"
)

// SyncRunner runs one idempotent sync invocation.
type SyncRunner interface {
	Sync(ctx context.Context, windowDays int) (syncer.Report, error)
}

// Service orchestrates the periodic sync → predict → assess → alert pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	syncer    SyncRunner
	readings  storage.ReadingStore
	predictor *predict.Predictor
	assessor  *risk.Assessor
	forecasts *cache.PredictionCache
	notifier  alerting.Notifier
	logger    zerolog.Logger

	syncWindowDays int
	predictWindow  time.Duration
	channels       []string
	alertsOn       bool
	locker         storage.AdvisoryLocker
	lockKey        int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, sync SyncRunner, readings storage.ReadingStore, predictor *predict.Predictor, assessor *risk.Assessor, forecasts *cache.PredictionCache, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := readings.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:      sched,
		syncer:         sync,
		readings:       readings,
		predictor:      predictor,
		assessor:       assessor,
		forecasts:      forecasts,
		notifier:       notifier,
		logger:         logger.With().Str("component", "service").Logger(),
		syncWindowDays: cfg.Sync.WindowDays,
		predictWindow:  time.Duration(cfg.Prediction.WindowDays) * 24 * time.Hour,
		channels:       cfg.Alerting.Channels,
		alertsOn:       cfg.Alerting.Enabled,
		locker:         locker,
		lockKey:        cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic pipeline loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个周期的同步与评估逻辑。
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, at)
}

func (s *Service) executeTick(ctx context.Context, at time.Time) error {
	report, err := s.syncer.Sync(ctx, s.syncWindowDays)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	for _, msg := range report.Errors {
		s.logger.Warn().Str("run_id", report.RunID).Str("error", msg).Msg("sync reported error")
	}

	// Risk is evaluated from the store, not the fetch result, so a failed
	// fetch still assesses whatever data is already durable.
	if err := s.EvaluateRisk(ctx, at); err != nil {
		return err
	}
	return nil
}

// EvaluateRisk forecasts from the stored window and feeds the assessor.
// InsufficientData leaves the risk state untouched: unknown is not "safe".
func (s *Service) EvaluateRisk(ctx context.Context, at time.Time) error {
	stored, err := s.readings.ListReadingsBetween(ctx, at.Add(-s.predictWindow), at.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("load readings: %w", err)
	}

	forecast, err := s.predictor.Predict(unwrapReadings(stored))
	if err != nil {
		if errors.Is(err, predict.ErrInsufficientData) {
			s.logger.Warn().Err(err).Msg("forecast declined; risk level left unchanged")
			return nil
		}
		return fmt.Errorf("predict: %w", err)
	}

	if s.forecasts != nil {
		if err := s.forecasts.StoreLatest(ctx, forecast); err != nil {
			s.logger.Error().Err(err).Msg("failed to cache forecast")
		}
	}

	current := stored[len(stored)-1].Reading.Value

	transition, err := s.assessor.Evaluate(ctx, current, forecast)
	if err != nil {
		return fmt.Errorf("assess: %w", err)
	}

	if transition.Changed && transition.Event != nil && s.alertsOn && s.notifier != nil {
		note := alerting.Notification{
			Time:           at,
			Level:          transition.Event.Level,
			CurrentMgdl:    current,
			PredictedMin:   forecast.MinProjected(),
			HorizonMinutes: forecast.HorizonMinutes(),
			Trend:          forecast.Trend,
			Confidence:     forecast.Confidence,
			Channels:       s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("tick", at).Msg("failed to dispatch alert")
		}
	}

	return nil
}

func unwrapReadings(stored []storage.StoredReading) []records.GlucoseReading {
	readings := make([]records.GlucoseReading, 0, len(stored))
	for _, sr := range stored {
		readings = append(readings, sr.Reading)
	}
	return readings
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
