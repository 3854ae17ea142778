package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/alerting"
	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/cache"
	"cgm-trend-alerts/internal/config"
	"cgm-trend-alerts/internal/predict"
	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/risk"
	"cgm-trend-alerts/internal/scheduler"
	"cgm-trend-alerts/internal/service"
	"cgm-trend-alerts/internal/source"
	"cgm-trend-alerts/internal/storage"
	"cgm-trend-alerts/internal/syncer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() source.Source {
	return source.NewClient(source.ClientOptions{
		BaseURL:   a.Config.Nightscout.BaseURL,
		APISecret: a.Config.Nightscout.APISecret,
		APIToken:  a.Config.Nightscout.APIToken,
		Timeout:   a.Config.Nightscout.RequestTimeout,
		UserAgent: a.Config.Nightscout.UserAgent,
	}, a.Logger)
}

func (a *App) newNormalizer() *records.Normalizer {
	return records.NewNormalizer(records.NormalizerOptions{
		DefaultUnits: a.Config.Nightscout.DefaultUnits,
		UTCOffset:    time.Duration(a.Config.Nightscout.UTCOffsetMinutes) * time.Minute,
		Granularity:  a.Config.Nightscout.SamplingGranularity,
	})
}

func (a *App) newPredictor() *predict.Predictor {
	return predict.New(predict.Options{
		MinPoints:      a.Config.Prediction.MinPoints,
		TrendPoints:    a.Config.Prediction.TrendPoints,
		StepMinutes:    a.Config.Prediction.StepMinutes,
		HorizonMinutes: a.Config.Prediction.HorizonMinutes,
		StableRate:     a.Config.Prediction.StableRate,
		FastRate:       a.Config.Prediction.FastRate,
	}, a.Logger)
}

func (a *App) thresholds() risk.Thresholds {
	return risk.Thresholds{
		High:        a.Config.Risk.HighThreshold,
		Medium:      a.Config.Risk.MediumThreshold,
		WatchMargin: a.Config.Risk.WatchMargin,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newForecastCache() *cache.PredictionCache {
	return cache.New(cache.Options{
		Addr:     a.Config.Cache.RedisAddr,
		Password: a.Config.Cache.RedisPassword,
		DB:       a.Config.Cache.RedisDB,
		TTL:      a.Config.Cache.TTL,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	sync := syncer.New(a.newSource(), a.newNormalizer(), store, store, a.Logger)
	history := alerts.NewManager(store, a.Logger)
	assessor := risk.NewAssessor(a.thresholds(), store, history, a.Logger)
	forecasts := a.newForecastCache()
	if forecasts != nil {
		defer forecasts.Close()
	}

	svc := service.New(a.Config, sched, sync, store, a.newPredictor(), assessor, forecasts, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// SyncOptions configure an on-demand sync.
type SyncOptions struct {
	WindowDays int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Treatments switches the listing to treatment records; Kind narrows it.
	Treatments bool
	Kind       string
}

// ExportOptions hold parameters for exporting stored readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions narrow the alerts listing.
type AlertsOptions struct {
	Level    string
	OnlyOpen bool
	Since    *time.Time
	Limit    int
}
