package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/source"
	"cgm-trend-alerts/internal/storage"
)

const (
	minWindowDays = 1
	maxWindowDays = 90
)

// ErrInvalidWindow indicates a sync window outside [1, 90] days.
var ErrInvalidWindow = errors.New("syncer: window days out of range")

// Skip records a malformed source event that was left out of the batch.
type Skip struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Report tallies the outcome of one sync invocation.
type Report struct {
	RunID               string `json:"run_id"`
	WindowDays          int    `json:"window_days"`
	GlucoseInserted     int    `json:"glucose_inserted"`
	GlucoseDuplicates   int    `json:"glucose_duplicates"`
	TreatmentInserted   int    `json:"treatment_inserted"`
	TreatmentDuplicates int    `json:"treatment_duplicates"`
	Skipped             []Skip `json:"skipped,omitempty"`
	Errors              []string `json:"errors,omitempty"`
}

// Syncer pulls a window of telemetry and admits it into the store. It is
// one-shot per invocation: re-invoking over an overlapping window is a pure
// restatement because admission is idempotent.
type Syncer struct {
	source     source.Source
	normalizer *records.Normalizer
	readings   storage.ReadingStore
	treatments storage.TreatmentStore
	logger     zerolog.Logger
}

// New constructs a Syncer.
func New(src source.Source, normalizer *records.Normalizer, readings storage.ReadingStore, treatments storage.TreatmentStore, logger zerolog.Logger) *Syncer {
	return &Syncer{
		source:     src,
		normalizer: normalizer,
		readings:   readings,
		treatments: treatments,
		logger:     logger.With().Str("component", "syncer").Logger(),
	}
}

// Sync fetches [now-windowDays, now] from the source and admits every event.
// Malformed events are skipped with a reason; a source fetch failure aborts
// the attempt and lands in Report.Errors; a store failure aborts the batch
// and is returned so the caller can surface it. Retry is the scheduler's job.
func (s *Syncer) Sync(ctx context.Context, windowDays int) (Report, error) {
	report := Report{
		RunID:      uuid.NewString(),
		WindowDays: windowDays,
	}
	if windowDays < minWindowDays || windowDays > maxWindowDays {
		return report, fmt.Errorf("%w: %d", ErrInvalidWindow, windowDays)
	}

	logger := s.logger.With().Str("run_id", report.RunID).Int("window_days", windowDays).Logger()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -windowDays)

	entries, err := s.source.FetchEntries(ctx, from, to)
	if err != nil {
		logger.Error().Err(err).Msg("entry fetch failed; aborting sync attempt")
		report.Errors = append(report.Errors, fmt.Sprintf("fetch entries: %v", err))
		return report, nil
	}

	treatments, err := s.source.FetchTreatments(ctx, from, to)
	if err != nil {
		logger.Error().Err(err).Msg("treatment fetch failed; aborting sync attempt")
		report.Errors = append(report.Errors, fmt.Sprintf("fetch treatments: %v", err))
		return report, nil
	}

	if err := s.admitEntries(ctx, entries, &report); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}
	if err := s.admitTreatments(ctx, treatments, &report); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}

	logger.Info().
		Int("glucose_inserted", report.GlucoseInserted).
		Int("glucose_duplicates", report.GlucoseDuplicates).
		Int("treatment_inserted", report.TreatmentInserted).
		Int("treatment_duplicates", report.TreatmentDuplicates).
		Int("skipped", len(report.Skipped)).
		Msg("sync completed")

	return report, nil
}

func (s *Syncer) admitEntries(ctx context.Context, entries []source.Entry, report *Report) error {
	for _, entry := range entries {
		reading, err := s.normalizer.NormalizeEntry(entry)
		if err != nil {
			if errors.Is(err, records.ErrMalformed) {
				report.Skipped = append(report.Skipped, Skip{Kind: "glucose", Reason: err.Error()})
				continue
			}
			return fmt.Errorf("normalize entry: %w", err)
		}

		inserted, err := s.readings.AdmitReading(ctx, reading)
		if err != nil {
			// Store failures abort the batch; prior admissions stay committed.
			return fmt.Errorf("admit reading at %s: %w", reading.Time.Format(time.RFC3339), err)
		}
		if inserted {
			report.GlucoseInserted++
		} else {
			report.GlucoseDuplicates++
		}
	}
	return nil
}

func (s *Syncer) admitTreatments(ctx context.Context, treatments []source.Treatment, report *Report) error {
	for _, raw := range treatments {
		treatment, err := s.normalizer.NormalizeTreatment(raw)
		if err != nil {
			if errors.Is(err, records.ErrMalformed) {
				report.Skipped = append(report.Skipped, Skip{Kind: "treatment", Reason: err.Error()})
				continue
			}
			return fmt.Errorf("normalize treatment: %w", err)
		}

		inserted, err := s.treatments.AdmitTreatment(ctx, treatment)
		if err != nil {
			return fmt.Errorf("admit treatment %s: %w", treatment.IdentityKey(), err)
		}
		if inserted {
			report.TreatmentInserted++
		} else {
			report.TreatmentDuplicates++
		}
	}
	return nil
}
