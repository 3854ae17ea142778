package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cgm-trend-alerts/internal/source"
)

// ErrMalformed marks records missing required fields or carrying values
// outside the physiological range. Malformed records are skipped, not fatal.
var ErrMalformed = errors.New("records: malformed record")

const (
	// Glucose values outside (0, 999] mg/dL are sensor noise or corruption.
	maxGlucoseMgdl = 999
)

// NormalizerOptions configure timestamp and unit handling.
type NormalizerOptions struct {
	// DefaultUnits applies when an event carries no unit field ("mg/dl" or "mmol/l").
	DefaultUnits string
	// UTCOffset resolves source timestamps transmitted without a zone.
	UTCOffset time.Duration
	// Granularity rounds reading timestamps to the CGM sampling interval,
	// producing the identity key.
	Granularity time.Duration
}

// Normalizer maps raw source events into canonical records. Pure; it holds
// only configuration.
type Normalizer struct {
	opts NormalizerOptions
}

// NewNormalizer constructs a Normalizer, applying option defaults.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if opts.Granularity <= 0 {
		opts.Granularity = time.Minute
	}
	if opts.DefaultUnits == "" {
		opts.DefaultUnits = "mg/dl"
	}
	return &Normalizer{opts: opts}
}

// NormalizeEntry converts a raw glucose sample into a GlucoseReading.
func (n *Normalizer) NormalizeEntry(e source.Entry) (GlucoseReading, error) {
	ts, err := n.entryTime(e)
	if err != nil {
		return GlucoseReading{}, err
	}

	raw := e.SGV.Float64()
	if raw <= 0 {
		return GlucoseReading{}, fmt.Errorf("%w: glucose value missing or non-positive", ErrMalformed)
	}

	value := int(raw + 0.5)
	if isMmol(e.Units, n.opts.DefaultUnits) {
		value = MgdlFromMmol(raw)
	}
	if value <= 0 || value > maxGlucoseMgdl {
		return GlucoseReading{}, fmt.Errorf("%w: glucose value %d mg/dL out of range", ErrMalformed, value)
	}

	return GlucoseReading{
		Time:   ts.Round(n.opts.Granularity),
		Value:  value,
		Trend:  trendFromSource(e.Direction, e.Trend),
		Device: e.Device,
	}, nil
}

// NormalizeTreatment converts a raw treatment event into a TreatmentRecord.
func (n *Normalizer) NormalizeTreatment(t source.Treatment) (TreatmentRecord, error) {
	ts, err := n.parseTimestamp(t.When())
	if err != nil {
		return TreatmentRecord{}, err
	}

	kind, ok := kindFromEventType(t.EventType)
	if !ok {
		return TreatmentRecord{}, fmt.Errorf("%w: unknown event kind %q", ErrMalformed, t.EventType)
	}

	rec := TreatmentRecord{
		Time:        ts,
		Kind:        kind,
		Carbs:       t.Carbs.Float64(),
		Protein:     t.Protein.Float64(),
		Fat:         t.Fat.Float64(),
		Insulin:     t.Insulin.Float64(),
		DurationMin: int(t.Duration.Float64()),
		Notes:       strings.TrimSpace(t.Notes),
	}

	switch kind {
	case KindMeal:
		if rec.Carbs <= 0 {
			return TreatmentRecord{}, fmt.Errorf("%w: meal without carbohydrates", ErrMalformed)
		}
	case KindCorrectionBolus, KindBasal:
		if rec.Insulin <= 0 {
			return TreatmentRecord{}, fmt.Errorf("%w: dose without insulin units", ErrMalformed)
		}
	case KindExercise:
		if rec.DurationMin <= 0 {
			return TreatmentRecord{}, fmt.Errorf("%w: exercise without duration", ErrMalformed)
		}
	case KindFingerStick:
		raw := t.Glucose.Float64()
		if raw <= 0 {
			return TreatmentRecord{}, fmt.Errorf("%w: finger-stick without measured value", ErrMalformed)
		}
		value := int(raw + 0.5)
		if isMmol(t.Units, n.opts.DefaultUnits) {
			value = MgdlFromMmol(raw)
		}
		if value > maxGlucoseMgdl {
			return TreatmentRecord{}, fmt.Errorf("%w: finger-stick value %d mg/dL out of range", ErrMalformed, value)
		}
		rec.FingerStick = value
	case KindNote:
		if rec.Notes == "" {
			return TreatmentRecord{}, fmt.Errorf("%w: note without text", ErrMalformed)
		}
	}

	return rec, nil
}

func (n *Normalizer) entryTime(e source.Entry) (time.Time, error) {
	if e.Date > 0 {
		return time.UnixMilli(e.Date).UTC(), nil
	}
	return n.parseTimestamp(e.DateString)
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
}

var nakedLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (n *Normalizer) parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}

	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}

	// Zone-less timestamps are interpreted with the configured UTC offset.
	zone := time.FixedZone("source", int(n.opts.UTCOffset.Seconds()))
	for _, layout := range nakedLayouts {
		if ts, err := time.ParseInLocation(layout, raw, zone); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, raw)
}

func isMmol(units, fallback string) bool {
	u := strings.ToLower(strings.TrimSpace(units))
	if u == "" {
		u = strings.ToLower(strings.TrimSpace(fallback))
	}
	return strings.HasPrefix(u, "mmol")
}

func trendFromSource(direction string, numeric int) TrendDirection {
	switch direction {
	case "Flat":
		return TrendFlat
	case "FortyFiveUp":
		return TrendRisingSlow
	case "SingleUp", "DoubleUp":
		return TrendRisingFast
	case "FortyFiveDown":
		return TrendFallingSlow
	case "SingleDown", "DoubleDown":
		return TrendFallingFast
	}

	// Some uploaders only transmit the numeric trend code.
	switch numeric {
	case 1, 2:
		return TrendRisingFast
	case 3:
		return TrendRisingSlow
	case 4:
		return TrendFlat
	case 5:
		return TrendFallingSlow
	case 6, 7:
		return TrendFallingFast
	}

	return TrendUnknown
}

func kindFromEventType(eventType string) (TreatmentKind, bool) {
	switch strings.TrimSpace(eventType) {
	case "Meal Bolus", "Snack Bolus", "Carb Correction", "Combo Bolus", "Bolus Wizard":
		return KindMeal, true
	case "Correction Bolus", "Bolus":
		return KindCorrectionBolus, true
	case "Temp Basal", "Basal":
		return KindBasal, true
	case "Exercise":
		return KindExercise, true
	case "BG Check", "Finger Stick":
		return KindFingerStick, true
	case "Note", "Announcement", "Question":
		return KindNote, true
	}
	return "", false
}
