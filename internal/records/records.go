package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrendDirection classifies the direction reported alongside a CGM sample.
type TrendDirection string

const (
	TrendFlat        TrendDirection = "flat"
	TrendRisingSlow  TrendDirection = "rising-slow"
	TrendRisingFast  TrendDirection = "rising-fast"
	TrendFallingSlow TrendDirection = "falling-slow"
	TrendFallingFast TrendDirection = "falling-fast"
	TrendUnknown     TrendDirection = "unknown"
)

// TreatmentKind is the closed set of treatment event kinds.
type TreatmentKind string

const (
	KindMeal            TreatmentKind = "meal"
	KindCorrectionBolus TreatmentKind = "correction-bolus"
	KindBasal           TreatmentKind = "basal"
	KindExercise        TreatmentKind = "exercise"
	KindFingerStick     TreatmentKind = "finger-stick"
	KindNote            TreatmentKind = "note"
)

// GlucoseReading is a canonical CGM sample. Immutable once stored.
type GlucoseReading struct {
	Time   time.Time
	Value  int // mg/dL
	Trend  TrendDirection
	Device string
}

// IdentityKey is the normalized timestamp, rounded to the source sampling
// granularity by the normalizer. Two samples at the same instant are the
// same sample.
func (g GlucoseReading) IdentityKey() time.Time {
	return g.Time
}

// TreatmentRecord is a canonical treatment event. Immutable once stored.
type TreatmentRecord struct {
	Time        time.Time
	Kind        TreatmentKind
	Carbs       float64
	Protein     float64
	Fat         float64
	Insulin     float64
	DurationMin int
	Notes       string
	// FingerStick carries the measured value for finger-stick events only.
	// It is intentionally not part of the identity key.
	FingerStick int
}

// IdentityKey is the composite dedup key. The upstream re-transmits
// identical events without a stable external id, so identity is the full
// field tuple.
func (t TreatmentRecord) IdentityKey() string {
	return strings.Join([]string{
		t.Time.UTC().Format(time.RFC3339),
		string(t.Kind),
		trimFloat(t.Carbs),
		trimFloat(t.Protein),
		trimFloat(t.Fat),
		trimFloat(t.Insulin),
		t.Notes,
		fmt.Sprintf("%d", t.DurationMin),
	}, "|")
}

func trimFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// mgdlPerMmol is the canonical conversion factor. The same factor and
// rounding is applied everywhere so repeated conversions never drift.
var mgdlPerMmol = decimal.NewFromFloat(18.0)

// MgdlFromMmol converts mmol/L to mg/dL, rounded to the nearest integer.
func MgdlFromMmol(mmol float64) int {
	return int(decimal.NewFromFloat(mmol).Mul(mgdlPerMmol).Round(0).IntPart())
}

// MmolFromMgdl converts mg/dL to mmol/L with one decimal place.
func MmolFromMgdl(mgdl int) decimal.Decimal {
	return decimal.NewFromInt(int64(mgdl)).Div(mgdlPerMmol).Round(1)
}
