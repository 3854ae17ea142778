package predict

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cgm-trend-alerts/internal/records"
)

// ErrInsufficientData indicates too few valid readings for a forecast.
// Callers must treat this as "unknown", not as zero risk.
var ErrInsufficientData = errors.New("predict: insufficient data")

// Point is one projected value at a horizon offset.
type Point struct {
	OffsetMinutes int `json:"offset_minutes"`
	Value         int `json:"value"`
}

// Result is a short-horizon forecast. Ephemeral; recomputed on demand.
type Result struct {
	GeneratedAt   time.Time               `json:"generated_at"`
	BaseValue     int                     `json:"base_value"`
	Points        []Point                 `json:"points"`
	Trend         records.TrendDirection  `json:"trend"`
	RatePerMinute decimal.Decimal         `json:"rate_per_minute"`
	Confidence    float64                 `json:"confidence"`
}

// MinProjected returns the lowest value across the horizon.
func (r Result) MinProjected() int {
	min := r.BaseValue
	for _, p := range r.Points {
		if p.Value < min {
			min = p.Value
		}
	}
	return min
}

// HorizonMinutes returns the furthest projected offset.
func (r Result) HorizonMinutes() int {
	if len(r.Points) == 0 {
		return 0
	}
	return r.Points[len(r.Points)-1].OffsetMinutes
}

// Options tune the predictor.
type Options struct {
	// MinPoints is the number of valid readings required in the window.
	MinPoints int
	// TrendPoints is the recent sub-window the rate is computed from; it is
	// clamped to [5, 10].
	TrendPoints int
	// StepMinutes and HorizonMinutes shape the projection grid.
	StepMinutes    int
	HorizonMinutes int
	// StableRate and FastRate bucket the rate (mg/dL per minute) into trend
	// classes.
	StableRate float64
	FastRate   float64
	// ClampMin and ClampMax bound projected values to a plausible range.
	ClampMin int
	ClampMax int
}

func (o Options) withDefaults() Options {
	if o.MinPoints <= 0 {
		o.MinPoints = 10
	}
	if o.TrendPoints < 5 {
		o.TrendPoints = 5
	}
	if o.TrendPoints > 10 {
		o.TrendPoints = 10
	}
	if o.StepMinutes <= 0 {
		o.StepMinutes = 5
	}
	if o.HorizonMinutes < o.StepMinutes {
		o.HorizonMinutes = 30
	}
	if o.StableRate <= 0 {
		o.StableRate = 0.5
	}
	if o.FastRate <= o.StableRate {
		o.FastRate = 2.0
	}
	if o.ClampMin <= 0 {
		o.ClampMin = 20
	}
	if o.ClampMax <= o.ClampMin {
		o.ClampMax = 600
	}
	return o
}

// Predictor derives a linear short-horizon forecast from recent readings.
type Predictor struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Predictor.
func New(opts Options, logger zerolog.Logger) *Predictor {
	return &Predictor{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "predictor").Logger(),
	}
}

// Predict computes the forecast from the given window of readings, ordered
// oldest to newest. The projection anchors at the latest observed value so
// older points cannot lag the current state.
func (p *Predictor) Predict(readings []records.GlucoseReading) (Result, error) {
	valid := make([]records.GlucoseReading, 0, len(readings))
	for _, r := range readings {
		if r.Value > 0 {
			valid = append(valid, r)
		}
	}

	if len(valid) < p.opts.MinPoints {
		return Result{}, fmt.Errorf("%w: %d of %d required points", ErrInsufficientData, len(valid), p.opts.MinPoints)
	}

	sub := valid
	if len(sub) > p.opts.TrendPoints {
		sub = sub[len(sub)-p.opts.TrendPoints:]
	}

	rate := trendRate(sub)
	base := sub[len(sub)-1].Value

	result := Result{
		GeneratedAt:   time.Now().UTC(),
		BaseValue:     base,
		Trend:         p.classify(rate),
		RatePerMinute: rate,
		Confidence:    p.confidence(sub, rate),
	}

	baseDec := decimal.NewFromInt(int64(base))
	for offset := p.opts.StepMinutes; offset <= p.opts.HorizonMinutes; offset += p.opts.StepMinutes {
		projected := baseDec.Add(rate.Mul(decimal.NewFromInt(int64(offset))))
		result.Points = append(result.Points, Point{
			OffsetMinutes: offset,
			Value:         p.clamp(int(projected.Round(0).IntPart())),
		})
	}

	p.logger.Debug().
		Int("base", base).
		Str("rate_per_minute", rate.StringFixed(3)).
		Str("trend", string(result.Trend)).
		Float64("confidence", result.Confidence).
		Msg("forecast computed")

	return result, nil
}

// trendRate is the average rate of change per minute across the sub-window.
func trendRate(sub []records.GlucoseReading) decimal.Decimal {
	first := sub[0]
	last := sub[len(sub)-1]
	minutes := last.Time.Sub(first.Time).Minutes()
	if minutes <= 0 {
		return decimal.Zero
	}
	delta := decimal.NewFromInt(int64(last.Value - first.Value))
	return delta.Div(decimal.NewFromFloat(minutes))
}

func (p *Predictor) clamp(v int) int {
	if v < p.opts.ClampMin {
		return p.opts.ClampMin
	}
	if v > p.opts.ClampMax {
		return p.opts.ClampMax
	}
	return v
}

func (p *Predictor) classify(rate decimal.Decimal) records.TrendDirection {
	abs, _ := rate.Abs().Float64()
	switch {
	case abs < p.opts.StableRate:
		return records.TrendFlat
	case abs < p.opts.FastRate:
		if rate.Sign() > 0 {
			return records.TrendRisingSlow
		}
		return records.TrendFallingSlow
	default:
		if rate.Sign() > 0 {
			return records.TrendRisingFast
		}
		return records.TrendFallingFast
	}
}

// confidence blends a saturating points factor with the sign consistency of
// consecutive deltas. A trend that keeps reversing direction scores low.
func (p *Predictor) confidence(sub []records.GlucoseReading, rate decimal.Decimal) float64 {
	pointsFactor := float64(len(sub)) / 10.0
	if pointsFactor > 1 {
		pointsFactor = 1
	}

	overall := rate.Sign()
	deltas := len(sub) - 1
	matching := 0.0
	for i := 1; i < len(sub); i++ {
		d := sub[i].Value - sub[i-1].Value
		switch {
		case d == 0 && overall == 0:
			matching++
		case d > 0 && overall > 0, d < 0 && overall < 0:
			matching++
		case d == 0:
			matching += 0.5
		}
	}

	consistency := 0.5
	if deltas > 0 {
		consistency = matching / float64(deltas)
	}

	confidence := 0.6*pointsFactor + 0.4*consistency
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
