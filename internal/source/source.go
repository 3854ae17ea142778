package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnreachable indicates the telemetry source could not be contacted.
	ErrUnreachable = errors.New("source: unreachable")
	// ErrTimeout indicates the fetch exceeded its deadline.
	ErrTimeout = errors.New("source: timeout")
)

// Entry is a raw glucose sample as returned by the telemetry API.
type Entry struct {
	ID         string     `json:"_id"`
	SGV        LooseFloat `json:"sgv"`
	Date       int64      `json:"date"`
	DateString string     `json:"dateString"`
	Direction  string     `json:"direction"`
	Trend      int        `json:"trend"`
	Device     string     `json:"device"`
	Type       string     `json:"type"`
	Units      string     `json:"units"`
}

// Treatment is a raw treatment event as returned by the telemetry API.
type Treatment struct {
	ID          string     `json:"_id"`
	EventType   string     `json:"eventType"`
	CreatedAt   string     `json:"created_at"`
	Timestamp   string     `json:"timestamp"`
	Carbs       LooseFloat `json:"carbs"`
	Protein     LooseFloat `json:"protein"`
	Fat         LooseFloat `json:"fat"`
	Insulin     LooseFloat `json:"insulin"`
	Duration    LooseFloat `json:"duration"`
	Notes       string     `json:"notes"`
	Glucose     LooseFloat `json:"glucose"`
	GlucoseType string     `json:"glucoseType"`
	Units       string     `json:"units"`
}

// When returns the best available event timestamp string.
func (t Treatment) When() string {
	if t.CreatedAt != "" {
		return t.CreatedAt
	}
	return t.Timestamp
}

// EntryFetcher retrieves glucose samples for a time window.
type EntryFetcher interface {
	FetchEntries(ctx context.Context, from, to time.Time) ([]Entry, error)
}

// TreatmentFetcher retrieves treatment events for a time window.
type TreatmentFetcher interface {
	FetchTreatments(ctx context.Context, from, to time.Time) ([]Treatment, error)
}

// Source aggregates both telemetry feeds.
type Source interface {
	EntryFetcher
	TreatmentFetcher
}

// LooseFloat decodes numeric fields the upstream sometimes transmits as
// strings or omits entirely.
type LooseFloat float64

// UnmarshalJSON accepts a number, a quoted number, null, or "".
func (f *LooseFloat) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("parse numeric string %q: %w", s, err)
		}
		*f = LooseFloat(parsed)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = LooseFloat(v)
	return nil
}

// Float64 unwraps the value.
func (f LooseFloat) Float64() float64 {
	return float64(f)
}
