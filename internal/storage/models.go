package storage

import (
	"time"

	"cgm-trend-alerts/internal/records"
)

// StoredReading is a glucose reading as persisted, with insertion metadata.
// The insertion id breaks ordering ties so range queries are reproducible.
type StoredReading struct {
	ID        int64
	Reading   records.GlucoseReading
	CreatedAt time.Time
}

// StoredTreatment is a treatment record as persisted.
type StoredTreatment struct {
	ID        int64
	Treatment records.TreatmentRecord
	CreatedAt time.Time
}

// AlertEvent captures a risk-level transition. Mutated only by acknowledgment.
type AlertEvent struct {
	ID             int64
	CreatedAt      time.Time
	Level          string
	CurrentMgdl    int
	PredictedMin   int
	HorizonMinutes int
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

// RiskState is the single-row record the assessor reads and writes to detect
// transitions across process restarts.
type RiskState struct {
	Level       string
	EpisodeOpen bool
	UpdatedAt   time.Time
}

// AlertFilter narrows alert history queries. Zero values mean "no filter".
type AlertFilter struct {
	Level        string
	Acknowledged *bool
	Since        *time.Time
	Limit        int
}
