package model

// Tier is a heuristic confidence label. It never derives from p-values.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Rank orders tiers for sorting: High > Medium > Low.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// Evidence is the raw per-candidate result of pass one plus co-occurrence tallies.
type Evidence struct {
	EventsScore         float64    `json:"events_score"`
	EventsOverlap       int        `json:"events_overlap"`
	BestLagSec          int64      `json:"best_lag_sec"`
	LagLabel            string     `json:"lag_label"`
	CooccurrenceScore   float64    `json:"cooccurrence_score"`
	CooccurrenceCount   int        `json:"cooccurrence_count"`
	CooccurrenceBuckets Timestamps `json:"cooccurrence_buckets"`
	FocusEvents         int        `json:"focus_events"`
	CandidateEvents     int        `json:"candidate_events"`
	Episodes            []Episode  `json:"episodes"`
}

// RankedCandidate is a candidate that survived blending.
type RankedCandidate struct {
	SensorID     string   `json:"sensor_id"`
	Evidence     Evidence `json:"evidence"`
	BlendedScore float64  `json:"blended_score"`
	Confidence   Tier     `json:"confidence"`
}

// CellStatus annotates why a correlation cell does or does not carry values.
type CellStatus string

const (
	CellOK                  CellStatus = "ok"
	CellNotSignificant      CellStatus = "not_significant"
	CellInsufficientOverlap CellStatus = "insufficient_overlap"
	CellNotComputed         CellStatus = "not_computed"
)

// CorrelationCell is one entry of a correlation matrix. Nil pointers render as null.
type CorrelationCell struct {
	R      *float64   `json:"r"`
	RLow   *float64   `json:"r_low"`
	RHigh  *float64   `json:"r_high"`
	P      *float64   `json:"p"`
	Q      *float64   `json:"q"`
	N      int        `json:"n"`
	NEff   int        `json:"n_eff"`
	Status CellStatus `json:"status"`
}

// SkippedSensor records a pool member that was not analysed.
type SkippedSensor struct {
	SensorID string `json:"sensor_id"`
	Reason   string `json:"reason"`
}

// Skip reasons.
const (
	SkipExternalProvider = "external_provider"
	SkipNoData           = "no_data"
	SkipUnknownSensor    = "unknown_sensor"
	SkipDependency       = "invalid_dependency"
	SkipReadError        = "read_error"
)
