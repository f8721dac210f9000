package model

import "encoding/json"

// Event is a robust-z-scored step change in one sensor.
type Event struct {
	SensorID string
	TS       int64
	Z        float64
}

// Episode is a run of matched focus events at the best lag.
type Episode struct {
	Start    int64
	End      int64
	Points   int
	MeanAbsZ float64
	PeakAbsZ float64
	Coverage float64
}

// MarshalJSON renders episode bounds as RFC3339.
func (e Episode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start    string  `json:"start"`
		End      string  `json:"end"`
		Points   int     `json:"points"`
		MeanAbsZ float64 `json:"mean_abs_z"`
		PeakAbsZ float64 `json:"peak_abs_z"`
		Coverage float64 `json:"coverage"`
	}{
		Start: FormatUnix(e.Start), End: FormatUnix(e.End), Points: e.Points,
		MeanAbsZ: e.MeanAbsZ, PeakAbsZ: e.PeakAbsZ, Coverage: e.Coverage,
	})
}
