package domain

import "time"

// CrisisKind tags the family of disruption a signal describes.
type CrisisKind string

const (
	CrisisDelivery CrisisKind = "delivery"
	CrisisTransit  CrisisKind = "transit"
	CrisisFlight   CrisisKind = "flight"
)

// Valid reports whether k is one of the known kinds.
func (k CrisisKind) Valid() bool {
	switch k {
	case CrisisDelivery, CrisisTransit, CrisisFlight:
		return true
	}
	return false
}

// CrisisSignal is a delay estimate produced by a prediction feeder. It feeds
// market creation only and is never ledger accounting state.
type CrisisSignal struct {
	Kind                  CrisisKind `json:"kind"`
	Provider              string     `json:"provider"` // "amazon", "ups", "nyc_subway", ...
	Target                string     `json:"target"`   // tracking number, line, flight IATA
	Location              string     `json:"location,omitempty"`
	Probability           float64    `json:"probability"`
	PredictedDelayMinutes int        `json:"predictedDelayMinutes"`
	Confidence            float64    `json:"confidence"`
	ObservedAt            time.Time  `json:"observedAt"`
}

// Key identifies the real-world subject of a signal for duplicate checks.
func (s CrisisSignal) Key() string {
	return string(s.Kind) + ":" + s.Provider + ":" + s.Target
}
