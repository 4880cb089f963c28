package predictor

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// Outcome is the feeder's verdict on whether a predicted delay happened.
type Outcome struct {
	Known        bool // false while the real-world event is still pending
	Delayed      bool
	ActualMinute int
}

// OutcomeOracle reports what actually happened to a crisis market's subject.
type OutcomeOracle interface {
	Outcome(ctx context.Context, src domain.CrisisSignal, thresholdMinutes int) (Outcome, error)
}

// FeederOracle asks the feeder's outcome endpoint.
type FeederOracle struct {
	client *Client
}

// NewFeederOracle creates an OutcomeOracle backed by the feeder.
func NewFeederOracle(c *Client) *FeederOracle {
	return &FeederOracle{client: c}
}

// Outcome calls GET /outcome?kind=&provider=&target=&threshold=.
func (o *FeederOracle) Outcome(ctx context.Context, src domain.CrisisSignal, thresholdMinutes int) (Outcome, error) {
	q := url.Values{}
	q.Set("kind", string(src.Kind))
	q.Set("provider", src.Provider)
	q.Set("target", src.Target)
	q.Set("threshold", strconv.Itoa(thresholdMinutes))

	var resp struct {
		Resolved    bool `json:"resolved"`
		Delayed     bool `json:"delayed"`
		ActualDelay int  `json:"actual_delay"`
	}
	if err := o.client.do(ctx, http.MethodGet, "/outcome", q, nil, &resp); err != nil {
		return Outcome{}, err
	}
	return Outcome{Known: resp.Resolved, Delayed: resp.Delayed, ActualMinute: resp.ActualDelay}, nil
}
