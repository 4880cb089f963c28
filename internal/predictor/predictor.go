package predictor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// ErrUnknownCarrier is returned when a tracking number matches no carrier.
var ErrUnknownCarrier = fmt.Errorf("%w: unrecognised tracking number", domain.ErrInvalidInput)

// DelayPredictor estimates the delay risk of one real-world target: a
// tracking number, a transit line or a flight number.
type DelayPredictor interface {
	Kind() domain.CrisisKind
	Predict(ctx context.Context, target string) (domain.CrisisSignal, error)
}

// Delivery predicts package delays for one carrier.
type Delivery struct {
	client  *Client
	carrier string
	now     func() time.Time
}

// NewDelivery creates a delivery predictor for carrier ("amazon", "ups",
// "fedex").
func NewDelivery(c *Client, carrier string) *Delivery {
	return &Delivery{client: c, carrier: carrier, now: time.Now}
}

func (d *Delivery) Kind() domain.CrisisKind { return domain.CrisisDelivery }

// Predict calls POST /ai/predict-delivery.
func (d *Delivery) Predict(ctx context.Context, tracking string) (domain.CrisisSignal, error) {
	tracking = strings.TrimSpace(tracking)
	if tracking == "" {
		return domain.CrisisSignal{}, domain.Invalid("tracking number is required")
	}
	var p prediction
	req := map[string]string{"tracking": tracking, "carrier": d.carrier}
	if err := d.client.do(ctx, http.MethodPost, "/ai/predict-delivery", nil, req, &p); err != nil {
		return domain.CrisisSignal{}, err
	}
	return signal(domain.CrisisDelivery, d.carrier, tracking, p, d.now()), nil
}

// Transit predicts line delays for one transit system.
type Transit struct {
	client *Client
	system string
	now    func() time.Time
}

// NewTransit creates a transit predictor for system ("nyc_subway", "bus",
// "train").
func NewTransit(c *Client, system string) *Transit {
	return &Transit{client: c, system: system, now: time.Now}
}

func (t *Transit) Kind() domain.CrisisKind { return domain.CrisisTransit }

// Predict calls POST /ai/predict-transit. The target is a line, optionally
// followed by "@station".
func (t *Transit) Predict(ctx context.Context, target string) (domain.CrisisSignal, error) {
	line, station, _ := strings.Cut(strings.TrimSpace(target), "@")
	if line == "" {
		return domain.CrisisSignal{}, domain.Invalid("transit line is required")
	}
	var p prediction
	req := map[string]string{"line": line, "station": station, "system": t.system}
	if err := t.client.do(ctx, http.MethodPost, "/ai/predict-transit", nil, req, &p); err != nil {
		return domain.CrisisSignal{}, err
	}
	sig := signal(domain.CrisisTransit, t.system, line, p, t.now())
	if sig.Location == "" {
		sig.Location = station
	}
	return sig, nil
}

// Flight predicts arrival delays by IATA flight number.
type Flight struct {
	client *Client
	now    func() time.Time
}

// NewFlight creates a flight predictor.
func NewFlight(c *Client) *Flight {
	return &Flight{client: c, now: time.Now}
}

func (f *Flight) Kind() domain.CrisisKind { return domain.CrisisFlight }

// Predict calls GET /flight/{iata}.
func (f *Flight) Predict(ctx context.Context, iata string) (domain.CrisisSignal, error) {
	iata = strings.ToUpper(strings.TrimSpace(iata))
	if !validIATA(iata) {
		return domain.CrisisSignal{}, domain.Invalid("invalid flight number " + iata)
	}
	var p prediction
	if err := f.client.do(ctx, http.MethodGet, "/flight/"+url.PathEscape(iata), nil, nil, &p); err != nil {
		return domain.CrisisSignal{}, err
	}
	return signal(domain.CrisisFlight, "aviation", iata, p, f.now()), nil
}

// validIATA accepts a two character airline code followed by 1-4 digits.
func validIATA(s string) bool {
	if len(s) < 3 || len(s) > 6 {
		return false
	}
	for i, r := range s {
		switch {
		case i < 2 && (unicode.IsUpper(r) || unicode.IsDigit(r)):
		case i >= 2 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

func signal(kind domain.CrisisKind, provider, target string, p prediction, now time.Time) domain.CrisisSignal {
	loc := p.Location
	if loc == "" {
		loc = p.Station
	}
	return domain.CrisisSignal{
		Kind:                  kind,
		Provider:              provider,
		Target:                target,
		Location:              loc,
		Probability:           clamp01(p.Probability),
		PredictedDelayMinutes: p.delayMinutes(),
		Confidence:            clamp01(p.Confidence),
		ObservedAt:            now.UTC(),
	}
}

// CarrierFor infers the carrier from a tracking number: "1Z" prefixes are
// UPS, "TBA" prefixes are Amazon and 12 digit numbers are FedEx.
func CarrierFor(tracking string) string {
	t := strings.ToUpper(strings.TrimSpace(tracking))
	switch {
	case strings.HasPrefix(t, "1Z"):
		return "ups"
	case strings.HasPrefix(t, "TBA"):
		return "amazon"
	case len(t) == 12 && strings.IndexFunc(t, func(r rune) bool { return !unicode.IsDigit(r) }) < 0:
		return "fedex"
	}
	return ""
}

// DeliveryRouter picks the carrier predictor from the tracking number.
type DeliveryRouter struct {
	carriers map[string]DelayPredictor
}

// NewDeliveryRouter routes to the given per-carrier predictors.
func NewDeliveryRouter(carriers map[string]DelayPredictor) *DeliveryRouter {
	return &DeliveryRouter{carriers: carriers}
}

func (r *DeliveryRouter) Kind() domain.CrisisKind { return domain.CrisisDelivery }

// Predict routes tracking to its carrier.
func (r *DeliveryRouter) Predict(ctx context.Context, tracking string) (domain.CrisisSignal, error) {
	p, ok := r.carriers[CarrierFor(tracking)]
	if !ok {
		return domain.CrisisSignal{}, ErrUnknownCarrier
	}
	return p.Predict(ctx, tracking)
}

// Registry maps crisis kinds and providers to predictors.
type Registry struct {
	byKind map[domain.CrisisKind]map[string]DelayPredictor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[domain.CrisisKind]map[string]DelayPredictor)}
}

// Register adds p under provider. An empty provider is the kind's default.
func (r *Registry) Register(provider string, p DelayPredictor) {
	m, ok := r.byKind[p.Kind()]
	if !ok {
		m = make(map[string]DelayPredictor)
		r.byKind[p.Kind()] = m
	}
	m[strings.ToLower(provider)] = p
}

// Lookup returns the predictor for kind and provider, falling back to the
// kind's default.
func (r *Registry) Lookup(kind domain.CrisisKind, provider string) (DelayPredictor, error) {
	m := r.byKind[kind]
	if p, ok := m[strings.ToLower(provider)]; ok {
		return p, nil
	}
	if p, ok := m[""]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: no predictor for %s/%s", domain.ErrInvalidInput, kind, provider)
}

// Cached serves repeated predictions for the same subject from a
// SignalCache.
type Cached struct {
	next     DelayPredictor
	provider string
	cache    domain.SignalCache
	ttl      time.Duration
}

// NewCached wraps next. provider must match the Provider field next sets.
func NewCached(next DelayPredictor, provider string, cache domain.SignalCache, ttl time.Duration) *Cached {
	return &Cached{next: next, provider: provider, cache: cache, ttl: ttl}
}

func (c *Cached) Kind() domain.CrisisKind { return c.next.Kind() }

// Predict returns a cached signal when one is fresh, otherwise asks next and
// caches the answer. Cache failures fall through to next.
func (c *Cached) Predict(ctx context.Context, target string) (domain.CrisisSignal, error) {
	key := domain.CrisisSignal{Kind: c.next.Kind(), Provider: c.provider, Target: strings.TrimSpace(target)}.Key()
	if sig, err := c.cache.Get(ctx, key); err == nil {
		return sig, nil
	}
	sig, err := c.next.Predict(ctx, target)
	if err != nil {
		return domain.CrisisSignal{}, err
	}
	_ = c.cache.Set(ctx, key, sig, c.ttl)
	return sig, nil
}
