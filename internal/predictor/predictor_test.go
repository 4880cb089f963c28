package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

func TestCarrierFor(t *testing.T) {
	tests := []struct {
		tracking string
		want     string
	}{
		{"1Z999AA10123456784", "ups"},
		{"1z999aa10123456784", "ups"},
		{"TBA123456789000", "amazon"},
		{"123456789012", "fedex"},
		{"12345678901A", ""},
		{"9400100000000000000000", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CarrierFor(tt.tracking); got != tt.want {
			t.Errorf("CarrierFor(%q) = %q, want %q", tt.tracking, got, tt.want)
		}
	}
}

func TestDeliveryPredict(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ai/predict-delivery" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "k" {
			t.Errorf("X-API-Key = %q, want k", r.Header.Get("X-API-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"crisis_type":"delivery_delay","probability":0.72,"predicted_delay":89.6,"confidence":0.85,"tracking_number":"1Z1","carrier":"ups"}`))
	}))
	defer server.Close()

	p := NewDelivery(NewClient(server.URL+"/", "k", nil), "ups")
	sig, err := p.Predict(context.Background(), " 1Z1 ")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if gotBody["tracking"] != "1Z1" || gotBody["carrier"] != "ups" {
		t.Errorf("request body = %v", gotBody)
	}
	if sig.Kind != domain.CrisisDelivery || sig.Provider != "ups" || sig.Target != "1Z1" {
		t.Errorf("signal = %+v", sig)
	}
	if sig.PredictedDelayMinutes != 90 || sig.Probability != 0.72 || sig.Confidence != 0.85 {
		t.Errorf("signal numbers = %+v", sig)
	}
}

func TestTransitPredictSplitsStation(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"probability":1.4,"predicted_delay":20,"confidence":0.8}`))
	}))
	defer server.Close()

	sig, err := NewTransit(NewClient(server.URL, "", nil), "nyc_subway").Predict(context.Background(), "L@Bedford Av")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if gotBody["line"] != "L" || gotBody["station"] != "Bedford Av" || gotBody["system"] != "nyc_subway" {
		t.Errorf("request body = %v", gotBody)
	}
	if sig.Probability != 1 {
		t.Errorf("probability = %v, want clamped to 1", sig.Probability)
	}
	if sig.Location != "Bedford Av" {
		t.Errorf("location = %q", sig.Location)
	}
}

func TestFlightPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flight/AA100" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"probability":0,"delay":0}`))
	}))
	defer server.Close()

	f := NewFlight(NewClient(server.URL, "", nil))
	sig, err := f.Predict(context.Background(), "aa100")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if sig.Target != "AA100" || sig.PredictedDelayMinutes != 0 {
		t.Errorf("signal = %+v", sig)
	}
	if _, err := f.Predict(context.Background(), "not a flight"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad iata: err = %v, want ErrInvalidInput", err)
	}
}

func TestFeederErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewFlight(NewClient(server.URL, "", nil)).Predict(context.Background(), "UA1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v, want APIError 502", err)
	}
}

type stubPredictor struct {
	kind  domain.CrisisKind
	calls int
	sig   domain.CrisisSignal
}

func (s *stubPredictor) Kind() domain.CrisisKind { return s.kind }

func (s *stubPredictor) Predict(_ context.Context, target string) (domain.CrisisSignal, error) {
	s.calls++
	sig := s.sig
	sig.Target = target
	return sig, nil
}

func TestDeliveryRouter(t *testing.T) {
	ups := &stubPredictor{kind: domain.CrisisDelivery, sig: domain.CrisisSignal{Provider: "ups"}}
	fedex := &stubPredictor{kind: domain.CrisisDelivery, sig: domain.CrisisSignal{Provider: "fedex"}}
	r := NewDeliveryRouter(map[string]DelayPredictor{"ups": ups, "fedex": fedex})

	sig, err := r.Predict(context.Background(), "123456789012")
	if err != nil || sig.Provider != "fedex" {
		t.Errorf("Predict = %+v, %v; want fedex", sig, err)
	}
	if _, err := r.Predict(context.Background(), "TBA1"); !errors.Is(err, ErrUnknownCarrier) {
		t.Errorf("unrouted carrier: err = %v, want ErrUnknownCarrier", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	subway := &stubPredictor{kind: domain.CrisisTransit}
	flight := &stubPredictor{kind: domain.CrisisFlight}
	reg.Register("nyc_subway", subway)
	reg.Register("", flight)

	if p, err := reg.Lookup(domain.CrisisTransit, "NYC_SUBWAY"); err != nil || p != subway {
		t.Errorf("Lookup transit = %v, %v", p, err)
	}
	if p, err := reg.Lookup(domain.CrisisFlight, "anything"); err != nil || p != flight {
		t.Errorf("Lookup flight default = %v, %v", p, err)
	}
	if _, err := reg.Lookup(domain.CrisisTransit, "bus"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Lookup missing: err = %v", err)
	}
}

type memSignalCache struct {
	mu   sync.Mutex
	sigs map[string]domain.CrisisSignal
}

func (m *memSignalCache) Set(_ context.Context, key string, sig domain.CrisisSignal, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sigs == nil {
		m.sigs = make(map[string]domain.CrisisSignal)
	}
	m.sigs[key] = sig
	return nil
}

func (m *memSignalCache) Get(_ context.Context, key string) (domain.CrisisSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.sigs[key]
	if !ok {
		return domain.CrisisSignal{}, domain.ErrNotFound
	}
	return sig, nil
}

func TestCachedPredictor(t *testing.T) {
	next := &stubPredictor{kind: domain.CrisisFlight, sig: domain.CrisisSignal{Kind: domain.CrisisFlight, Provider: "aviation", Probability: 0.6}}
	c := NewCached(next, "aviation", &memSignalCache{}, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sig, err := c.Predict(ctx, "UA1")
		if err != nil || sig.Probability != 0.6 {
			t.Fatalf("Predict = %+v, %v", sig, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("feeder called %d times, want 1", next.calls)
	}
}

func TestFeederOracle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/outcome" || q.Get("kind") != "flight" || q.Get("target") != "UA1" || q.Get("threshold") != "45" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"resolved":true,"delayed":true,"actual_delay":70}`))
	}))
	defer server.Close()

	o := NewFeederOracle(NewClient(server.URL, "", nil))
	out, err := o.Outcome(context.Background(), domain.CrisisSignal{Kind: domain.CrisisFlight, Provider: "aviation", Target: "UA1"}, 45)
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !out.Known || !out.Delayed || out.ActualMinute != 70 {
		t.Errorf("outcome = %+v", out)
	}
}
