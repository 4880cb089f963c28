package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote triggers scans and sweeps on the server that owns the ledger. A
// monitor-only process schedules through it and never holds ledger state of
// its own.
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemote creates a Remote for the server at baseURL. apiKey is the admin
// key. A nil httpClient gets a one minute timeout.
func NewRemote(baseURL, apiKey string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Scan runs one crisis scan on the server.
// POST /api/crisis/scan
func (r *Remote) Scan(ctx context.Context) (ScanReport, error) {
	var rep ScanReport
	if err := r.post(ctx, "/api/crisis/scan", &rep); err != nil {
		return ScanReport{}, err
	}
	return rep, nil
}

// Sweep resolves expired markets on the server and returns how many were
// resolved.
// POST /api/crisis/sweep
func (r *Remote) Sweep(ctx context.Context) (int, error) {
	var out struct {
		Resolved int `json:"resolved"`
	}
	if err := r.post(ctx, "/api/crisis/sweep", &out); err != nil {
		return 0, err
	}
	return out.Resolved, nil
}

func (r *Remote) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("monitor: remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("monitor: remote %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("monitor: remote read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("monitor: remote %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("monitor: remote decode %s: %w", path, err)
	}
	return nil
}
