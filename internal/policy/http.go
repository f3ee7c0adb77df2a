package policy

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

// DefaultTimeout bounds one decision query.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a decision response is read.
const maxResponseBytes = 1 << 20

// HTTPDecider queries an OPA server through its data API:
// POST <baseURL>/v1/data/<path> with body {"input": ...}.
type HTTPDecider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDecider returns an HTTPDecider for baseURL (e.g.
// "http://opa:8181"). A nil client gets a default one bounded by timeout;
// non-positive timeouts use DefaultTimeout.
func NewHTTPDecider(baseURL string, client *http.Client, timeout time.Duration) *HTTPDecider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPDecider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// URL returns the full decision URL for path.
func (d *HTTPDecider) URL(path string) string {
	return d.baseURL + "/v1/data/" + strings.Trim(path, "/")
}

// Query implements Decider.
func (d *HTTPDecider) Query(ctx context.Context, path string, input any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("%w: encode input: %v", ErrEvaluation, err)
	}

	url := d.URL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request %s: %v", ErrEvaluation, url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrEvaluation, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response from %s: %v", ErrEvaluation, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", ErrEvaluation, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var doc struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode response from %s: %v", ErrEvaluation, url, err)
	}
	return doc.Result, nil
}
