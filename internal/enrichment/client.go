// Package enrichment provides the knowledge-enrichment collaborator
// client. Lookups are read-only and timeout-bounded; failures degrade to
// empty results rather than aborting the event.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// Enricher looks up threat knowledge for an event.
type Enricher interface {
	Enrich(ctx context.Context, event *model.NormalizedEvent) (*model.Enrichment, error)
}

// HTTPClient calls a remote knowledge service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an enrichment client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enrich performs the knowledge lookup.
func (c *HTTPClient) Enrich(ctx context.Context, event *model.NormalizedEvent) (*model.Enrichment, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/enrich", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrichment returned %d", resp.StatusCode)
	}

	var result model.Enrichment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment response: %w", err)
	}
	return &result, nil
}

// Noop is used when no knowledge service is configured.
type Noop struct{}

// Enrich returns empty results.
func (Noop) Enrich(ctx context.Context, event *model.NormalizedEvent) (*model.Enrichment, error) {
	return &model.Enrichment{}, nil
}
