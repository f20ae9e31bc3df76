package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// HTTPOracle calls a remote model-backed evaluation service over HTTP.
// Request and response bodies follow the versioned contract below; the
// transport enforces the configured timeout on every call.
type HTTPOracle struct {
	baseURL string
	http    *http.Client
}

// NewHTTPOracle creates an oracle client for the given base URL.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	Version string                 `json:"version"`
	Rule    *model.DetectionRule   `json:"rule"`
	Event   *model.NormalizedEvent `json:"event"`
	Context *EvalContext           `json:"context,omitempty"`
}

type recommendRequest struct {
	Version  string                 `json:"version"`
	Event    *model.NormalizedEvent `json:"event"`
	Results  []model.RuleMatch      `json:"results,omitempty"`
	Existing []*model.DetectionRule `json:"existing_rules,omitempty"`
	Know     *model.Enrichment      `json:"knowledge,omitempty"`
}

type recommendResponse struct {
	Recommendations []model.Recommendation `json:"recommendations"`
}

// Evaluate scores one rule against one event.
func (o *HTTPOracle) Evaluate(ctx context.Context, rule *model.DetectionRule, event *model.NormalizedEvent, evalCtx *EvalContext) (*model.RuleMatch, error) {
	var result model.RuleMatch
	req := evaluateRequest{Version: "v1", Rule: rule, Event: event, Context: evalCtx}
	if err := o.post(ctx, "/api/v1/evaluate", req, &result); err != nil {
		return nil, err
	}
	result.RuleID = rule.ID
	result.Confidence = clamp01(result.Confidence)
	return &result, nil
}

// GenerateRecommendations asks the oracle to synthesize new rule
// recommendations for an uncovered detection.
func (o *HTTPOracle) GenerateRecommendations(ctx context.Context, event *model.NormalizedEvent, results []model.RuleMatch, existing []*model.DetectionRule, knowledge *model.Enrichment) ([]model.Recommendation, error) {
	var resp recommendResponse
	req := recommendRequest{Version: "v1", Event: event, Results: results, Existing: existing, Know: knowledge}
	if err := o.post(ctx, "/api/v1/recommendations", req, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Recommendations {
		resp.Recommendations[i].Confidence = clamp01(resp.Recommendations[i].Confidence)
	}
	return resp.Recommendations, nil
}

func (o *HTTPOracle) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("oracle call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode oracle response: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
