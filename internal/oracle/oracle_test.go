package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

func TestHeuristicOracle_Evaluate(t *testing.T) {
	o := NewHeuristicOracle()
	ctx := context.Background()

	rule := &model.DetectionRule{
		ID:              "R-1",
		Name:            "Lateral movement via SMB",
		Enabled:         true,
		MitreTechniques: []string{"lateral-movement"},
	}

	tests := []struct {
		name       string
		event      *model.NormalizedEvent
		evalCtx    *EvalContext
		match      bool
		confidence float64
	}{
		{
			name: "event type overlap",
			event: &model.NormalizedEvent{
				ID:        "evt-1",
				EventType: "lateral_movement_detected",
				Risk:      model.RiskAssessment{Confidence: 1.0},
			},
			match:      true,
			confidence: 0.5,
		},
		{
			name: "behavior indicator overlap",
			event: &model.NormalizedEvent{
				ID:         "evt-2",
				EventType:  "network.connection",
				Indicators: model.Indicators{Behaviors: []string{"lateral-movement"}},
				Risk:       model.RiskAssessment{Confidence: 1.0},
			},
			match:      true,
			confidence: 0.2,
		},
		{
			name: "chain pattern overlap",
			event: &model.NormalizedEvent{
				ID:        "evt-3",
				EventType: "network.connection",
				Risk:      model.RiskAssessment{Confidence: 1.0},
			},
			evalCtx: &EvalContext{
				Graph: &model.CorrelationResult{
					ThreatChains: []model.ThreatChain{{Pattern: model.ChainLateralMovement}},
				},
			},
			match:      true,
			confidence: 0.2,
		},
		{
			name: "no overlap",
			event: &model.NormalizedEvent{
				ID:        "evt-4",
				EventType: "file.access",
				Risk:      model.RiskAssessment{Confidence: 1.0},
			},
			match: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := o.Evaluate(ctx, rule, tt.event, tt.evalCtx)
			require.NoError(t, err)
			assert.Equal(t, "R-1", result.RuleID)
			assert.Equal(t, tt.match, result.Matches)
			if tt.match {
				assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)
				assert.NotEmpty(t, result.Reason)
			} else {
				assert.Zero(t, result.Confidence)
			}
		})
	}
}

func TestHeuristicOracle_EvaluateIsDeterministic(t *testing.T) {
	o := NewHeuristicOracle()
	ctx := context.Background()

	rule := &model.DetectionRule{ID: "R-1", MitreTechniques: []string{"brute-force"}}
	event := &model.NormalizedEvent{
		ID:        "evt-1",
		EventType: "brute_force_attempt",
		Risk:      model.RiskAssessment{Confidence: 0.6},
	}

	first, err := o.Evaluate(ctx, rule, event, nil)
	require.NoError(t, err)
	second, err := o.Evaluate(ctx, rule, event, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHeuristicOracle_RuleWithoutTechniques(t *testing.T) {
	o := NewHeuristicOracle()

	result, err := o.Evaluate(context.Background(),
		&model.DetectionRule{ID: "R-1"},
		&model.NormalizedEvent{ID: "evt-1", EventType: "anything"},
		nil)
	require.NoError(t, err)
	assert.False(t, result.Matches)
}

func TestHeuristicOracle_CancelledContext(t *testing.T) {
	o := NewHeuristicOracle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Evaluate(ctx, &model.DetectionRule{ID: "R-1"}, &model.NormalizedEvent{}, nil)
	assert.Error(t, err)
}

func TestHeuristicOracle_GenerateRecommendations(t *testing.T) {
	o := NewHeuristicOracle()

	event := &model.NormalizedEvent{
		ID:         "evt-1",
		EventType:  "dns.tunneling",
		Indicators: model.Indicators{Behaviors: []string{"high_entropy_queries"}},
		Risk:       model.RiskAssessment{Confidence: 0.85},
	}
	knowledge := &model.Enrichment{AttackPatterns: []string{"T1071.004"}}

	recs, err := o.GenerateRecommendations(context.Background(), event, nil, nil, knowledge)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, "evt-1", recs[0].EventID)
	assert.NotEmpty(t, recs[0].ID)
	assert.Contains(t, recs[0].Title, "dns.tunneling")
	assert.Equal(t, []string{"T1071.004"}, recs[0].Techniques)
	assert.Equal(t, 0.85, recs[0].Confidence)
}

func TestHTTPOracle_Evaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/evaluate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v1", req.Version)
		assert.Equal(t, "R-1", req.Rule.ID)

		json.NewEncoder(w).Encode(model.RuleMatch{
			Matches:    true,
			Confidence: 1.7, // out of range on purpose
			Reason:     "model says so",
		})
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	result, err := o.Evaluate(context.Background(),
		&model.DetectionRule{ID: "R-1"},
		&model.NormalizedEvent{ID: "evt-1", EventType: "x"},
		nil)
	require.NoError(t, err)

	assert.Equal(t, "R-1", result.RuleID)
	assert.True(t, result.Matches)
	assert.Equal(t, 1.0, result.Confidence, "confidence must be clamped")
}

func TestHTTPOracle_Timeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	o := NewHTTPOracle(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.Evaluate(ctx, &model.DetectionRule{ID: "R-1"}, &model.NormalizedEvent{}, nil)
	assert.Error(t, err)
}

func TestHTTPOracle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	_, err := o.Evaluate(context.Background(), &model.DetectionRule{ID: "R-1"}, &model.NormalizedEvent{}, nil)
	assert.ErrorContains(t, err, "502")
}

func TestHTTPOracle_GenerateRecommendations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/recommendations", r.URL.Path)
		json.NewEncoder(w).Encode(recommendResponse{
			Recommendations: []model.Recommendation{
				{ID: "rec-1", EventID: "evt-1", Title: "New rule", Confidence: -0.5},
			},
		})
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	recs, err := o.GenerateRecommendations(context.Background(),
		&model.NormalizedEvent{ID: "evt-1"}, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].Confidence, "confidence must be clamped")
}

func TestNonMatch(t *testing.T) {
	m := NonMatch("R-9")
	assert.Equal(t, "R-9", m.RuleID)
	assert.False(t, m.Matches)
	assert.Zero(t, m.Confidence)
}
