// Package oracle defines the rule-evaluation capability consumed by the
// orchestrator and its implementations. The oracle is an opaque scoring
// collaborator: the orchestrator treats its results as bounded-confidence
// JSON-shaped answers and degrades to a non-match on any failure.
package oracle

import (
	"context"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// EvalContext carries the per-event analysis already computed, giving the
// oracle correlation context without another round trip.
type EvalContext struct {
	Behavioral *model.BehavioralResult  `json:"behavioral,omitempty"`
	Graph      *model.CorrelationResult `json:"graph,omitempty"`
	Enrichment *model.Enrichment        `json:"enrichment,omitempty"`
}

// RuleOracle scores rules against events and synthesizes rule
// recommendations. Implementations must respect the context deadline;
// callers convert failures into degraded non-match results.
type RuleOracle interface {
	Evaluate(ctx context.Context, rule *model.DetectionRule, event *model.NormalizedEvent, evalCtx *EvalContext) (*model.RuleMatch, error)
	GenerateRecommendations(ctx context.Context, event *model.NormalizedEvent, results []model.RuleMatch, existing []*model.DetectionRule, knowledge *model.Enrichment) ([]model.Recommendation, error)
}

// NonMatch is the degraded result used when an oracle call times out or
// fails: the event still produces a verdict, just without this rule.
func NonMatch(ruleID string) *model.RuleMatch {
	return &model.RuleMatch{RuleID: ruleID, Matches: false, Confidence: 0}
}
