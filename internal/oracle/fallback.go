package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// HeuristicOracle is the deterministic rule-based fallback used when no
// remote oracle is configured. It scores rules on indicator and technique
// overlap with the event.
type HeuristicOracle struct{}

// NewHeuristicOracle creates the fallback oracle.
func NewHeuristicOracle() *HeuristicOracle {
	return &HeuristicOracle{}
}

// Evaluate matches a rule when its top MITRE technique overlaps the event
// type or any reported behavior, with confidence scaled by the strength
// of the overlap and the event's own risk confidence.
func (o *HeuristicOracle) Evaluate(ctx context.Context, rule *model.DetectionRule, event *model.NormalizedEvent, evalCtx *EvalContext) (*model.RuleMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	technique := normalize(rule.TopTechnique())
	if technique == "" {
		return NonMatch(rule.ID), nil
	}

	score := 0.0
	var reasons []string

	if overlaps(normalize(event.EventType), technique) {
		score += 0.5
		reasons = append(reasons, "event type matches technique")
	}
	for _, behavior := range event.Indicators.Behaviors {
		if overlaps(normalize(behavior), technique) {
			score += 0.2
			reasons = append(reasons, "behavior indicator matches technique")
			break
		}
	}
	if evalCtx != nil && evalCtx.Graph != nil && len(evalCtx.Graph.ThreatChains) > 0 {
		for _, chain := range evalCtx.Graph.ThreatChains {
			if overlaps(normalize(string(chain.Pattern)), technique) {
				score += 0.2
				reasons = append(reasons, "threat chain pattern matches technique")
				break
			}
		}
	}

	if score == 0 {
		return NonMatch(rule.ID), nil
	}

	confidence := clamp01(score * (0.5 + 0.5*event.Risk.Confidence))
	return &model.RuleMatch{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Matches:    true,
		Confidence: confidence,
		Reason:     strings.Join(reasons, "; "),
	}, nil
}

// GenerateRecommendations produces a single template recommendation from
// the event's type and indicators.
func (o *HeuristicOracle) GenerateRecommendations(ctx context.Context, event *model.NormalizedEvent, results []model.RuleMatch, existing []*model.DetectionRule, knowledge *model.Enrichment) ([]model.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	techniques := []string{}
	if knowledge != nil {
		techniques = append(techniques, knowledge.AttackPatterns...)
	}

	rec := model.Recommendation{
		ID:      uuid.New().String(),
		EventID: event.ID,
		Title:   fmt.Sprintf("Add detection coverage for %s", event.EventType),
		Description: fmt.Sprintf(
			"High-confidence %s activity observed with no matching rule. Observed behaviors: %s.",
			event.EventType, strings.Join(event.Indicators.Behaviors, ", ")),
		Techniques: techniques,
		Confidence: event.Risk.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	return []model.Recommendation{rec}, nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return s
}

func overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	for _, tok := range strings.Fields(a) {
		if len(tok) >= 4 && strings.Contains(b, tok) {
			return true
		}
	}
	return false
}
