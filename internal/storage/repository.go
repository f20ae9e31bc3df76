// Package storage persists baselines, edges, rules and recommendations.
// Persistence is fire-and-forget from the orchestrator's perspective:
// in-memory state is authoritative between persists, and a failed write
// is reconciled by the next successful one.
package storage

import (
	"context"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// Repository is the persistence contract consumed by the persister and
// the startup restore path.
type Repository interface {
	SaveBaseline(ctx context.Context, baseline *behavioral.Baseline) error
	SaveEdge(ctx context.Context, edge model.CorrelationEdge) error
	SaveRule(ctx context.Context, rule *model.DetectionRule) error
	SaveRecommendation(ctx context.Context, rec *model.Recommendation) error
	LoadBaselines(ctx context.Context) ([]*behavioral.Baseline, error)
	LoadEdges(ctx context.Context) ([]model.CorrelationEdge, error)
	LoadRules(ctx context.Context) ([]*model.DetectionRule, error)
	Close()
}
