package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// ErrQueryTimeout signals that the correlation query ran out of time.
// The orchestrator degrades to an empty correlation result and scores the
// event on the behavioral signal alone.
var ErrQueryTimeout = errors.New("graph query timeout")

// Weights for co-occurrence edges created between entities appearing in
// the same event. These are the entry point for previously-unconnected
// entities.
const (
	coOccurrenceStrength   = 0.5
	coOccurrenceConfidence = 0.8
)

// Engine runs graph correlation for incoming events. Correlate both
// queries and updates the graph: the update depends on the co-occurrence
// set computed during correlation, so the two are not split into
// separate calls.
type Engine struct {
	store *Store
	cfg   config.GraphConfig
	log   *logging.Logger
}

// NewEngine creates a graph correlation engine over the given store.
func NewEngine(store *Store, cfg config.GraphConfig, log *logging.Logger) *Engine {
	return &Engine{store: store, cfg: cfg, log: log.With("component", "graph")}
}

// Store exposes the underlying graph store for background jobs.
func (e *Engine) Store() *Store {
	return e.store
}

// Correlate analyzes the event against the current graph window and then
// applies the graph update for the event. Returns ErrQueryTimeout when
// the context expires during the read phase; no update is applied in
// that case.
func (e *Engine) Correlate(ctx context.Context, event *model.NormalizedEvent) (*model.CorrelationResult, error) {
	refs := event.EntityRefs()

	result, err := e.query(ctx, event, refs)
	if err != nil {
		return nil, err
	}

	e.update(event, refs)
	return result, nil
}

// Query runs the read-only correlation phase without mutating the graph.
// Given an unchanged store it is deterministic.
func (e *Engine) Query(ctx context.Context, event *model.NormalizedEvent) (*model.CorrelationResult, error) {
	return e.query(ctx, event, event.EntityRefs())
}

func (e *Engine) query(ctx context.Context, event *model.NormalizedEvent, refs []model.EntityRef) (*model.CorrelationResult, error) {
	result := &model.CorrelationResult{
		Correlations: []model.CorrelationEdge{},
		ThreatChains: []model.ThreatChain{},
	}
	if len(refs) == 0 {
		return result, nil
	}

	since := event.Timestamp.Add(-e.cfg.CorrelationWindow)

	// Collect candidate edges touching any event entity within the window.
	seen := make(map[edgeKey]bool)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			metrics.GraphQueryTimeouts.Inc()
			return nil, fmt.Errorf("%w: %v", ErrQueryTimeout, err)
		}
		for _, edge := range e.store.EdgesTouching(ref.ID, since, e.cfg.MinCorrelationStrength) {
			key := keyFor(&edge)
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Correlations = append(result.Correlations, edge)
		}
	}

	sortEdges(result.Correlations)

	if len(result.Correlations) == 0 {
		return result, nil
	}

	var strengthSum, weightedSum float64
	for _, edge := range result.Correlations {
		strengthSum += edge.Strength
		weightedSum += edge.Strength * edge.Confidence
	}
	n := float64(len(result.Correlations))
	result.NetworkStrength = clamp01(strengthSum / n)
	correlationRisk := clamp01(weightedSum / n)

	var chainRisk float64
	for _, component := range connectedComponents(result.Correlations) {
		if len(component.entities) < e.cfg.ChainMinEntities {
			continue
		}
		chain := buildChain(component)
		if chain.RiskScore <= e.cfg.ChainRiskThreshold {
			continue
		}
		result.ThreatChains = append(result.ThreatChains, chain)
		result.Recommendations = append(result.Recommendations, chainRecommendation(chain))
		metrics.ThreatChainsDetected.WithLabelValues(string(chain.Pattern)).Inc()
		if chain.RiskScore > chainRisk {
			chainRisk = chain.RiskScore
		}
	}

	result.RiskScore = clamp01(0.6*correlationRisk + 0.4*chainRisk)
	return result, nil
}

// update upserts entity nodes, refreshes candidate edges and creates
// co-occurrence edges between every pair of entities in the event.
func (e *Engine) update(event *model.NormalizedEvent, refs []model.EntityRef) {
	for _, ref := range refs {
		e.store.UpsertEntity(ref, event.Source, event.Timestamp)
	}

	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			if refs[i].ID == refs[j].ID {
				continue
			}
			e.store.UpsertEdge(model.CorrelationEdge{
				SourceID:   refs[i].ID,
				TargetID:   refs[j].ID,
				Type:       model.RelCoOccurredIn,
				Strength:   coOccurrenceStrength,
				Confidence: coOccurrenceConfidence,
				Evidence:   []string{event.ID},
				LastSeen:   event.Timestamp,
			})
		}
	}

	// Refresh inferred relationships the event itself expresses.
	for _, edge := range inferRelationships(event, refs) {
		e.store.UpsertEdge(edge)
	}
}

// inferRelationships derives typed edges from the event's structure:
// users access files, processes execute on hosts, hosts communicate
// with network endpoints.
func inferRelationships(event *model.NormalizedEvent, refs []model.EntityRef) []model.CorrelationEdge {
	var out []model.CorrelationEdge
	add := func(src, dst string, typ model.RelationshipType) {
		out = append(out, model.CorrelationEdge{
			SourceID:   src,
			TargetID:   dst,
			Type:       typ,
			Strength:   0.6,
			Confidence: 0.7,
			Evidence:   []string{event.ID},
			LastSeen:   event.Timestamp,
		})
	}
	for _, a := range refs {
		for _, b := range refs {
			if a.ID == b.ID {
				continue
			}
			switch {
			case a.Type == model.EntityUser && b.Type == model.EntityFile:
				add(a.ID, b.ID, model.RelAccesses)
			case a.Type == model.EntityUser && b.Type == model.EntityHost:
				add(a.ID, b.ID, model.RelAuthenticatesTo)
			case a.Type == model.EntityHost && b.Type == model.EntityProcess:
				add(a.ID, b.ID, model.RelExecutes)
			case a.Type == model.EntityHost && b.Type == model.EntityNetwork:
				add(a.ID, b.ID, model.RelCommunicatesWith)
			}
		}
	}
	return out
}

type component struct {
	entities []string
	edges    []model.CorrelationEdge
}

// connectedComponents partitions the candidate edge set into maximal
// connected subgraphs via depth-first traversal over an undirected
// adjacency map. Every entity appears in exactly one component.
func connectedComponents(edges []model.CorrelationEdge) []component {
	adjacent := make(map[string][]int)
	for i, e := range edges {
		adjacent[e.SourceID] = append(adjacent[e.SourceID], i)
		adjacent[e.TargetID] = append(adjacent[e.TargetID], i)
	}

	ids := make([]string, 0, len(adjacent))
	for id := range adjacent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var components []component

	for _, start := range ids {
		if visited[start] {
			continue
		}
		var comp component
		edgeSeen := make(map[int]bool)
		stack := []string{start}
		visited[start] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp.entities = append(comp.entities, id)
			for _, ei := range adjacent[id] {
				if !edgeSeen[ei] {
					edgeSeen[ei] = true
					comp.edges = append(comp.edges, edges[ei])
				}
				other := edges[ei].SourceID
				if other == id {
					other = edges[ei].TargetID
				}
				if !visited[other] {
					visited[other] = true
					stack = append(stack, other)
				}
			}
		}
		sort.Strings(comp.entities)
		sortEdges(comp.edges)
		components = append(components, comp)
	}
	return components
}

// classifyPattern inspects the distinct relationship types inside a
// component against a fixed lookup table. Order matters: the first match
// wins.
func classifyPattern(edges []model.CorrelationEdge) model.ChainPattern {
	types := make(map[model.RelationshipType]bool)
	for _, e := range edges {
		types[e.Type] = true
	}
	switch {
	case types[model.RelCommunicatesWith] && types[model.RelAccesses]:
		return model.ChainLateralMovement
	case types[model.RelExecutes] && types[model.RelAccesses]:
		return model.ChainPrivilegeEscalation
	case types[model.RelCommunicatesWith] && len(types) > 2:
		return model.ChainCommandAndControl
	case types[model.RelAccesses] && len(types) > 3:
		return model.ChainDataExfiltration
	default:
		return model.ChainSuspiciousActivity
	}
}

func buildChain(comp component) model.ThreatChain {
	var strengthSum, confidenceSum float64
	for _, e := range comp.edges {
		strengthSum += e.Strength
		confidenceSum += e.Confidence
	}
	n := float64(len(comp.edges))
	avgStrength, avgConfidence := 0.0, 0.0
	if n > 0 {
		avgStrength = strengthSum / n
		avgConfidence = confidenceSum / n
	}

	risk := 0.4*math.Min(1, float64(len(comp.entities))/10) +
		0.4*avgStrength +
		0.2*avgConfidence

	return model.ThreatChain{
		Entities:  comp.entities,
		Edges:     comp.edges,
		Pattern:   classifyPattern(comp.edges),
		RiskScore: clamp01(risk),
	}
}

func chainRecommendation(chain model.ThreatChain) string {
	return fmt.Sprintf("Investigate %s chain spanning %d entities (risk %.2f)",
		string(chain.Pattern), len(chain.Entities), chain.RiskScore)
}

// sortEdges orders edges by strength descending, breaking ties on the
// edge key so the result is deterministic.
func sortEdges(edges []model.CorrelationEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Strength != edges[j].Strength {
			return edges[i].Strength > edges[j].Strength
		}
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		if edges[i].TargetID != edges[j].TargetID {
			return edges[i].TargetID < edges[j].TargetID
		}
		return edges[i].Type < edges[j].Type
	})
}
