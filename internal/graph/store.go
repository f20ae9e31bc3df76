// Package graph maintains the decaying entity-relationship graph and
// extracts multi-hop threat chains from it.
package graph

import (
	"sync"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

const maxEvidencePerEdge = 20

// EntityNode is a node in the relationship graph.
type EntityNode struct {
	ID         string            `json:"id"`
	Type       model.EntityType  `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	Source     string            `json:"source,omitempty"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
}

type edgeKey struct {
	src string
	dst string
	typ model.RelationshipType
}

// keyFor canonicalizes the edge key. Co-occurrence is symmetric, so its
// endpoints are ordered; directional relationship types keep direction.
func keyFor(e *model.CorrelationEdge) edgeKey {
	src, dst := e.SourceID, e.TargetID
	if e.Type == model.RelCoOccurredIn && src > dst {
		src, dst = dst, src
	}
	return edgeKey{src: src, dst: dst, typ: e.Type}
}

// Store holds the relationship graph as an adjacency map keyed by stable
// entity IDs. All access goes through the store lock; background decay
// and cleanup passes take it exclusively for a bounded slice.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]*EntityNode
	edges     map[edgeKey]*model.CorrelationEdge
	adjacency map[string]map[edgeKey]struct{}
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		entities:  make(map[string]*EntityNode),
		edges:     make(map[edgeKey]*model.CorrelationEdge),
		adjacency: make(map[string]map[edgeKey]struct{}),
	}
}

// UpsertEntity records a sighting of an entity, merging properties.
func (s *Store) UpsertEntity(ref model.EntityRef, source string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entities[ref.ID]
	if !ok {
		s.entities[ref.ID] = &EntityNode{
			ID:        ref.ID,
			Type:      ref.Type,
			Source:    source,
			FirstSeen: now,
			LastSeen:  now,
		}
		return
	}
	n.LastSeen = now
	if source != "" {
		n.Source = source
	}
}

// UpsertEdge merges an edge observation into the graph. Strength and
// confidence take the maximum of the stored and observed values, which
// keeps repeated identical observations idempotent; evidence is appended
// with duplicates dropped; LastSeen advances.
func (s *Store) UpsertEdge(e model.CorrelationEdge) {
	e.Strength = clamp01(e.Strength)
	e.Confidence = clamp01(e.Confidence)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyFor(&e)
	cur, ok := s.edges[key]
	if !ok {
		cp := e
		cp.SourceID, cp.TargetID = key.src, key.dst
		if cp.FirstSeen.IsZero() {
			cp.FirstSeen = cp.LastSeen
		}
		if len(cp.Evidence) > maxEvidencePerEdge {
			cp.Evidence = cp.Evidence[len(cp.Evidence)-maxEvidencePerEdge:]
		}
		s.edges[key] = &cp
		s.link(key.src, key)
		s.link(key.dst, key)
		metrics.GraphEdges.Set(float64(len(s.edges)))
		return
	}

	if e.Strength > cur.Strength {
		cur.Strength = e.Strength
	}
	if e.Confidence > cur.Confidence {
		cur.Confidence = e.Confidence
	}
	if e.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = e.LastSeen
	}
	for _, ev := range e.Evidence {
		if !containsString(cur.Evidence, ev) {
			cur.Evidence = append(cur.Evidence, ev)
		}
	}
	if len(cur.Evidence) > maxEvidencePerEdge {
		cur.Evidence = cur.Evidence[len(cur.Evidence)-maxEvidencePerEdge:]
	}
}

func (s *Store) link(entityID string, key edgeKey) {
	set, ok := s.adjacency[entityID]
	if !ok {
		set = make(map[edgeKey]struct{})
		s.adjacency[entityID] = set
	}
	set[key] = struct{}{}
}

// EdgesTouching returns copies of edges incident to the entity whose
// LastSeen falls at or after since and whose strength meets the minimum.
// Weaker edges may still exist in the store but are invisible to queries.
func (s *Store) EdgesTouching(entityID string, since time.Time, minStrength float64) []model.CorrelationEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CorrelationEdge
	for key := range s.adjacency[entityID] {
		e := s.edges[key]
		if e == nil || e.Strength < minStrength || e.LastSeen.Before(since) {
			continue
		}
		out = append(out, cloneEdge(e))
	}
	return out
}

// Decay multiplies every edge's strength by a recency factor: edges seen
// within 7 days keep full strength, within 30 days retain 80%, older
// edges retain 50%.
func (s *Store) Decay(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		age := now.Sub(e.LastSeen)
		switch {
		case age <= 7*24*time.Hour:
			// Fresh edges do not decay.
		case age <= 30*24*time.Hour:
			e.Strength = clamp01(e.Strength * 0.8)
		default:
			e.Strength = clamp01(e.Strength * 0.5)
		}
	}
}

// Cleanup deletes edges stale beyond the retention window and entities
// left without edges. Returns counts of removed edges and entities.
func (s *Store) Cleanup(retention time.Duration, now time.Time) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-retention)

	removedEdges := 0
	for key, e := range s.edges {
		if e.LastSeen.Before(cutoff) {
			delete(s.edges, key)
			s.unlink(key.src, key)
			s.unlink(key.dst, key)
			removedEdges++
		}
	}

	// Entities carry no graph signal of their own: once their last edge
	// is gone they are removed regardless of when they were last seen.
	// Behavioral baselines track entity recency independently.
	removedEntities := 0
	for id := range s.entities {
		if len(s.adjacency[id]) == 0 {
			delete(s.entities, id)
			delete(s.adjacency, id)
			removedEntities++
		}
	}

	if removedEdges > 0 {
		metrics.GraphEdges.Set(float64(len(s.edges)))
	}
	return removedEdges, removedEntities
}

func (s *Store) unlink(entityID string, key edgeKey) {
	if set, ok := s.adjacency[entityID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.adjacency, entityID)
		}
	}
}

// EdgeCount returns the number of edges in the graph.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// EntityCount returns the number of entity nodes in the graph.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// SnapshotEdges returns copies of every edge, for persistence.
func (s *Store) SnapshotEdges() []model.CorrelationEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CorrelationEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, cloneEdge(e))
	}
	return out
}

// RestoreEdges loads previously persisted edges at startup.
func (s *Store) RestoreEdges(edges []model.CorrelationEdge) {
	for _, e := range edges {
		s.UpsertEdge(e)
	}
}

func cloneEdge(e *model.CorrelationEdge) model.CorrelationEdge {
	cp := *e
	cp.Evidence = append([]string(nil), e.Evidence...)
	return cp
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
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
