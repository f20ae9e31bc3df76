// Package behavioral maintains per-entity statistical baselines and scores
// incoming events against them.
package behavioral

import (
	"sync"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// TimingHistogram buckets observed activity by time of day and week.
type TimingHistogram struct {
	BusinessHours int64        `json:"business_hours"`
	AfterHours    int64        `json:"after_hours"`
	Weekend       int64        `json:"weekend"`
	HoursSeen     map[int]bool `json:"hours_seen"`
}

// Observe increments the bucket matching the given timestamp.
func (h *TimingHistogram) Observe(ts time.Time) {
	if h.HoursSeen == nil {
		h.HoursSeen = make(map[int]bool)
	}
	hour := ts.Hour()
	h.HoursSeen[hour] = true

	switch ts.Weekday() {
	case time.Saturday, time.Sunday:
		h.Weekend++
	default:
		if hour >= 9 && hour < 18 {
			h.BusinessHours++
		} else {
			h.AfterHours++
		}
	}
}

// PatternStats tracks the exponentially-weighted statistics for one
// pattern type of one entity.
type PatternStats struct {
	MeanEMA      float64         `json:"mean_ema"`
	VarianceEMA  float64         `json:"variance_ema"`
	SampleWeight float64         `json:"sample_weight"`
	Timing       TimingHistogram `json:"timing"`
}

// Baseline is the behavioral profile of a single entity. Baselines are
// owned exclusively by the Store; callers receive defensive copies.
type Baseline struct {
	EntityID    string                              `json:"entity_id"`
	EntityType  model.EntityType                    `json:"entity_type"`
	Patterns    map[model.PatternType]*PatternStats `json:"patterns"`
	Confidence  float64                             `json:"confidence"`
	CreatedAt   time.Time                           `json:"created_at"`
	LastUpdated time.Time                           `json:"last_updated"`
}

func (b *Baseline) clone() *Baseline {
	cp := *b
	cp.Patterns = make(map[model.PatternType]*PatternStats, len(b.Patterns))
	for pt, stats := range b.Patterns {
		sc := *stats
		sc.Timing.HoursSeen = make(map[int]bool, len(stats.Timing.HoursSeen))
		for h, v := range stats.Timing.HoursSeen {
			sc.Timing.HoursSeen[h] = v
		}
		cp.Patterns[pt] = &sc
	}
	return &cp
}

// Store holds all entity baselines. Mutations are serialized by the
// orchestrator's per-entity worker sharding; the mutex guards against
// background sweeps and read-side snapshots.
type Store struct {
	mu                sync.RWMutex
	baselines         map[string]*Baseline
	initialConfidence float64
}

// NewStore creates an empty baseline store. New baselines start at the
// given initial confidence.
func NewStore(initialConfidence float64) *Store {
	return &Store{
		baselines:         make(map[string]*Baseline),
		initialConfidence: initialConfidence,
	}
}

// View returns a copy of the entity's baseline, or false when no baseline
// exists yet. The copy reflects pre-update state by construction.
func (s *Store) View(entityID string) (*Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[entityID]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// Ensure lazily creates a baseline for the entity on first sighting and
// returns whether one was created.
func (s *Store) Ensure(ref model.EntityRef, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baselines[ref.ID]; ok {
		return false
	}
	s.baselines[ref.ID] = &Baseline{
		EntityID:    ref.ID,
		EntityType:  ref.Type,
		Patterns:    make(map[model.PatternType]*PatternStats),
		Confidence:  s.initialConfidence,
		CreatedAt:   now,
		LastUpdated: now,
	}
	metrics.BaselinesTracked.Set(float64(len(s.baselines)))
	return true
}

// Mutate applies fn to the entity's baseline under the store lock,
// creating the baseline first when absent.
func (s *Store) Mutate(ref model.EntityRef, now time.Time, fn func(*Baseline)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[ref.ID]
	if !ok {
		b = &Baseline{
			EntityID:    ref.ID,
			EntityType:  ref.Type,
			Patterns:    make(map[model.PatternType]*PatternStats),
			Confidence:  s.initialConfidence,
			CreatedAt:   now,
			LastUpdated: now,
		}
		s.baselines[ref.ID] = b
		metrics.BaselinesTracked.Set(float64(len(s.baselines)))
	}
	fn(b)
	b.LastUpdated = now
}

// PenalizeConfidence lowers an entity's baseline confidence in response
// to false-positive feedback, never below floor. Returns false when the
// entity is unknown.
func (s *Store) PenalizeConfidence(entityID string, penalty, floor float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[entityID]
	if !ok {
		return false
	}
	b.Confidence -= penalty
	if b.Confidence < floor {
		b.Confidence = floor
	}
	return true
}

// Sweep removes baselines whose last update is older than the retention
// window. Returns the number removed.
func (s *Store) Sweep(retention time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-retention)
	removed := 0
	for id, b := range s.baselines {
		if b.LastUpdated.Before(cutoff) {
			delete(s.baselines, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.BaselinesTracked.Set(float64(len(s.baselines)))
	}
	return removed
}

// Len returns the number of tracked baselines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// Snapshot returns copies of every baseline, for persistence.
func (s *Store) Snapshot() []*Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Baseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b.clone())
	}
	return out
}

// Restore loads previously persisted baselines, replacing any existing
// entry for the same entity. Used at startup before intake begins.
func (s *Store) Restore(baselines []*Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range baselines {
		if b == nil || b.EntityID == "" {
			continue
		}
		s.baselines[b.EntityID] = b.clone()
	}
	metrics.BaselinesTracked.Set(float64(len(s.baselines)))
}
