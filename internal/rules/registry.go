// Package rules holds the in-memory registry of deployed detection rules
// and their analyst-feedback accuracy bookkeeping.
package rules

import (
	"strings"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// Registry is the authoritative in-memory set of detection rules. It is
// loaded from the YAML catalog and/or the database at startup; persistence
// is fire-and-forget afterwards.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*model.DetectionRule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*model.DetectionRule)}
}

// Upsert adds or replaces a rule.
func (r *Registry) Upsert(rule *model.DetectionRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rule
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.rules[cp.ID] = &cp
}

// Get returns a copy of the rule, or false when unknown.
func (r *Registry) Get(id string) (*model.DetectionRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, false
	}
	cp := *rule
	return &cp, true
}

// Enabled returns copies of all enabled rules.
func (r *Registry) Enabled() []*model.DetectionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.DetectionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Enabled {
			cp := *rule
			out = append(out, &cp)
		}
	}
	return out
}

// All returns copies of every rule.
func (r *Registry) All() []*model.DetectionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.DetectionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		cp := *rule
		out = append(out, &cp)
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// RecordOutcome applies analyst feedback to a rule's true/false-positive
// counters and recomputes its accuracy and precision. Returns a copy of
// the updated rule, or false when the rule is unknown.
func (r *Registry) RecordOutcome(ruleID string, falsePositive bool) (*model.DetectionRule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[ruleID]
	if !ok {
		return nil, false
	}
	rule.RecordOutcome(falsePositive)
	cp := *rule
	return &cp, true
}

// CoversEventType reports whether any enabled rule's top MITRE technique
// overlaps the event type. This is deliberately a minimal fuzzy match
// (substring overlap after normalization), intended only to avoid obvious
// duplicate recommendations.
func (r *Registry) CoversEventType(eventType string) bool {
	needle := normalizeTerm(eventType)
	if needle == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		technique := normalizeTerm(rule.TopTechnique())
		if technique == "" {
			continue
		}
		if strings.Contains(technique, needle) || strings.Contains(needle, technique) {
			return true
		}
		if tokenOverlap(needle, technique) {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return s
}

// tokenOverlap reports whether any token of a (four characters or more)
// appears inside b.
func tokenOverlap(a, b string) bool {
	for _, tok := range strings.Fields(a) {
		if len(tok) >= 4 && strings.Contains(b, tok) {
			return true
		}
	}
	return false
}
