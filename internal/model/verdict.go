package model

import "time"

// AnomalySeverityDescription returns the tiered human-readable label for a
// deviation percentage.
func AnomalySeverityDescription(deviationPct float64) string {
	switch {
	case deviationPct > 200:
		return "Extreme"
	case deviationPct > 100:
		return "High"
	case deviationPct > 50:
		return "Elevated"
	default:
		return "Unusual"
	}
}

// Anomaly is a single behavioral deviation detected for an entity.
type Anomaly struct {
	EntityID    string      `json:"entity_id"`
	EntityType  EntityType  `json:"entity_type"`
	Pattern     PatternType `json:"pattern"`
	Current     float64     `json:"current"`
	Expected    float64     `json:"expected"`
	Deviation   float64     `json:"deviation"`
	Severity    float64     `json:"severity"`
	Confidence  float64     `json:"confidence"`
	Description string      `json:"description"`
}

// BehavioralResult is the behavioral engine's output for a single event.
type BehavioralResult struct {
	Anomalies  []Anomaly `json:"anomalies"`
	RiskScore  float64   `json:"risk_score"`
	Confidence float64   `json:"confidence"`
}

// RuleMatch is the oracle's evaluation of one rule against one event.
type RuleMatch struct {
	RuleID     string  `json:"rule_id"`
	RuleName   string  `json:"rule_name,omitempty"`
	Matches    bool    `json:"matches"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Enrichment is the knowledge collaborator's read-only lookup result.
// A failed lookup yields the zero value.
type Enrichment struct {
	ThreatMatches   []string `json:"threat_matches,omitempty"`
	AttackPatterns  []string `json:"attack_patterns,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Verdict is the orchestrator's final per-event decision bundle, produced
// exactly once per event ID.
type Verdict struct {
	EventID             string             `json:"event_id"`
	Timestamp           time.Time          `json:"timestamp"`
	MatchedRules        []RuleMatch        `json:"matched_rules"`
	FalsePositiveRisk   float64            `json:"false_positive_risk"`
	NeedsRecommendation bool               `json:"needs_recommendation"`
	Behavioral          *BehavioralResult  `json:"behavioral,omitempty"`
	Correlation         *CorrelationResult `json:"correlation,omitempty"`
	Enrichment          *Enrichment        `json:"enrichment,omitempty"`
	Degraded            []string           `json:"degraded,omitempty"`
}

// Recommendation is a suggested new detection rule produced by the
// recommendation-generation collaborator.
type Recommendation struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Techniques  []string  `json:"techniques,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Feedback is an analyst's disposition of an emitted verdict. It loops
// back into baseline confidence and rule accuracy bookkeeping.
type Feedback struct {
	EventID         string    `json:"event_id,omitempty"`
	EntityID        string    `json:"entity_id,omitempty"`
	RuleID          string    `json:"rule_id,omitempty"`
	IsFalsePositive bool      `json:"is_false_positive"`
	Analyst         string    `json:"analyst,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	ReceivedAt      time.Time `json:"received_at,omitempty"`
}
