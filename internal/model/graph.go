package model

import "time"

// RelationshipType classifies a correlation edge between two entities.
type RelationshipType string

const (
	RelCommunicatesWith RelationshipType = "communicates_with"
	RelAccesses         RelationshipType = "accesses"
	RelExecutes         RelationshipType = "executes"
	RelAuthenticatesTo  RelationshipType = "authenticates_to"
	RelCoOccurredIn     RelationshipType = "co_occurred_in"
)

// CorrelationEdge is a decaying, scored relationship between two entities.
// Strength and Confidence are always kept within [0,1].
type CorrelationEdge struct {
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       RelationshipType `json:"type"`
	Strength   float64          `json:"strength"`
	Confidence float64          `json:"confidence"`
	Evidence   []string         `json:"evidence,omitempty"`
	FirstSeen  time.Time        `json:"first_seen"`
	LastSeen   time.Time        `json:"last_seen"`
}

// ChainPattern classifies a threat chain by the relationship types it spans.
type ChainPattern string

const (
	ChainLateralMovement     ChainPattern = "lateral_movement"
	ChainPrivilegeEscalation ChainPattern = "privilege_escalation"
	ChainCommandAndControl   ChainPattern = "command_and_control"
	ChainDataExfiltration    ChainPattern = "data_exfiltration"
	ChainSuspiciousActivity  ChainPattern = "suspicious_activity"
)

// ThreatChain is a connected subgraph of three or more entities classified
// as a multi-step attack pattern. It is derived per correlation call and
// never persisted on its own.
type ThreatChain struct {
	Entities  []string          `json:"entities"`
	Edges     []CorrelationEdge `json:"edges"`
	Pattern   ChainPattern      `json:"pattern"`
	RiskScore float64           `json:"risk_score"`
}

// CorrelationResult is the graph engine's output for a single event.
type CorrelationResult struct {
	Correlations    []CorrelationEdge `json:"correlations"`
	NetworkStrength float64           `json:"network_strength"`
	ThreatChains    []ThreatChain     `json:"threat_chains"`
	RiskScore       float64           `json:"risk_score"`
	Recommendations []string          `json:"recommendations,omitempty"`
}
