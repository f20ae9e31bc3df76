// Package model defines the shared data types flowing through the
// correlation pipeline: normalized events, entities, edges, chains,
// rules and verdicts.
package model

import "time"

// EntityType classifies an entity referenced by an event.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityHost    EntityType = "host"
	EntityProcess EntityType = "process"
	EntityFile    EntityType = "file"
	EntityNetwork EntityType = "network"
)

// EntityRef identifies an entity by a stable opaque ID and its type.
type EntityRef struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
}

// PatternType identifies a behavioral pattern tracked per entity.
type PatternType string

const (
	PatternLogin                PatternType = "login"
	PatternDataAccess           PatternType = "data_access"
	PatternNetworkCommunication PatternType = "network_communication"
	PatternFileOperations       PatternType = "file_operations"
	PatternProcessExecution     PatternType = "process_execution"
	PatternPrivilegeEscalation  PatternType = "privilege_escalation"
)

// AllPatternTypes lists every tracked pattern type.
func AllPatternTypes() []PatternType {
	return []PatternType{
		PatternLogin,
		PatternDataAccess,
		PatternNetworkCommunication,
		PatternFileOperations,
		PatternProcessExecution,
		PatternPrivilegeEscalation,
	}
}

// EventEntities groups the entity identifiers referenced by an event.
type EventEntities struct {
	Users     []string `json:"users,omitempty"`
	Hosts     []string `json:"hosts,omitempty"`
	Networks  []string `json:"networks,omitempty"`
	Processes []string `json:"processes,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// NetworkContext carries connection details when the event involves
// network activity.
type NetworkContext struct {
	Protocol    string `json:"protocol,omitempty"`
	SourceIP    string `json:"source_ip,omitempty"`
	DestIP      string `json:"dest_ip,omitempty"`
	DestPort    int    `json:"dest_port,omitempty"`
	Direction   string `json:"direction,omitempty"`
	BytesSent   int64  `json:"bytes_sent,omitempty"`
	BytesRecv   int64  `json:"bytes_recv,omitempty"`
	Established bool   `json:"established,omitempty"`
}

// TimeContext carries coarse timing attributes derived at normalization.
type TimeContext struct {
	Hour       int    `json:"hour"`
	DayOfWeek  string `json:"day_of_week,omitempty"`
	AfterHours bool   `json:"after_hours,omitempty"`
}

// EventContext describes the action the event represents.
type EventContext struct {
	Action   string          `json:"action,omitempty"`
	Resource string          `json:"resource,omitempty"`
	Network  *NetworkContext `json:"network,omitempty"`
	Time     *TimeContext    `json:"time,omitempty"`
}

// Indicators carries detection signals attached by upstream collectors.
type Indicators struct {
	IOCs      []string `json:"iocs,omitempty"`
	Behaviors []string `json:"behaviors,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// RiskAssessment is the upstream collector's own risk estimate.
type RiskAssessment struct {
	Score      float64  `json:"score"`
	Factors    []string `json:"factors,omitempty"`
	Confidence float64  `json:"confidence"`
}

// NormalizedEvent is the canonical event shape entering the pipeline.
type NormalizedEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source,omitempty"`
	EventType  string         `json:"event_type"`
	Entities   EventEntities  `json:"entities"`
	Context    EventContext   `json:"context"`
	Indicators Indicators     `json:"indicators"`
	Risk       RiskAssessment `json:"risk"`
}

// EntityRefs returns every entity referenced by the event, typed.
func (e *NormalizedEvent) EntityRefs() []EntityRef {
	refs := make([]EntityRef, 0,
		len(e.Entities.Users)+len(e.Entities.Hosts)+len(e.Entities.Networks)+
			len(e.Entities.Processes)+len(e.Entities.Files))
	for _, id := range e.Entities.Users {
		refs = append(refs, EntityRef{ID: id, Type: EntityUser})
	}
	for _, id := range e.Entities.Hosts {
		refs = append(refs, EntityRef{ID: id, Type: EntityHost})
	}
	for _, id := range e.Entities.Networks {
		refs = append(refs, EntityRef{ID: id, Type: EntityNetwork})
	}
	for _, id := range e.Entities.Processes {
		refs = append(refs, EntityRef{ID: id, Type: EntityProcess})
	}
	for _, id := range e.Entities.Files {
		refs = append(refs, EntityRef{ID: id, Type: EntityFile})
	}
	return refs
}

// PrimaryEntity returns the entity used for worker sharding. Users take
// precedence over hosts, hosts over the remaining types; events for the
// same primary entity always land on the same worker.
func (e *NormalizedEvent) PrimaryEntity() string {
	if len(e.Entities.Users) > 0 {
		return e.Entities.Users[0]
	}
	if len(e.Entities.Hosts) > 0 {
		return e.Entities.Hosts[0]
	}
	refs := e.EntityRefs()
	if len(refs) > 0 {
		return refs[0].ID
	}
	return e.ID
}
