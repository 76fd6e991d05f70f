package models

import (
	"fmt"
	"time"
)

// Status is the overall health verdict of a decision.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// Valid reports whether s is a known decision status.
func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Action is the remediation the execution layer is asked to carry out.
type Action string

const (
	ActionNone     Action = "NONE"
	ActionFailover Action = "FAILOVER"
	ActionScaleUp  Action = "SCALE_UP"
	ActionRollback Action = "ROLLBACK"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionFailover, ActionScaleUp, ActionRollback:
		return true
	}
	return false
}

// Aggressive reports whether the action reroutes or reverts traffic.
func (a Action) Aggressive() bool {
	return a == ActionFailover || a == ActionRollback
}

// Decision is the engine output. Field names and enum values are the wire
// contract with the execution layer.
type Decision struct {
	Timestamp         time.Time `json:"timestamp"`
	Status            Status    `json:"status"`
	Confidence        float64   `json:"confidence"`
	Reasoning         string    `json:"reasoning"`
	RecommendedAction Action    `json:"recommended_action"`
	AffectedRegions   []string  `json:"affected_regions"`
	SimilarIncidents  []string  `json:"similar_incidents"`
	RollbackActionID  string    `json:"rollback_action_id,omitempty"`
}

// Clone returns a deep copy so callers never share slices.
func (d Decision) Clone() Decision {
	out := d
	out.AffectedRegions = append([]string{}, d.AffectedRegions...)
	out.SimilarIncidents = append([]string{}, d.SimilarIncidents...)
	return out
}

// DecisionKey identifies a decision for deduplication across redeliveries.
func DecisionKey(target string, ts time.Time) string {
	return fmt.Sprintf("%s@%d", target, ts.UTC().UnixNano())
}

// IntakeMessage is enqueued to the execution layer for every accepted decision.
type IntakeMessage struct {
	DecisionKey        string   `json:"decision_key"`
	Target             string   `json:"target"`
	EscalationRequired bool     `json:"escalation_required"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`
	Decision           Decision `json:"decision"`
}

// Escalation asks a human operator to look at a target.
type Escalation struct {
	Target      string    `json:"target"`
	CycleID     string    `json:"cycle_id"`
	DecisionKey string    `json:"decision_key,omitempty"`
	Reason      string    `json:"reason"`
	RaisedAt    time.Time `json:"raised_at"`
}
