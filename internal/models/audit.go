package models

import "time"

// AuditOutcome records what happened to a synthesized decision.
type AuditOutcome string

const (
	AuditAccepted        AuditOutcome = "accepted"
	AuditDowngraded      AuditOutcome = "downgraded"
	AuditRejected        AuditOutcome = "rejected"
	AuditSynthesisFailed AuditOutcome = "synthesis_failed"
	AuditDuplicate       AuditOutcome = "duplicate"
)

// AuditRecord is an append-only trail entry for one analysis cycle.
type AuditRecord struct {
	ID          string       `json:"id"`
	CycleID     string       `json:"cycle_id"`
	Target      string       `json:"target"`
	DecisionKey string       `json:"decision_key,omitempty"`
	Outcome     AuditOutcome `json:"outcome"`
	Reason      string       `json:"reason,omitempty"`
	Escalated   bool         `json:"escalated"`
	Replay      bool         `json:"replay"`
	Candidate   *Decision    `json:"candidate,omitempty"`
	Final       *Decision    `json:"final,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
