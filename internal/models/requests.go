package models

import "time"

// AnalyzeRequest asks the engine to assess the current window for a target.
type AnalyzeRequest struct {
	Target          string
	AsOf            time.Time
	RecentActionIDs []string
}

// ReplayRequest asks the engine to re-analyze a stored past incident.
type ReplayRequest struct {
	IncidentID string
}

// CycleResult summarises one analysis cycle for callers and operators.
type CycleResult struct {
	CycleID    string
	Target     string
	Decision   *Decision
	Outcome    AuditOutcome
	Reasons    []string
	Escalated  bool
	Duplicate  bool
	LowContext bool
	Replay     bool
}
