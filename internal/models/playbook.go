package models

import "time"

// PlaybookEntry is a historical incident or runbook owned by the retrieval index.
type PlaybookEntry struct {
	IncidentID       string    `json:"incident_id" yaml:"incident_id"`
	SummaryText      string    `json:"summary_text" yaml:"summary_text"`
	Embedding        []float32 `json:"embedding_vector,omitempty" yaml:"-"`
	ResolutionAction Action    `json:"resolution_action" yaml:"resolution_action"`
	Outcome          string    `json:"outcome" yaml:"outcome"`
	Score            float64   `json:"score,omitempty" yaml:"-"`
}

// Incident references a stored past incident that can be replayed.
type Incident struct {
	IncidentID string
	Target     string
	Start      time.Time
	End        time.Time
}
