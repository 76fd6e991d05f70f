package models

import "time"

// RegionPattern summarises how often a region shows up as affected in a
// target's audit trail.
type RegionPattern struct {
	Region         string         `json:"region"`
	Occurrences    int            `json:"occurrences"`
	Prevalence     float64        `json:"prevalence"`
	LastSeen       time.Time      `json:"last_seen"`
	Actions        map[Action]int `json:"actions"`
	DominantAction Action         `json:"dominant_action"`
}

// HistorySummary is mined from the most recent audit records of one target.
type HistorySummary struct {
	Target      string               `json:"target"`
	Cycles      int                  `json:"cycles"`
	Outcomes    map[AuditOutcome]int `json:"outcomes"`
	Escalations int                  `json:"escalations"`
	Flaps       int                  `json:"flaps"`
	Regions     []RegionPattern      `json:"regions"`
}
