package models

import (
	"sort"
	"time"
)

// ProbeStatus is the health verdict the sensing layer attaches to a probe.
type ProbeStatus string

const (
	ProbeHealthy  ProbeStatus = "HEALTHY"
	ProbeDegraded ProbeStatus = "DEGRADED"
	ProbeTimeout  ProbeStatus = "TIMEOUT"
)

// Valid reports whether s is a known probe status.
func (s ProbeStatus) Valid() bool {
	switch s {
	case ProbeHealthy, ProbeDegraded, ProbeTimeout:
		return true
	}
	return false
}

// rank orders statuses by severity so the worst one can be kept per region.
func (s ProbeStatus) rank() int {
	switch s {
	case ProbeTimeout:
		return 2
	case ProbeDegraded:
		return 1
	default:
		return 0
	}
}

// Worse reports whether s is more severe than other.
func (s ProbeStatus) Worse(other ProbeStatus) bool {
	return s.rank() > other.rank()
}

// TelemetryRecord is one DNS probe result produced by the sensing layer.
type TelemetryRecord struct {
	Timestamp    time.Time   `json:"timestamp"`
	Region       string      `json:"region"`
	Target       string      `json:"target"`
	QueryType    string      `json:"query_type"`
	LatencyMS    float64     `json:"latency_ms"`
	Status       ProbeStatus `json:"status"`
	Nameserver   string      `json:"nameserver"`
	ResponseCode string      `json:"response_code"`
}

// RegionStats aggregates the records of a single region inside a window.
type RegionStats struct {
	Region        string
	Samples       int
	Healthy       int
	Degraded      int
	Timeouts      int
	Current       ProbeStatus
	Worst         ProbeStatus
	ErrorStreak   int
	P50LatencyMS  float64
	P95LatencyMS  float64
	MaxLatencyMS  float64
	LatencySpikes int
	RcodeSurges   int
	LastSeen      time.Time
	ResponseCodes map[string]int
}

// ErrorRate is the share of non-healthy samples.
func (r RegionStats) ErrorRate() float64 {
	if r.Samples == 0 {
		return 0
	}
	return float64(r.Degraded+r.Timeouts) / float64(r.Samples)
}

// HasImpact reports whether the region produced any non-healthy sample.
func (r RegionStats) HasImpact() bool {
	return r.Degraded+r.Timeouts > 0
}

// TelemetryWindow aggregates telemetry for one target over a trailing interval.
// It is built once per analysis cycle and must not be mutated afterwards.
type TelemetryWindow struct {
	Target   string
	Start    time.Time
	End      time.Time
	Records  int
	Regions  map[string]RegionStats
	Expected []string
	Unknown  []string
}

// RegionNames returns the regions with at least one record, sorted.
func (w TelemetryWindow) RegionNames() []string {
	names := make([]string, 0, len(w.Regions))
	for name := range w.Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRegion reports whether the region contributed records to the window.
func (w TelemetryWindow) HasRegion(region string) bool {
	_, ok := w.Regions[region]
	return ok
}

// NonHealthyCount counts regions whose latest probe was not healthy.
func (w TelemetryWindow) NonHealthyCount() int {
	count := 0
	for _, stats := range w.Regions {
		if stats.Current != ProbeHealthy {
			count++
		}
	}
	return count
}

// AllHealthy reports whether every present region only produced healthy samples.
func (w TelemetryWindow) AllHealthy() bool {
	if len(w.Regions) == 0 {
		return false
	}
	for _, stats := range w.Regions {
		if stats.HasImpact() {
			return false
		}
	}
	return true
}
