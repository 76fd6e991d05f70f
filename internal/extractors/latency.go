package extractors

import (
	"math"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

const minLatencySamples = 5

// LatencySpike is a probe whose latency stands out from its region's window.
type LatencySpike struct {
	Timestamp time.Time
	LatencyMS float64
	Score     float64
	Threshold float64
}

// LatencyExtractor flags latency spikes using a z-score over the window.
type LatencyExtractor struct {
	threshold float64
}

// NewLatencyExtractor creates a detector. A non-positive threshold defaults to 2.5.
func NewLatencyExtractor(threshold float64) *LatencyExtractor {
	if threshold <= 0 {
		threshold = 2.5
	}
	return &LatencyExtractor{threshold: threshold}
}

// Detect returns the spikes among recs. Timeouts carry no usable latency and
// are skipped; windows with too few samples yield nothing.
func (e *LatencyExtractor) Detect(recs []models.TelemetryRecord) []LatencySpike {
	values := make([]float64, 0, len(recs))
	for _, rec := range recs {
		if rec.Status != models.ProbeTimeout && rec.LatencyMS > 0 {
			values = append(values, rec.LatencyMS)
		}
	}
	if len(values) < minLatencySamples {
		return nil
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	stdDev := math.Sqrt(variance / float64(len(values)))
	if stdDev == 0 {
		return nil
	}

	var spikes []LatencySpike
	for _, rec := range recs {
		if rec.Status == models.ProbeTimeout || rec.LatencyMS <= 0 {
			continue
		}
		score := (rec.LatencyMS - mean) / stdDev
		if score >= e.threshold {
			spikes = append(spikes, LatencySpike{
				Timestamp: rec.Timestamp,
				LatencyMS: rec.LatencyMS,
				Score:     score,
				Threshold: e.threshold,
			})
		}
	}
	return spikes
}
