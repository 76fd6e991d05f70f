package telemetry

import (
	"sort"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/extractors"
	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

var (
	latencySpikes = extractors.NewLatencyExtractor(0)
	rcodeSurges   = extractors.NewRcodeExtractor(time.Minute)
)

// Aggregate groups records by region. Each region keeps its own current and
// worst status so one timing-out region is never averaged away by the others.
func Aggregate(target string, start, end time.Time, records []models.TelemetryRecord, expected []string) models.TelemetryWindow {
	byRegion := make(map[string][]models.TelemetryRecord)
	for _, rec := range records {
		if rec.Region == "" {
			continue
		}
		byRegion[rec.Region] = append(byRegion[rec.Region], rec)
	}

	window := models.TelemetryWindow{
		Target:   target,
		Start:    start.UTC(),
		End:      end.UTC(),
		Records:  len(records),
		Regions:  make(map[string]models.RegionStats, len(byRegion)),
		Expected: append([]string(nil), expected...),
	}
	for region, recs := range byRegion {
		window.Regions[region] = regionStats(region, recs)
	}
	for _, region := range expected {
		if _, ok := window.Regions[region]; !ok {
			window.Unknown = append(window.Unknown, region)
		}
	}
	sort.Strings(window.Unknown)
	return window
}

func regionStats(region string, recs []models.TelemetryRecord) models.RegionStats {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})

	stats := models.RegionStats{
		Region:        region,
		Samples:       len(recs),
		Worst:         models.ProbeHealthy,
		ResponseCodes: make(map[string]int),
	}
	latencies := make([]float64, 0, len(recs))
	for _, rec := range recs {
		status := rec.Status
		if !status.Valid() {
			// Unknown statuses are treated as degraded rather than silently healthy.
			status = models.ProbeDegraded
		}
		switch status {
		case models.ProbeHealthy:
			stats.Healthy++
		case models.ProbeDegraded:
			stats.Degraded++
		case models.ProbeTimeout:
			stats.Timeouts++
		}
		if status.Worse(stats.Worst) {
			stats.Worst = status
		}
		if status == models.ProbeHealthy {
			stats.ErrorStreak = 0
		} else {
			stats.ErrorStreak++
		}
		if status != models.ProbeTimeout && rec.LatencyMS > 0 {
			latencies = append(latencies, rec.LatencyMS)
		}
		if rec.LatencyMS > stats.MaxLatencyMS {
			stats.MaxLatencyMS = rec.LatencyMS
		}
		if rec.ResponseCode != "" {
			stats.ResponseCodes[rec.ResponseCode]++
		}
		stats.Current = status
		stats.LastSeen = rec.Timestamp.UTC()
	}
	stats.P50LatencyMS = utils.Percentile(latencies, 50)
	stats.P95LatencyMS = utils.Percentile(latencies, 95)
	stats.LatencySpikes = len(latencySpikes.Detect(recs))
	stats.RcodeSurges = len(rcodeSurges.Detect(recs))
	return stats
}
