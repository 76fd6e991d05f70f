package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Miner mines simple frequency-based region patterns from the audit trail.
type Miner struct {
	source Source
	logger *slog.Logger
}

// NewMiner constructs a Miner reading from source.
func NewMiner(logger *slog.Logger, source Source) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{source: source, logger: logger}
}

// MineTarget loads the last limit audit records for target and mines them.
func (m *Miner) MineTarget(ctx context.Context, target string, limit int) (models.HistorySummary, error) {
	if m.source == nil {
		return models.HistorySummary{}, errors.New("audit source not configured")
	}
	records, err := m.source.Recent(ctx, target, limit)
	if err != nil {
		return models.HistorySummary{}, fmt.Errorf("load audit history: %w", err)
	}
	summary := Mine(target, records)
	m.logger.Debug("audit history mined", slog.String("target", target), slog.Int("cycles", summary.Cycles), slog.Int("regions", len(summary.Regions)))
	return summary, nil
}

// Mine aggregates records into a history summary. Only live decisions that
// left the engine count towards region patterns and flaps; replays and
// duplicates are counted as outcomes only.
func Mine(target string, records []models.AuditRecord) models.HistorySummary {
	summary := models.HistorySummary{
		Target:   target,
		Outcomes: make(map[models.AuditOutcome]int),
		Regions:  []models.RegionPattern{},
	}

	ordered := append([]models.AuditRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	regionStats := make(map[string]*regionAggregate)
	decided := 0
	var prev *models.Decision
	for _, rec := range ordered {
		summary.Cycles++
		summary.Outcomes[rec.Outcome]++
		if rec.Escalated {
			summary.Escalations++
		}
		if rec.Replay || rec.Final == nil {
			continue
		}
		if rec.Outcome != models.AuditAccepted && rec.Outcome != models.AuditDowngraded {
			continue
		}
		decided++
		final := rec.Final
		if prev != nil && (prev.Status == models.StatusHealthy) != (final.Status == models.StatusHealthy) {
			summary.Flaps++
		}
		prev = final

		for _, region := range final.AffectedRegions {
			agg := ensureAggregate(regionStats, region)
			agg.count++
			agg.actions[final.RecommendedAction]++
			if rec.CreatedAt.After(agg.lastSeen) {
				agg.lastSeen = rec.CreatedAt
			}
		}
	}

	for region, agg := range regionStats {
		summary.Regions = append(summary.Regions, models.RegionPattern{
			Region:         region,
			Occurrences:    agg.count,
			Prevalence:     float64(agg.count) / float64(decided),
			LastSeen:       agg.lastSeen,
			Actions:        agg.actions,
			DominantAction: agg.dominantAction(),
		})
	}
	sort.Slice(summary.Regions, func(i, j int) bool {
		if summary.Regions[i].Prevalence == summary.Regions[j].Prevalence {
			return summary.Regions[i].Region < summary.Regions[j].Region
		}
		return summary.Regions[i].Prevalence > summary.Regions[j].Prevalence
	})
	return summary
}

type regionAggregate struct {
	count    int
	lastSeen time.Time
	actions  map[models.Action]int
}

func ensureAggregate(m map[string]*regionAggregate, region string) *regionAggregate {
	if region == "" {
		region = "unknown"
	}
	agg, ok := m[region]
	if !ok {
		agg = &regionAggregate{actions: make(map[models.Action]int)}
		m[region] = agg
	}
	return agg
}

// dominantAction picks the most frequent action; ties go to the name that
// sorts first so the result is stable.
func (agg *regionAggregate) dominantAction() models.Action {
	best, bestCount := models.ActionNone, -1
	for action, count := range agg.actions {
		if count > bestCount || (count == bestCount && action < best) {
			best, bestCount = action, count
		}
	}
	return best
}
