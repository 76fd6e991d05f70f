package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dnssentinel/sentinel-brain/internal/config"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// RuleSynthesizer is a deterministic synthesizer driven by a YAML rule pack.
// It stands in for the model in local runs and when inference is not wanted.
type RuleSynthesizer struct {
	rules      []Rule
	thresholds config.Thresholds
	logger     *slog.Logger
}

// Rule maps a telemetry pattern to a decision. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	ID       string       `yaml:"id"`
	Match    RuleMatch    `yaml:"match"`
	Decision RuleDecision `yaml:"decision"`
}

// RuleMatch conditions are combined with AND; zero values are ignored.
type RuleMatch struct {
	MinTimeoutRegions    int     `yaml:"minTimeoutRegions"`
	MinTimeoutStreak     int     `yaml:"minTimeoutStreak"`
	MinNonHealthyRegions int     `yaml:"minNonHealthyRegions"`
	MinErrorRate         float64 `yaml:"minErrorRate"`
	MinP95LatencyMS      float64 `yaml:"minP95LatencyMs"`
	OverLatencyBudget    bool    `yaml:"overLatencyBudget"`
}

// RuleDecision is the outcome proposed when a rule matches.
type RuleDecision struct {
	Status     models.Status `yaml:"status"`
	Action     models.Action `yaml:"action"`
	Confidence float64       `yaml:"confidence"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleSynthesizer loads rules from path.
func NewRuleSynthesizer(path string, thresholds config.Thresholds, logger *slog.Logger) (*RuleSynthesizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("rules path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for _, rule := range cfg.Rules {
		if !rule.Decision.Status.Valid() || !rule.Decision.Action.Valid() {
			return nil, fmt.Errorf("rule %s: invalid decision %s/%s", rule.ID, rule.Decision.Status, rule.Decision.Action)
		}
	}
	return &RuleSynthesizer{rules: cfg.Rules, thresholds: thresholds, logger: logger}, nil
}

// Synthesize applies the first matching rule. Windows without any impact are
// reported healthy.
func (s *RuleSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	w := in.Window
	impacted := impactedRegions(w)

	decision := models.Decision{
		Timestamp:         w.End,
		Status:            models.StatusHealthy,
		Confidence:        0.95,
		RecommendedAction: models.ActionNone,
		AffectedRegions:   []string{},
		Reasoning:         fmt.Sprintf("all %d regions with data answered healthy", len(w.Regions)),
	}

	if len(impacted) > 0 {
		decision.Status = models.StatusWarning
		decision.Confidence = 0.5
		decision.AffectedRegions = impacted
		decision.Reasoning = fmt.Sprintf("non-healthy probes in %s but no rule matched", strings.Join(impacted, ", "))

		for _, rule := range s.rules {
			evidence, ok := s.matches(rule.Match, w)
			if !ok {
				continue
			}
			action := rule.Decision.Action
			rollbackID := ""
			if action == models.ActionRollback {
				if len(in.RecentActionIDs) == 0 {
					continue
				}
				rollbackID = in.RecentActionIDs[len(in.RecentActionIDs)-1]
			}
			decision.Status = rule.Decision.Status
			decision.RecommendedAction = action
			decision.Confidence = rule.Decision.Confidence
			decision.RollbackActionID = rollbackID
			decision.Reasoning = fmt.Sprintf("rule %s matched: %s", rule.ID, evidence)
			s.logger.Debug("rule matched", slog.String("target", w.Target), slog.String("rule", rule.ID))
			break
		}
		if decision.Status == models.StatusHealthy {
			decision.AffectedRegions = []string{}
		}
	}

	decision.SimilarIncidents = similarIDs(in.Playbooks, decision.RecommendedAction, in.TopK)
	return Candidate{Decision: decision, Attempts: 1}, nil
}

func (s *RuleSynthesizer) matches(m RuleMatch, w models.TelemetryWindow) (string, bool) {
	var evidence []string

	if m.MinTimeoutRegions > 0 {
		var regions []string
		for _, name := range w.RegionNames() {
			if w.Regions[name].Timeouts > 0 {
				regions = append(regions, name)
			}
		}
		if len(regions) < m.MinTimeoutRegions {
			return "", false
		}
		evidence = append(evidence, fmt.Sprintf("timeouts in %s", strings.Join(regions, ", ")))
	}
	if m.MinTimeoutStreak > 0 {
		var hit []string
		for _, name := range w.RegionNames() {
			st := w.Regions[name]
			if st.Current == models.ProbeTimeout && st.ErrorStreak >= m.MinTimeoutStreak {
				hit = append(hit, fmt.Sprintf("%s (%d consecutive)", name, st.ErrorStreak))
			}
		}
		if len(hit) == 0 {
			return "", false
		}
		evidence = append(evidence, "timeout streak in "+strings.Join(hit, ", "))
	}
	if m.MinNonHealthyRegions > 0 {
		n := w.NonHealthyCount()
		if n < m.MinNonHealthyRegions {
			return "", false
		}
		evidence = append(evidence, fmt.Sprintf("%d regions currently non-healthy", n))
	}
	if m.MinErrorRate > 0 {
		worst, region := 0.0, ""
		for _, name := range w.RegionNames() {
			if rate := w.Regions[name].ErrorRate(); rate > worst {
				worst, region = rate, name
			}
		}
		if worst < m.MinErrorRate {
			return "", false
		}
		evidence = append(evidence, fmt.Sprintf("error rate %.2f in %s", worst, region))
	}
	if m.MinP95LatencyMS > 0 {
		var slow []string
		for _, name := range w.RegionNames() {
			st := w.Regions[name]
			if st.HasImpact() && st.P95LatencyMS >= m.MinP95LatencyMS {
				slow = append(slow, fmt.Sprintf("%s p95=%.0fms", name, st.P95LatencyMS))
			}
		}
		if len(slow) == 0 {
			return "", false
		}
		evidence = append(evidence, strings.Join(slow, ", "))
	}
	if m.OverLatencyBudget {
		var over []string
		for _, name := range w.RegionNames() {
			st := w.Regions[name]
			budget, ok := s.thresholds.LatencyBudgetMS[name]
			if ok && st.HasImpact() && st.P95LatencyMS > budget {
				over = append(over, fmt.Sprintf("%s p95=%.0fms over %.0fms budget", name, st.P95LatencyMS, budget))
			}
		}
		if len(over) == 0 {
			return "", false
		}
		evidence = append(evidence, strings.Join(over, ", "))
	}

	if len(evidence) == 0 {
		return "", false
	}
	return strings.Join(evidence, "; "), true
}

func impactedRegions(w models.TelemetryWindow) []string {
	out := []string{}
	for _, name := range w.RegionNames() {
		if w.Regions[name].HasImpact() {
			out = append(out, name)
		}
	}
	return out
}

// similarIDs lists playbooks that resolved with the same action first, then
// the rest by rank, capped at k.
func similarIDs(playbooks []models.PlaybookEntry, action models.Action, k int) []string {
	ranked := append([]models.PlaybookEntry(nil), playbooks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ResolutionAction == action && ranked[j].ResolutionAction != action
	})
	out := []string{}
	for _, pb := range ranked {
		if len(out) >= k {
			break
		}
		out = appendUnique(out, pb.IncidentID)
	}
	return out
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
