package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/config"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// PromptBuilder assembles the synthesis prompt. Thresholds are spelled out
// numerically so the model never has to guess what "degraded" means.
type PromptBuilder struct {
	thresholds config.Thresholds
	maxBytes   int
}

// NewPromptBuilder returns a builder bounded to maxBytes; non-positive means unbounded.
func NewPromptBuilder(thresholds config.Thresholds, maxBytes int) *PromptBuilder {
	return &PromptBuilder{thresholds: thresholds, maxBytes: maxBytes}
}

// promptInput is everything the prompt is rendered from.
type promptInput struct {
	Target          string
	AsOf            time.Time
	Summary         string
	Regions         []string
	Unknown         []string
	Playbooks       []models.PlaybookEntry
	RecentActionIDs []string
	TopK            int
	Correction      string
	PreviousOutput  string
}

// playbook summary budgets tried in order when the prompt is over budget
var summaryBudgets = []int{-1, 400, 160, 60}

// Build renders the prompt, shrinking playbook summaries and then dropping
// the lowest-ranked playbooks until it fits the byte budget.
func (b *PromptBuilder) Build(in promptInput) string {
	playbooks := in.Playbooks
	var prompt string
	for _, budget := range summaryBudgets {
		prompt = b.render(in, playbooks, budget)
		if b.fits(prompt) {
			return prompt
		}
	}
	for len(playbooks) > 0 {
		playbooks = playbooks[:len(playbooks)-1]
		prompt = b.render(in, playbooks, summaryBudgets[len(summaryBudgets)-1])
		if b.fits(prompt) {
			return prompt
		}
	}
	return prompt
}

func (b *PromptBuilder) fits(prompt string) bool {
	return b.maxBytes <= 0 || len(prompt) <= b.maxBytes
}

func (b *PromptBuilder) render(in promptInput, playbooks []models.PlaybookEntry, summaryBudget int) string {
	var sb strings.Builder
	t := b.thresholds

	sb.WriteString("You are the reasoning layer of a DNS resilience system. Assess the health of one DNS target ")
	sb.WriteString("from multi-region probe telemetry and recommend one remediation for the execution layer.\n\n")

	fmt.Fprintf(&sb, "TARGET: %s\nWINDOW END: %s\n", in.Target, in.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "REGIONS WITH DATA: %s\n", joinOrNone(in.Regions))
	if len(in.Unknown) > 0 {
		fmt.Fprintf(&sb, "REGIONS WITHOUT DATA (status unknown, never report them as affected): %s\n", strings.Join(in.Unknown, ", "))
	}

	sb.WriteString("\nTELEMETRY SUMMARY:\n")
	sb.WriteString(strings.TrimRight(in.Summary, "\n"))
	sb.WriteString("\n\nTHRESHOLDS:\n")
	fmt.Fprintf(&sb, "- A region is DEGRADED when its error_rate >= %.2f.\n", t.DegradedErrorRate)
	fmt.Fprintf(&sb, "- A region is CRITICAL when its error_rate >= %.2f", t.CriticalErrorRate)
	if t.TimeoutStreak > 0 {
		fmt.Fprintf(&sb, " or its trailing error streak is >= %d consecutive probes", t.TimeoutStreak)
	}
	sb.WriteString(".\n")
	if len(t.LatencyBudgetMS) > 0 {
		regions := make([]string, 0, len(t.LatencyBudgetMS))
		for region := range t.LatencyBudgetMS {
			regions = append(regions, region)
		}
		sort.Strings(regions)
		sb.WriteString("- Latency budgets (p95, ms):")
		for _, region := range regions {
			fmt.Fprintf(&sb, " %s=%.0f", region, t.LatencyBudgetMS[region])
		}
		sb.WriteString(".\n")
	}
	if t.CriticalLatencyMS > 0 {
		fmt.Fprintf(&sb, "- Any region with p95 latency above %.0fms is CRITICAL.\n", t.CriticalLatencyMS)
	}
	fmt.Fprintf(&sb, "- Overall status is CRITICAL when %d or more regions are CRITICAL; WARNING when any region is DEGRADED; otherwise HEALTHY.\n", t.CriticalRegionCount)

	sb.WriteString("\nACTIONS:\n")
	sb.WriteString("- NONE: no change. Required when status is HEALTHY.\n")
	sb.WriteString("- FAILOVER: reroute traffic to the secondary provider. Only when status is CRITICAL.\n")
	sb.WriteString("- SCALE_UP: add resolver capacity. Only when status is WARNING or CRITICAL.\n")
	sb.WriteString("- ROLLBACK: revert a recent change. Only when a listed change plausibly caused the impact; set rollback_action_id to its id.\n")
	if len(in.RecentActionIDs) > 0 {
		fmt.Fprintf(&sb, "RECENT CHANGES (valid rollback_action_id values): %s\n", strings.Join(in.RecentActionIDs, ", "))
	} else {
		sb.WriteString("RECENT CHANGES: none, so ROLLBACK is not available.\n")
	}

	sb.WriteString("\nSIMILAR PAST INCIDENTS:\n")
	if len(playbooks) == 0 {
		sb.WriteString("none available; rely on the telemetry alone and say so in your reasoning.\n")
	}
	for i, pb := range playbooks {
		fmt.Fprintf(&sb, "%d. [%s] score=%.2f resolution=%s outcome=%s\n   %s\n",
			i+1, pb.IncidentID, pb.Score, pb.ResolutionAction, truncate(pb.Outcome, summaryBudget), truncate(pb.SummaryText, summaryBudget))
	}

	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString("1. Think step by step: assess each region against the thresholds, then the overall status, then compare with the past incidents.\n")
	sb.WriteString("2. affected_regions must only name regions listed under REGIONS WITH DATA that show non-healthy probes. Leave it empty when HEALTHY.\n")
	fmt.Fprintf(&sb, "3. similar_incidents may only reference ids listed above, at most %d, most relevant first.\n", in.TopK)
	sb.WriteString("4. confidence is your probability in [0,1] that the recommended action is correct.\n")
	sb.WriteString("5. After your reasoning, output exactly one JSON object with the fields status, confidence, reasoning, recommended_action, affected_regions, similar_incidents and optionally rollback_action_id. Nothing after the object.\n")

	if in.Correction != "" {
		sb.WriteString("\nYOUR PREVIOUS RESPONSE WAS REJECTED:\n")
		sb.WriteString(in.Correction)
		sb.WriteString("\n")
		if in.PreviousOutput != "" {
			sb.WriteString("Previous response (truncated):\n")
			sb.WriteString(truncate(in.PreviousOutput, 600))
			sb.WriteString("\n")
		}
		sb.WriteString("Return a corrected response that follows the instructions exactly.\n")
	}
	return sb.String()
}

func truncate(s string, limit int) string {
	if limit < 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
