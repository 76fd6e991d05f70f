package engine

import (
	"strings"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

func longPlaybooks(n int) []models.PlaybookEntry {
	out := make([]models.PlaybookEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.PlaybookEntry{
			IncidentID:       "INC-" + strings.Repeat("x", i+1),
			SummaryText:      strings.Repeat("resolver timeouts in us-central1 ", 60),
			ResolutionAction: models.ActionFailover,
			Outcome:          "restored",
			Score:            0.9,
		})
	}
	return out
}

func TestPromptBuildStaysWithinBudget(t *testing.T) {
	in := promptInput{
		Target:    testTarget,
		AsOf:      cycleEnd,
		Summary:   "region=us-central1 status=TIMEOUT",
		Regions:   []string{"us-central1"},
		Playbooks: longPlaybooks(3),
		TopK:      3,
	}
	unbounded := NewPromptBuilder(testThresholds, 0).Build(in)

	limit := len(unbounded) / 2
	bounded := NewPromptBuilder(testThresholds, limit).Build(in)
	if len(bounded) > limit {
		t.Fatalf("prompt of %d bytes exceeds %d", len(bounded), limit)
	}
	if !strings.Contains(bounded, "TELEMETRY SUMMARY") || !strings.Contains(bounded, "INSTRUCTIONS") {
		t.Fatalf("bounded prompt lost required sections")
	}
}

func TestPromptSpellsOutThresholdsAndChanges(t *testing.T) {
	p := NewPromptBuilder(testThresholds, 0).Build(promptInput{
		Target:          testTarget,
		AsOf:            cycleEnd,
		Regions:         []string{"us-central1"},
		Unknown:         []string{"asia-east1"},
		RecentActionIDs: []string{"chg-42"},
		TopK:            3,
	})
	for _, want := range []string{"error_rate >= 0.20", "error_rate >= 0.50", "3 consecutive", "chg-42", "asia-east1", "at most 3"} {
		if !strings.Contains(p, want) {
			t.Fatalf("expected %q in prompt", want)
		}
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	if got := truncate("héllo wörld", 2); got != "h..." {
		t.Fatalf("unexpected truncation %q", got)
	}
}
