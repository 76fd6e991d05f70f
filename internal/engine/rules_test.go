package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

const testRules = `
rules:
  - id: bad-change
    match:
      minNonHealthyRegions: 1
      minErrorRate: 0.9
    decision:
      status: CRITICAL
      action: ROLLBACK
      confidence: 0.8
  - id: single-region-timeout
    match:
      minTimeoutStreak: 3
    decision:
      status: CRITICAL
      action: FAILOVER
      confidence: 0.85
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func newRules(t *testing.T) *RuleSynthesizer {
	t.Helper()
	s, err := NewRuleSynthesizer(writeRules(t, testRules), testThresholds, nil)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return s
}

func TestRulesHealthyWindow(t *testing.T) {
	cand, err := newRules(t).Synthesize(context.Background(), SynthesisInput{Window: buildWindow(models.ProbeHealthy), TopK: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := cand.Decision
	if d.Status != models.StatusHealthy || d.RecommendedAction != models.ActionNone || len(d.AffectedRegions) != 0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRulesSkipRollbackWithoutRecentChange(t *testing.T) {
	playbooks := []models.PlaybookEntry{
		{IncidentID: "INC-2023-045", ResolutionAction: models.ActionScaleUp},
		{IncidentID: "INC-2024-001", ResolutionAction: models.ActionFailover},
	}
	in := SynthesisInput{Window: buildWindow(models.ProbeTimeout), Playbooks: playbooks, TopK: 1}

	cand, err := newRules(t).Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := cand.Decision
	if d.RecommendedAction != models.ActionFailover || d.Status != models.StatusCritical {
		t.Fatalf("expected failover from the timeout rule, got %+v", d)
	}
	if len(d.SimilarIncidents) != 1 || d.SimilarIncidents[0] != "INC-2024-001" {
		t.Fatalf("expected same-action playbook first, got %v", d.SimilarIncidents)
	}

	in.RecentActionIDs = []string{"chg-1", "chg-2"}
	cand, err = newRules(t).Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.Decision.RecommendedAction != models.ActionRollback || cand.Decision.RollbackActionID != "chg-2" {
		t.Fatalf("expected rollback of the latest change, got %+v", cand.Decision)
	}
}

func TestRulesOutputPassesValidation(t *testing.T) {
	w := buildWindow(models.ProbeTimeout)
	cand, err := newRules(t).Synthesize(context.Background(), SynthesisInput{Window: w, TopK: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewValidator(0.7, 3).Validate(ValidationInput{Candidate: cand.Decision, Window: w}); err != nil {
		t.Fatalf("rule decision failed validation: %v", err)
	}
}

func TestRulesRejectInvalidDecision(t *testing.T) {
	body := "rules:\n  - id: broken\n    match:\n      minTimeoutRegions: 1\n    decision:\n      status: PANIC\n      action: NONE\n"
	if _, err := NewRuleSynthesizer(writeRules(t, body), testThresholds, nil); err == nil {
		t.Fatalf("expected invalid rule to fail loading")
	}
}
