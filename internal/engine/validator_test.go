package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

func candidate(status models.Status, action models.Action, confidence float64, regions ...string) models.Decision {
	return models.Decision{
		Timestamp:         cycleEnd,
		Status:            status,
		Confidence:        confidence,
		Reasoning:         "assessment",
		RecommendedAction: action,
		AffectedRegions:   regions,
		SimilarIncidents:  []string{},
	}
}

func TestValidatorRejections(t *testing.T) {
	outage := buildWindow(models.ProbeTimeout)
	cases := map[string]struct {
		decision models.Decision
		want     string
	}{
		"unknown region": {
			decision: candidate(models.StatusCritical, models.ActionFailover, 0.9, "mars-north1"),
			want:     "no telemetry",
		},
		"healthy region claimed": {
			decision: candidate(models.StatusWarning, models.ActionScaleUp, 0.9, "europe-west1"),
			want:     "no non-healthy probes",
		},
		"healthy with regions": {
			decision: candidate(models.StatusHealthy, models.ActionNone, 0.9, "us-central1"),
			want:     "HEALTHY decision lists affected regions",
		},
		"critical without regions": {
			decision: candidate(models.StatusCritical, models.ActionFailover, 0.9),
			want:     "lists no affected regions",
		},
		"empty reasoning": {
			decision: func() models.Decision {
				d := candidate(models.StatusCritical, models.ActionFailover, 0.9, "us-central1")
				d.Reasoning = "  "
				return d
			}(),
			want: "empty reasoning",
		},
		"too many similar": {
			decision: func() models.Decision {
				d := candidate(models.StatusCritical, models.ActionFailover, 0.9, "us-central1")
				d.SimilarIncidents = []string{"A", "B", "C", "D"}
				return d
			}(),
			want: "exceed k=3",
		},
	}
	v := NewValidator(0.7, 3)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(ValidationInput{Candidate: tc.decision, Window: outage})
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("expected rejection, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestValidatorStripsUnknownSimilarIncidents(t *testing.T) {
	d := candidate(models.StatusCritical, models.ActionFailover, 0.9, "us-central1")
	d.SimilarIncidents = []string{"INC-2024-001", "INC-FAKE", "INC-2024-001"}

	verdict, err := NewValidator(0.7, 3).Validate(ValidationInput{
		Candidate: d,
		Window:    buildWindow(models.ProbeTimeout),
		Playbooks: []models.PlaybookEntry{{IncidentID: "INC-2024-001"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := verdict.Decision.SimilarIncidents; len(got) != 1 || got[0] != "INC-2024-001" {
		t.Fatalf("unexpected similar incidents: %v", got)
	}
	if verdict.Outcome != models.AuditAccepted || len(verdict.Reasons) != 1 {
		t.Fatalf("expected accepted with one strip reason, got %+v", verdict)
	}
}

func TestValidatorConsistencyDowngrades(t *testing.T) {
	outage := buildWindow(models.ProbeTimeout)
	cases := map[string]struct {
		decision models.Decision
		recent   []string
	}{
		"failover on warning": {decision: candidate(models.StatusWarning, models.ActionFailover, 0.9, "us-central1")},
		"scale up on healthy": {decision: candidate(models.StatusHealthy, models.ActionScaleUp, 0.9)},
		"rollback without id": {decision: candidate(models.StatusCritical, models.ActionRollback, 0.9, "us-central1")},
		"rollback unknown id": {
			decision: func() models.Decision {
				d := candidate(models.StatusCritical, models.ActionRollback, 0.9, "us-central1")
				d.RollbackActionID = "chg-9"
				return d
			}(),
			recent: []string{"chg-1"},
		},
	}
	v := NewValidator(0.7, 3)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			verdict, err := v.Validate(ValidationInput{Candidate: tc.decision, Window: outage, RecentActionIDs: tc.recent})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict.Decision.RecommendedAction != models.ActionNone || verdict.Outcome != models.AuditDowngraded {
				t.Fatalf("expected downgrade to NONE, got %+v", verdict)
			}
			if verdict.Decision.RollbackActionID != "" {
				t.Fatalf("expected rollback id cleared")
			}
		})
	}
}

func TestValidatorAcceptsRollbackOfRecentChange(t *testing.T) {
	d := candidate(models.StatusCritical, models.ActionRollback, 0.9, "us-central1")
	d.RollbackActionID = "chg-1"
	verdict, err := NewValidator(0.7, 3).Validate(ValidationInput{
		Candidate:       d,
		Window:          buildWindow(models.ProbeTimeout),
		RecentActionIDs: []string{"chg-0", "chg-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Decision.RecommendedAction != models.ActionRollback || verdict.Decision.RollbackActionID != "chg-1" {
		t.Fatalf("expected rollback to pass, got %+v", verdict.Decision)
	}
}

func TestValidatorConfidenceFloorBoundary(t *testing.T) {
	v := NewValidator(0.7, 3)
	outage := buildWindow(models.ProbeTimeout)

	at, err := v.Validate(ValidationInput{Candidate: candidate(models.StatusCritical, models.ActionFailover, 0.7, "us-central1"), Window: outage})
	if err != nil || at.Decision.RecommendedAction != models.ActionFailover {
		t.Fatalf("confidence at the floor must pass, got %+v %v", at.Decision, err)
	}
	below, err := v.Validate(ValidationInput{Candidate: candidate(models.StatusCritical, models.ActionFailover, 0.69, "us-central1"), Window: outage})
	if err != nil || below.Decision.RecommendedAction != models.ActionNone {
		t.Fatalf("confidence below the floor must downgrade, got %+v %v", below.Decision, err)
	}
	if !strings.Contains(below.Decision.Reasoning, markerLowConfidence) {
		t.Fatalf("expected marker in %q", below.Decision.Reasoning)
	}
}

func TestValidatorAntiFlap(t *testing.T) {
	v := NewValidator(0.7, 3)
	outage := buildWindow(models.ProbeTimeout)
	healthy := candidate(models.StatusHealthy, models.ActionNone, 0.95)
	critical := candidate(models.StatusCritical, models.ActionFailover, 0.9, "us-central1")

	verdict, err := v.Validate(ValidationInput{Candidate: critical, Window: outage, Previous: &healthy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Decision.RecommendedAction != models.ActionScaleUp || !verdict.Escalate || verdict.EscalationReason == "" {
		t.Fatalf("expected escalated SCALE_UP, got %+v", verdict)
	}

	warning := candidate(models.StatusWarning, models.ActionScaleUp, 0.8, "us-central1")
	verdict, err = v.Validate(ValidationInput{Candidate: critical, Window: outage, Previous: &warning})
	if err != nil || verdict.Decision.RecommendedAction != models.ActionFailover || verdict.Escalate {
		t.Fatalf("expected failover after a non-healthy decision, got %+v %v", verdict, err)
	}

	verdict, err = v.Validate(ValidationInput{Candidate: critical, Window: outage})
	if err != nil || verdict.Decision.RecommendedAction != models.ActionFailover {
		t.Fatalf("expected failover without history, got %+v %v", verdict, err)
	}
}

func TestValidatorDoesNotMutateCandidate(t *testing.T) {
	d := candidate(models.StatusCritical, models.ActionFailover, 0.9, "us-central1")
	d.SimilarIncidents = []string{"INC-FAKE"}
	if _, err := NewValidator(0.7, 3).Validate(ValidationInput{Candidate: d, Window: buildWindow(models.ProbeTimeout)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.SimilarIncidents) != 1 || d.RecommendedAction != models.ActionFailover {
		t.Fatalf("candidate was mutated: %+v", d)
	}
}
