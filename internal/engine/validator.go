package engine

import (
	"fmt"
	"strings"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Reasoning annotations appended by the engine.
const (
	markerLowConfidence = "[low-confidence]"
	markerLowContext    = "[low-context]"
	markerEscalation    = "[escalation-required]"
)

// Validator applies the ordered guardrails to a candidate decision.
type Validator struct {
	floor float64
	topK  int
}

// NewValidator returns a validator with the given confidence floor and k.
func NewValidator(floor float64, topK int) *Validator {
	return &Validator{floor: floor, topK: topK}
}

// ValidationInput is everything a single validation needs. Previous is the
// last accepted decision for the target, or nil when there is none.
type ValidationInput struct {
	Candidate       models.Decision
	Window          models.TelemetryWindow
	Playbooks       []models.PlaybookEntry
	Previous        *models.Decision
	RecentActionIDs []string
}

// Verdict is a decision that passed validation, possibly downgraded.
type Verdict struct {
	Decision         models.Decision
	Outcome          models.AuditOutcome
	Reasons          []string
	Escalate         bool
	EscalationReason string
}

// Validate runs the checks in order. A rejection is returned as an error
// matching ErrRejected; everything else yields a Verdict.
func (v *Validator) Validate(in ValidationInput) (Verdict, error) {
	d := in.Candidate.Clone()

	if err := v.checkShape(d); err != nil {
		return Verdict{}, err
	}
	if err := checkRegions(d, in.Window); err != nil {
		return Verdict{}, err
	}

	verdict := Verdict{Outcome: models.AuditAccepted}

	known := make(map[string]struct{}, len(in.Playbooks))
	for _, pb := range in.Playbooks {
		known[pb.IncidentID] = struct{}{}
	}
	kept := make([]string, 0, len(d.SimilarIncidents))
	seen := make(map[string]struct{}, len(d.SimilarIncidents))
	for _, id := range d.SimilarIncidents {
		if _, ok := known[id]; !ok {
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("stripped unknown similar incident %q", id))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}
	d.SimilarIncidents = kept

	if d.Confidence < v.floor {
		if d.RecommendedAction != models.ActionNone {
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("confidence %.2f below floor %.2f: %s downgraded to NONE", d.Confidence, v.floor, d.RecommendedAction))
			verdict.Outcome = models.AuditDowngraded
		}
		d.RecommendedAction = models.ActionNone
		d.RollbackActionID = ""
		d.Reasoning = annotate(d.Reasoning, markerLowConfidence)
	}

	if reason := consistencyViolation(d, in.RecentActionIDs); reason != "" {
		verdict.Reasons = append(verdict.Reasons, reason+": downgraded to NONE")
		verdict.Outcome = models.AuditDowngraded
		d.RecommendedAction = models.ActionNone
		d.RollbackActionID = ""
	}

	if d.RecommendedAction.Aggressive() && in.Previous != nil && in.Previous.Status == models.StatusHealthy {
		reason := fmt.Sprintf("%s proposed directly after a HEALTHY decision", d.RecommendedAction)
		verdict.Reasons = append(verdict.Reasons, reason+": downgraded to SCALE_UP pending operator review")
		verdict.Outcome = models.AuditDowngraded
		verdict.Escalate = true
		verdict.EscalationReason = reason
		d.RecommendedAction = models.ActionScaleUp
		d.RollbackActionID = ""
		d.Reasoning = annotate(d.Reasoning, markerEscalation)
	}

	verdict.Decision = d
	return verdict, nil
}

func (v *Validator) checkShape(d models.Decision) error {
	if !d.Status.Valid() {
		return reject("invalid status %q", d.Status)
	}
	if !d.RecommendedAction.Valid() {
		return reject("invalid recommended_action %q", d.RecommendedAction)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return reject("confidence %v outside [0,1]", d.Confidence)
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		return reject("empty reasoning")
	}
	if d.Status == models.StatusHealthy && len(d.AffectedRegions) > 0 {
		return reject("HEALTHY decision lists affected regions %v", d.AffectedRegions)
	}
	if d.Status != models.StatusHealthy && len(d.AffectedRegions) == 0 {
		return reject("%s decision lists no affected regions", d.Status)
	}
	if len(d.SimilarIncidents) > v.topK {
		return reject("%d similar incidents exceed k=%d", len(d.SimilarIncidents), v.topK)
	}
	return nil
}

func checkRegions(d models.Decision, w models.TelemetryWindow) error {
	for _, region := range d.AffectedRegions {
		stats, ok := w.Regions[region]
		if !ok {
			return reject("affected region %q has no telemetry in the window", region)
		}
		if !stats.HasImpact() {
			return reject("affected region %q shows no non-healthy probes", region)
		}
	}
	return nil
}

func consistencyViolation(d models.Decision, recentActionIDs []string) string {
	switch d.RecommendedAction {
	case models.ActionNone:
		return ""
	case models.ActionFailover:
		if d.Status != models.StatusCritical {
			return fmt.Sprintf("FAILOVER requires CRITICAL status, got %s", d.Status)
		}
	case models.ActionScaleUp:
		if d.Status == models.StatusHealthy {
			return "SCALE_UP requires a WARNING or CRITICAL status"
		}
	case models.ActionRollback:
		if d.Status == models.StatusHealthy {
			return "ROLLBACK requires a non-HEALTHY status"
		}
		if d.RollbackActionID == "" {
			return "ROLLBACK requires a rollback_action_id"
		}
		for _, id := range recentActionIDs {
			if id == d.RollbackActionID {
				return ""
			}
		}
		return fmt.Sprintf("rollback_action_id %q does not reference a recent change", d.RollbackActionID)
	}
	if d.Status == models.StatusHealthy {
		return fmt.Sprintf("HEALTHY status cannot recommend %s", d.RecommendedAction)
	}
	return ""
}

func annotate(reasoning, marker string) string {
	if strings.Contains(reasoning, marker) {
		return reasoning
	}
	return strings.TrimSpace(reasoning) + " " + marker
}
