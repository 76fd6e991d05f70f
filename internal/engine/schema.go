package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// decisionSchema is the structured-output schema sent to the inference
// backend. It mirrors candidateWire.
func decisionSchema(k int) map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "STRING",
				"enum": []string{string(models.StatusHealthy), string(models.StatusWarning), string(models.StatusCritical)},
			},
			"confidence": map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 1},
			"reasoning":  map[string]any{"type": "STRING"},
			"recommended_action": map[string]any{
				"type": "STRING",
				"enum": []string{string(models.ActionNone), string(models.ActionFailover), string(models.ActionScaleUp), string(models.ActionRollback)},
			},
			"affected_regions":   map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
			"similar_incidents":  map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}, "maxItems": k},
			"rollback_action_id": map[string]any{"type": "STRING"},
		},
		"required":         []string{"status", "confidence", "reasoning", "recommended_action", "affected_regions", "similar_incidents"},
		"propertyOrdering": []string{"reasoning", "status", "confidence", "recommended_action", "affected_regions", "similar_incidents", "rollback_action_id"},
	}
}

// candidateWire is the strict shape accepted from the model. Pointers detect
// missing required fields.
type candidateWire struct {
	Status            *string   `json:"status"`
	Confidence        *float64  `json:"confidence"`
	Reasoning         *string   `json:"reasoning"`
	RecommendedAction *string   `json:"recommended_action"`
	AffectedRegions   *[]string `json:"affected_regions"`
	SimilarIncidents  *[]string `json:"similar_incidents"`
	RollbackActionID  string    `json:"rollback_action_id,omitempty"`
	// timestamp is accepted but ignored; the engine stamps decisions itself
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

var errNoJSONObject = errors.New("no JSON object found in response")

// parseCandidate decodes the model output into a Decision, allowing at most
// k similar incidents (no limit when k is not positive). Any structural
// problem is returned as an error suitable for echoing back to the model.
func parseCandidate(raw string, k int) (models.Decision, error) {
	body, err := extractJSONObject(raw)
	if err != nil {
		return models.Decision{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var wire candidateWire
	if err := dec.Decode(&wire); err != nil {
		return models.Decision{}, fmt.Errorf("invalid decision JSON: %w", err)
	}
	if dec.More() {
		return models.Decision{}, errors.New("invalid decision JSON: trailing data after object")
	}

	var missing []string
	if wire.Status == nil {
		missing = append(missing, "status")
	}
	if wire.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if wire.Reasoning == nil {
		missing = append(missing, "reasoning")
	}
	if wire.RecommendedAction == nil {
		missing = append(missing, "recommended_action")
	}
	if wire.AffectedRegions == nil {
		missing = append(missing, "affected_regions")
	}
	if wire.SimilarIncidents == nil {
		missing = append(missing, "similar_incidents")
	}
	if len(missing) > 0 {
		return models.Decision{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	d := models.Decision{
		Status:            models.Status(strings.TrimSpace(*wire.Status)),
		Confidence:        *wire.Confidence,
		Reasoning:         strings.TrimSpace(*wire.Reasoning),
		RecommendedAction: models.Action(strings.TrimSpace(*wire.RecommendedAction)),
		AffectedRegions:   append([]string{}, (*wire.AffectedRegions)...),
		SimilarIncidents:  append([]string{}, (*wire.SimilarIncidents)...),
		RollbackActionID:  strings.TrimSpace(wire.RollbackActionID),
	}
	if !d.Status.Valid() {
		return models.Decision{}, fmt.Errorf("status %q is not one of HEALTHY, WARNING, CRITICAL", d.Status)
	}
	if !d.RecommendedAction.Valid() {
		return models.Decision{}, fmt.Errorf("recommended_action %q is not one of NONE, FAILOVER, SCALE_UP, ROLLBACK", d.RecommendedAction)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return models.Decision{}, fmt.Errorf("confidence %v is outside [0,1]", d.Confidence)
	}
	if d.Reasoning == "" {
		return models.Decision{}, errors.New("reasoning must not be empty")
	}
	if d.Status == models.StatusHealthy && len(d.AffectedRegions) > 0 {
		return models.Decision{}, fmt.Errorf("affected_regions must be empty when status is HEALTHY, got %v", d.AffectedRegions)
	}
	if d.Status != models.StatusHealthy && len(d.AffectedRegions) == 0 {
		return models.Decision{}, fmt.Errorf("affected_regions must name at least one region when status is %s", d.Status)
	}
	if k > 0 && len(d.SimilarIncidents) > k {
		return models.Decision{}, fmt.Errorf("similar_incidents lists %d ids, at most %d allowed", len(d.SimilarIncidents), k)
	}
	return d, nil
}

// extractJSONObject returns the last balanced top-level JSON object in raw,
// which skips any reasoning text or code fences the model wrote before it.
func extractJSONObject(raw string) ([]byte, error) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
		last     []byte
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				last = []byte(raw[start : i+1])
				start = -1
			}
		}
	}
	if last == nil {
		return nil, errNoJSONObject
	}
	return last, nil
}
