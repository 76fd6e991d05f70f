package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

// FromAnalyzeStruct converts {target, as_of?, recent_action_ids?} into a domain request.
func FromAnalyzeStruct(in *structpb.Struct) (models.AnalyzeRequest, error) {
	if in == nil {
		return models.AnalyzeRequest{}, errors.New("request cannot be nil")
	}
	fields := in.GetFields()
	target := strings.TrimSpace(fields["target"].GetStringValue())
	if target == "" {
		return models.AnalyzeRequest{}, errors.New("target is required")
	}
	asOf, err := utils.OptionalRFC3339(fields["as_of"].GetStringValue())
	if err != nil {
		return models.AnalyzeRequest{}, fmt.Errorf("as_of: %w", err)
	}

	req := models.AnalyzeRequest{Target: target, AsOf: asOf}
	for _, v := range fields["recent_action_ids"].GetListValue().GetValues() {
		if id := strings.TrimSpace(v.GetStringValue()); id != "" {
			req.RecentActionIDs = append(req.RecentActionIDs, id)
		}
	}
	return req, nil
}

// FromReplayStruct converts {incident_id} into a replay request.
func FromReplayStruct(in *structpb.Struct) (models.ReplayRequest, error) {
	if in == nil {
		return models.ReplayRequest{}, errors.New("request cannot be nil")
	}
	id := strings.TrimSpace(in.GetFields()["incident_id"].GetStringValue())
	if id == "" {
		return models.ReplayRequest{}, errors.New("incident_id is required")
	}
	return models.ReplayRequest{IncidentID: id}, nil
}

// TargetFromStruct reads the target field of a LastDecision request.
func TargetFromStruct(in *structpb.Struct) (string, error) {
	if in == nil {
		return "", errors.New("request cannot be nil")
	}
	target := strings.TrimSpace(in.GetFields()["target"].GetStringValue())
	if target == "" {
		return "", errors.New("target is required")
	}
	return target, nil
}

// cycleWire is the JSON shape of a cycle result on the wire.
type cycleWire struct {
	CycleID    string           `json:"cycle_id"`
	Target     string           `json:"target"`
	Outcome    string           `json:"outcome,omitempty"`
	Reasons    []string         `json:"reasons"`
	Escalated  bool             `json:"escalated"`
	Duplicate  bool             `json:"duplicate"`
	LowContext bool             `json:"low_context"`
	Replay     bool             `json:"replay"`
	Decision   *models.Decision `json:"decision,omitempty"`
}

// ToResultStruct converts a cycle result. The decision keeps the execution
// layer's field names and enum values.
func ToResultStruct(res models.CycleResult) (*structpb.Struct, error) {
	wire := cycleWire{
		CycleID:    res.CycleID,
		Target:     res.Target,
		Outcome:    string(res.Outcome),
		Reasons:    append([]string{}, res.Reasons...),
		Escalated:  res.Escalated,
		Duplicate:  res.Duplicate,
		LowContext: res.LowContext,
		Replay:     res.Replay,
		Decision:   normalise(res.Decision),
	}
	return toStruct(wire)
}

// ToDecisionStruct converts a single decision.
func ToDecisionStruct(d models.Decision) (*structpb.Struct, error) {
	return toStruct(normalise(&d))
}

// DecisionFromStruct decodes a decision produced by ToDecisionStruct.
func DecisionFromStruct(in *structpb.Struct) (models.Decision, error) {
	var d models.Decision
	body, err := in.MarshalJSON()
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return d, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}

func normalise(d *models.Decision) *models.Decision {
	if d == nil {
		return nil
	}
	out := d.Clone()
	out.Timestamp = out.Timestamp.UTC()
	return &out
}

func toStruct(v any) (*structpb.Struct, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(body); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
