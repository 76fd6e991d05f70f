package engine

import (
	"strings"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

const validCandidate = `{"status":"CRITICAL","confidence":0.92,"reasoning":"us-central1 timed out five times in a row","recommended_action":"FAILOVER","affected_regions":["us-central1"],"similar_incidents":["INC-2024-001"]}`

func TestParseCandidateAcceptsReasoningBeforeJSON(t *testing.T) {
	raw := "Step 1: us-central1 shows a TIMEOUT streak {5 probes}.\nStep 2: others healthy.\n```json\n" + validCandidate + "\n```"
	d, err := parseCandidate(raw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != models.StatusCritical || d.RecommendedAction != models.ActionFailover || d.Confidence != 0.92 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if len(d.AffectedRegions) != 1 || d.SimilarIncidents[0] != "INC-2024-001" {
		t.Fatalf("unexpected lists: %+v", d)
	}
}

func TestParseCandidateRejectsMalformedOutput(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want string
	}{
		"no object":       {raw: "I think failover", want: "no JSON object"},
		"truncated":       {raw: `{"status":"CRITICAL","confidence":`, want: "no JSON object"},
		"unknown field":   {raw: strings.Replace(validCandidate, `"status"`, `"severity":"x","status"`, 1), want: "unknown field"},
		"missing field":   {raw: `{"status":"HEALTHY","confidence":0.9,"reasoning":"ok","recommended_action":"NONE"}`, want: "affected_regions"},
		"bad enum":        {raw: strings.Replace(validCandidate, `"FAILOVER"`, `"REBOOT"`, 1), want: "recommended_action"},
		"bad status":      {raw: strings.Replace(validCandidate, `"CRITICAL"`, `"DOWN"`, 1), want: "status"},
		"out of range":    {raw: strings.Replace(validCandidate, `0.92`, `1.4`, 1), want: "confidence"},
		"empty reasoning": {raw: strings.Replace(validCandidate, `"us-central1 timed out five times in a row"`, `"  "`, 1), want: "reasoning"},
		"wrong type":      {raw: strings.Replace(validCandidate, `0.92`, `"high"`, 1), want: "invalid decision JSON"},
		"no regions":      {raw: strings.Replace(validCandidate, `["us-central1"]`, `[]`, 1), want: "at least one region"},
		"healthy regions": {raw: `{"status":"HEALTHY","confidence":0.9,"reasoning":"ok","recommended_action":"NONE","affected_regions":["us-central1"],"similar_incidents":[]}`, want: "must be empty"},
		"too many":        {raw: strings.Replace(validCandidate, `["INC-2024-001"]`, `["a","b","c","d"]`, 1), want: "at most 3"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseCandidate(tc.raw, 3)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestExtractJSONObjectIgnoresBracesInStrings(t *testing.T) {
	raw := `{"reasoning":"brace } inside","status":"HEALTHY"}`
	got, err := extractJSONObject(raw)
	if err != nil || string(got) != raw {
		t.Fatalf("unexpected extraction %q err=%v", got, err)
	}
}
