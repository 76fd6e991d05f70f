package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

func synthInput() SynthesisInput {
	w := buildWindow(models.ProbeTimeout)
	return SynthesisInput{Window: w, Summary: "region=us-central1 status=TIMEOUT", TopK: 3}
}

func TestLLMSynthesizerRetriesOnceWithCorrection(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{`{"status":"CRITICAL","confidence":2}`, validCandidate}}
	s := NewLLMSynthesizer(gen, NewPromptBuilder(testThresholds, 0), LLMOptions{}, nil)

	cand, err := s.Synthesize(context.Background(), synthInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.Attempts != 2 || cand.Decision.Status != models.StatusCritical {
		t.Fatalf("unexpected candidate: %+v", cand)
	}
	if !strings.Contains(gen.prompts[1], "missing required fields") {
		t.Fatalf("expected parse error echoed in corrective prompt")
	}
	if !cand.Decision.Timestamp.Equal(cycleEnd) {
		t.Fatalf("expected window end timestamp, got %s", cand.Decision.Timestamp)
	}
}

func TestLLMSynthesizerCorrectsMissingAffectedRegions(t *testing.T) {
	noRegions := strings.Replace(validCandidate, `["us-central1"]`, `[]`, 1)
	gen := &scriptedGenerator{outputs: []string{noRegions, validCandidate}}
	s := NewLLMSynthesizer(gen, NewPromptBuilder(testThresholds, 0), LLMOptions{}, nil)

	cand, err := s.Synthesize(context.Background(), synthInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.Attempts != 2 || len(cand.Decision.AffectedRegions) != 1 {
		t.Fatalf("expected corrected second attempt, got %+v", cand)
	}
	if !strings.Contains(gen.prompts[1], "affected_regions must name at least one region") {
		t.Fatalf("expected region rule echoed in corrective prompt")
	}
}

func TestLLMSynthesizerCorrectsTooManyIncidents(t *testing.T) {
	tooMany := strings.Replace(validCandidate, `["INC-2024-001"]`, `["a","b","c","d"]`, 1)
	gen := &scriptedGenerator{outputs: []string{tooMany, validCandidate}}
	s := NewLLMSynthesizer(gen, NewPromptBuilder(testThresholds, 0), LLMOptions{}, nil)

	cand, err := s.Synthesize(context.Background(), synthInput())
	if err != nil || cand.Attempts != 2 {
		t.Fatalf("expected corrected second attempt, got %+v err=%v", cand, err)
	}
}

func TestLLMSynthesizerGivesUpAfterTwoAttempts(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"no json here"}}
	s := NewLLMSynthesizer(gen, NewPromptBuilder(testThresholds, 0), LLMOptions{}, nil)

	cand, err := s.Synthesize(context.Background(), synthInput())
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected synthesis failure, got %v", err)
	}
	if cand.Attempts != 2 || len(gen.prompts) != 2 {
		t.Fatalf("expected two attempts, got %d", len(gen.prompts))
	}
}

func TestLLMSynthesizerWithoutBackend(t *testing.T) {
	s := NewLLMSynthesizer(nil, NewPromptBuilder(testThresholds, 0), LLMOptions{}, nil)
	if _, err := s.Synthesize(context.Background(), synthInput()); !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected synthesis failure, got %v", err)
	}
}
