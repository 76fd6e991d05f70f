package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/inference"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// SynthesisInput is what a synthesizer sees for one cycle.
type SynthesisInput struct {
	Window          models.TelemetryWindow
	Summary         string
	Playbooks       []models.PlaybookEntry
	RecentActionIDs []string
	TopK            int
}

// Candidate is an unvalidated decision and the number of generation attempts it took.
type Candidate struct {
	Decision models.Decision
	Attempts int
}

// Synthesizer turns a window and playbook context into a candidate decision.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (Candidate, error)
}

// Generator is the inference backend.
type Generator interface {
	Generate(ctx context.Context, req inference.Request) (string, error)
}

// LLMSynthesizer drafts decisions with a generative model. Malformed output
// gets exactly one corrective re-prompt; transport failures are not retried.
type LLMSynthesizer struct {
	generator   Generator
	prompts     *PromptBuilder
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// LLMOptions tunes generation.
type LLMOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewLLMSynthesizer constructs a model-backed synthesizer.
func NewLLMSynthesizer(generator Generator, prompts *PromptBuilder, opts LLMOptions, logger *slog.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSynthesizer{
		generator:   generator,
		prompts:     prompts,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

const maxSynthesisAttempts = 2

// Synthesize runs the bounded attempt loop.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (Candidate, error) {
	if s.generator == nil {
		return Candidate{}, fmt.Errorf("%w: no inference backend configured", ErrSynthesisFailed)
	}

	p := promptInput{
		Target:          in.Window.Target,
		AsOf:            in.Window.End,
		Summary:         in.Summary,
		Regions:         in.Window.RegionNames(),
		Unknown:         in.Window.Unknown,
		Playbooks:       in.Playbooks,
		RecentActionIDs: in.RecentActionIDs,
		TopK:            in.TopK,
	}

	var lastErr error
	for attempt := 0; attempt < maxSynthesisAttempts; attempt++ {
		raw, err := s.generate(ctx, p, in.TopK)
		if err != nil {
			return Candidate{Attempts: attempt + 1}, fmt.Errorf("%w: inference call: %w", ErrSynthesisFailed, err)
		}

		decision, err := parseCandidate(raw, in.TopK)
		if err == nil {
			decision.Timestamp = in.Window.End
			return Candidate{Decision: decision, Attempts: attempt + 1}, nil
		}

		lastErr = err
		s.logger.Warn("malformed synthesis output",
			slog.String("target", in.Window.Target),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		p.Correction = err.Error()
		p.PreviousOutput = raw
	}
	return Candidate{Attempts: maxSynthesisAttempts}, fmt.Errorf("%w: output unparseable after corrective retry: %w", ErrSynthesisFailed, lastErr)
}

func (s *LLMSynthesizer) generate(ctx context.Context, p promptInput, k int) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.generator.Generate(ctx, inference.Request{
		Prompt:      s.prompts.Build(p),
		Schema:      decisionSchema(k),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
}
