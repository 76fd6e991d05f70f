package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dnssentinel/sentinel-brain/internal/metrics"
	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/publish"
	"github.com/dnssentinel/sentinel-brain/internal/state"
	"github.com/dnssentinel/sentinel-brain/internal/telemetry"
)

// WindowReader loads aggregated telemetry.
type WindowReader interface {
	Read(ctx context.Context, target string, asOf time.Time) (models.TelemetryWindow, error)
	ReadRange(ctx context.Context, target string, start, end time.Time) (models.TelemetryWindow, error)
}

// IncidentStore resolves stored past incidents for replay.
type IncidentStore interface {
	Incident(ctx context.Context, id string) (models.Incident, error)
}

// StateStore is the target-scoped last-accepted cache.
type StateStore interface {
	Get(target string) (models.Decision, bool)
	Update(target string, fn state.UpdateFunc) error
}

// DecisionPublisher delivers verdicts and records failed cycles.
type DecisionPublisher interface {
	Publish(ctx context.Context, req publish.Request) (publish.Ack, error)
	RecordFailure(ctx context.Context, cycleID, target string, outcome models.AuditOutcome, reason string, candidate *models.Decision, replay bool) error
	Escalate(ctx context.Context, esc models.Escalation)
}

// Pipeline runs one analysis cycle per call: read, render, encode, retrieve,
// synthesize, validate and publish.
type Pipeline struct {
	logger      *slog.Logger
	reader      WindowReader
	incidents   IncidentStore
	encoder     Encoder
	retriever   *Retriever
	synthesizer Synthesizer
	validator   *Validator
	state       StateStore
	publisher   DecisionPublisher
	topK        int
	now         func() time.Time
}

// Dependencies bundles the collaborators of a Pipeline.
type Dependencies struct {
	Logger      *slog.Logger
	Reader      WindowReader
	Incidents   IncidentStore
	Encoder     Encoder
	Retriever   *Retriever
	Synthesizer Synthesizer
	Validator   *Validator
	State       StateStore
	Publisher   DecisionPublisher
	TopK        int
}

// NewPipeline constructs a pipeline.
func NewPipeline(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Reader == nil:
		return nil, errors.New("pipeline requires a telemetry reader")
	case deps.Synthesizer == nil:
		return nil, errors.New("pipeline requires a synthesizer")
	case deps.Validator == nil:
		return nil, errors.New("pipeline requires a validator")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline requires a publisher")
	case deps.TopK <= 0:
		return nil, errors.New("pipeline requires a positive top k")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Encoder == nil {
		deps.Encoder = NewHashingEncoder(0)
	}
	if deps.Retriever == nil {
		deps.Retriever = NewRetriever(nil, deps.Logger)
	}
	if deps.State == nil {
		deps.State = state.NewMemoryStore()
	}
	return &Pipeline{
		logger:      deps.Logger,
		reader:      deps.Reader,
		incidents:   deps.Incidents,
		encoder:     deps.Encoder,
		retriever:   deps.Retriever,
		synthesizer: deps.Synthesizer,
		validator:   deps.Validator,
		state:       deps.State,
		publisher:   deps.Publisher,
		topK:        deps.TopK,
		now:         time.Now,
	}, nil
}

// LastAccepted returns the last accepted decision for target.
func (p *Pipeline) LastAccepted(target string) (models.Decision, bool) {
	return p.state.Get(target)
}

type cycle struct {
	id              string
	target          string
	replay          bool
	recentActionIDs []string
	logger          *slog.Logger
	started         time.Time
}

// Analyze assesses the trailing window ending at req.AsOf (now when zero).
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.CycleResult, error) {
	if req.Target == "" {
		return models.CycleResult{}, errors.New("target is required")
	}
	c := p.newCycle(req.Target, false, req.RecentActionIDs)
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = c.started
	}

	window, err := p.reader.Read(ctx, req.Target, asOf.UTC())
	if err != nil {
		return p.readFailed(c, err)
	}
	return p.run(ctx, c, window)
}

// Replay re-analyzes a stored incident. It never changes the last accepted
// decision and never reaches the execution layer.
func (p *Pipeline) Replay(ctx context.Context, req models.ReplayRequest) (models.CycleResult, error) {
	if p.incidents == nil {
		return models.CycleResult{}, errors.New("incident store not configured")
	}
	inc, err := p.incidents.Incident(ctx, req.IncidentID)
	if err != nil {
		return models.CycleResult{}, &CycleError{Target: req.IncidentID, Stage: StageRead, Err: err}
	}

	c := p.newCycle(inc.Target, true, nil)
	c.logger = c.logger.With(slog.String("incident_id", inc.IncidentID))

	window, err := p.reader.ReadRange(ctx, inc.Target, inc.Start, inc.End)
	if err != nil {
		return p.readFailed(c, err)
	}
	return p.run(ctx, c, window)
}

func (p *Pipeline) newCycle(target string, replay bool, actionIDs []string) *cycle {
	id := uuid.NewString()
	return &cycle{
		id:              id,
		target:          target,
		replay:          replay,
		recentActionIDs: actionIDs,
		logger:          p.logger.With(slog.String("target", target), slog.String("cycle_id", id)),
		started:         p.now(),
	}
}

func (p *Pipeline) readFailed(c *cycle, err error) (models.CycleResult, error) {
	outcome := metrics.OutcomeError
	if errors.Is(err, ErrDataUnavailable) {
		outcome = metrics.OutcomeDataUnavailable
		c.logger.Warn("cannot assess target: no telemetry in window", slog.Any("error", err))
	} else {
		c.logger.Error("telemetry read failed", slog.Any("error", err))
	}
	metrics.ObserveCycle(time.Since(c.started), outcome)
	return models.CycleResult{CycleID: c.id, Target: c.target, Replay: c.replay}, &CycleError{Target: c.target, Stage: StageRead, Err: err}
}

func (p *Pipeline) run(ctx context.Context, c *cycle, window models.TelemetryWindow) (models.CycleResult, error) {
	result := models.CycleResult{CycleID: c.id, Target: c.target, Replay: c.replay}

	summary := telemetry.Render(window)
	vector := p.encoder.Encode(summary)
	playbooks, degraded := p.retriever.Retrieve(ctx, vector, p.topK)
	if degraded {
		result.LowContext = true
		metrics.IncRetrievalDegraded()
		c.logger.Info("continuing without playbook context")
	}

	cand, err := p.synthesizer.Synthesize(ctx, SynthesisInput{
		Window:          window,
		Summary:         summary,
		Playbooks:       playbooks,
		RecentActionIDs: c.recentActionIDs,
		TopK:            p.topK,
	})
	metrics.ObserveSynthesisAttempts(cand.Attempts)
	if err != nil {
		return p.synthesisFailed(ctx, c, result, err)
	}
	// the engine owns the timestamp so redeliveries map to the same key
	cand.Decision.Timestamp = window.End

	verdict, err := p.validate(c, window, playbooks, cand.Decision, degraded)
	if err != nil {
		return p.rejected(ctx, c, result, cand.Decision, err)
	}

	result.Decision = &verdict.Decision
	result.Outcome = verdict.Outcome
	result.Reasons = verdict.Reasons
	result.Escalated = verdict.Escalate && !c.replay

	ack, err := p.publisher.Publish(ctx, publish.Request{
		CycleID:          c.id,
		Target:           c.target,
		Candidate:        cand.Decision,
		Decision:         verdict.Decision,
		Outcome:          verdict.Outcome,
		Reasons:          verdict.Reasons,
		Escalate:         verdict.Escalate,
		EscalationReason: verdict.EscalationReason,
		Replay:           c.replay,
	})
	if err != nil {
		c.logger.Error("publish failed", slog.Any("error", err))
		metrics.ObserveCycle(time.Since(c.started), metrics.OutcomeError)
		return result, &CycleError{Target: c.target, Stage: StagePublish, Err: err}
	}
	if result.Escalated {
		metrics.IncEscalation("anti_flap")
	}
	if !c.replay {
		if err := p.commit(c, verdict.Decision); err != nil {
			// the decision is already out; the next cycle brakes against the older state
			c.logger.Error("update last accepted failed", slog.Any("error", err))
		}
	}

	result.Duplicate = ack.Duplicate
	outcome := string(verdict.Outcome)
	if ack.Duplicate {
		outcome = string(models.AuditDuplicate)
	}
	metrics.ObserveCycle(time.Since(c.started), outcome)
	c.logger.Info("cycle complete",
		slog.String("outcome", outcome),
		slog.String("status", string(verdict.Decision.Status)),
		slog.String("action", string(verdict.Decision.RecommendedAction)),
		slog.Bool("low_context", degraded),
		slog.Duration("elapsed", time.Since(c.started)),
	)
	return result, nil
}

// validate checks the candidate against the last published decision. State
// is only read here; commit records the decision once it has left the engine,
// so a failed enqueue leaves the predecessor in place for the redelivery.
func (p *Pipeline) validate(c *cycle, window models.TelemetryWindow, playbooks []models.PlaybookEntry, candidate models.Decision, lowContext bool) (Verdict, error) {
	in := ValidationInput{
		Candidate:       candidate,
		Window:          window,
		Playbooks:       playbooks,
		RecentActionIDs: c.recentActionIDs,
	}
	if prev, ok := p.state.Get(c.target); ok {
		in.Previous = &prev
	}
	v, err := p.validator.Validate(in)
	if err != nil {
		return Verdict{}, err
	}
	if lowContext {
		v.Decision.Reasoning = annotate(v.Decision.Reasoning, markerLowContext)
	}
	return v, nil
}

// commit stores a published decision as last accepted. Redeliveries and late
// cycles never replace a decision that is as new or newer.
func (p *Pipeline) commit(c *cycle, d models.Decision) error {
	return p.state.Update(c.target, func(prev *models.Decision) (*models.Decision, error) {
		if prev != nil && !d.Timestamp.After(prev.Timestamp) {
			return nil, nil
		}
		next := d.Clone()
		return &next, nil
	})
}

func (p *Pipeline) synthesisFailed(ctx context.Context, c *cycle, result models.CycleResult, err error) (models.CycleResult, error) {
	if !errors.Is(err, ErrSynthesisFailed) {
		err = fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	c.logger.Error("synthesis failed", slog.Any("error", err))
	result.Outcome = models.AuditSynthesisFailed

	if auditErr := p.publisher.RecordFailure(ctx, c.id, c.target, models.AuditSynthesisFailed, err.Error(), nil, c.replay); auditErr != nil {
		c.logger.Error("audit synthesis failure", slog.Any("error", auditErr))
	}
	if !c.replay {
		p.publisher.Escalate(ctx, models.Escalation{
			Target:  c.target,
			CycleID: c.id,
			Reason:  "no decision could be synthesized: " + err.Error(),
		})
		metrics.IncEscalation("synthesis_failed")
		result.Escalated = true
	}
	metrics.ObserveCycle(time.Since(c.started), string(models.AuditSynthesisFailed))
	return result, &CycleError{Target: c.target, Stage: StageSynthesize, Err: err}
}

func (p *Pipeline) rejected(ctx context.Context, c *cycle, result models.CycleResult, candidate models.Decision, err error) (models.CycleResult, error) {
	var rej *RejectionError
	reason := err.Error()
	if errors.As(err, &rej) {
		reason = rej.Reason
	} else {
		// not a guardrail verdict
		c.logger.Error("validation failed", slog.Any("error", err))
		metrics.ObserveCycle(time.Since(c.started), metrics.OutcomeError)
		return result, &CycleError{Target: c.target, Stage: StageValidate, Err: err}
	}

	c.logger.Warn("candidate rejected", slog.String("reason", reason),
		slog.String("status", string(candidate.Status)),
		slog.String("action", string(candidate.RecommendedAction)),
	)
	result.Outcome = models.AuditRejected
	result.Reasons = []string{reason}
	if auditErr := p.publisher.RecordFailure(ctx, c.id, c.target, models.AuditRejected, reason, &candidate, c.replay); auditErr != nil {
		c.logger.Error("audit rejection", slog.Any("error", auditErr))
	}
	metrics.ObserveCycle(time.Since(c.started), string(models.AuditRejected))
	return result, &CycleError{Target: c.target, Stage: StageValidate, Err: err}
}
