// Package publish hands validated decisions to the execution layer and keeps
// the audit trail.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dnssentinel/sentinel-brain/internal/cache"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Intake is the execution layer's inbound channel.
type Intake interface {
	Enqueue(ctx context.Context, msg models.IntakeMessage) error
	Escalate(ctx context.Context, esc models.Escalation) error
}

// Auditor appends immutable audit records.
type Auditor interface {
	Append(ctx context.Context, rec models.AuditRecord) error
}

// Broadcaster fans audit records out to live operator feeds.
type Broadcaster interface {
	Broadcast(target string, payload []byte) bool
}

// Request is one validated decision ready for publication.
type Request struct {
	CycleID          string
	Target           string
	Candidate        models.Decision
	Decision         models.Decision
	Outcome          models.AuditOutcome
	Reasons          []string
	Escalate         bool
	EscalationReason string
	Replay           bool
}

// Ack reports what publication did.
type Ack struct {
	Key       string
	Duplicate bool
	AuditID   string
}

// Publisher deduplicates by decision key before enqueueing, so redelivered
// triggers never double-trigger remediation.
type Publisher struct {
	dedup    cache.Deduper
	dedupTTL time.Duration
	intake   Intake
	auditor  Auditor
	feed     Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// Options configures a Publisher.
type Options struct {
	Dedup    cache.Deduper
	DedupTTL time.Duration
	Intake   Intake
	Auditor  Auditor
	Feed     Broadcaster
	Logger   *slog.Logger
}

// New constructs a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Dedup == nil {
		return nil, errors.New("publisher requires a dedup cache")
	}
	if opts.Intake == nil {
		return nil, errors.New("publisher requires an intake")
	}
	if opts.Auditor == nil {
		return nil, errors.New("publisher requires an auditor")
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{
		dedup:    opts.Dedup,
		dedupTTL: opts.DedupTTL,
		intake:   opts.Intake,
		auditor:  opts.Auditor,
		feed:     opts.Feed,
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// Publish enqueues the decision once per decision key and records the audit
// entry. Replays are audited but never enqueued.
func (p *Publisher) Publish(ctx context.Context, req Request) (Ack, error) {
	key := models.DecisionKey(req.Target, req.Decision.Timestamp)
	ack := Ack{Key: key}
	logger := p.logger.With(slog.String("target", req.Target), slog.String("cycle_id", req.CycleID), slog.String("decision_key", key))

	if req.Replay {
		id, err := p.record(ctx, req, key, req.Outcome)
		ack.AuditID = id
		return ack, err
	}

	fresh, err := p.dedup.SetNX(ctx, dedupKey(key), []byte(req.CycleID), p.dedupTTL)
	if err != nil {
		return ack, fmt.Errorf("dedup %s: %w", key, err)
	}
	if !fresh {
		ack.Duplicate = true
		logger.Info("duplicate decision suppressed")
		id, err := p.record(ctx, req, key, models.AuditDuplicate)
		ack.AuditID = id
		return ack, err
	}

	msg := models.IntakeMessage{
		DecisionKey:        key,
		Target:             req.Target,
		EscalationRequired: req.Escalate,
		EscalationReason:   req.EscalationReason,
		Decision:           req.Decision,
	}
	if err := p.intake.Enqueue(ctx, msg); err != nil {
		// release the key so a redelivery can publish
		if delErr := p.dedup.Del(context.WithoutCancel(ctx), dedupKey(key)); delErr != nil {
			logger.Error("release dedup key failed", slog.Any("error", delErr))
		}
		return ack, fmt.Errorf("enqueue %s: %w", key, err)
	}

	if req.Escalate {
		p.escalate(ctx, models.Escalation{
			Target:      req.Target,
			CycleID:     req.CycleID,
			DecisionKey: key,
			Reason:      req.EscalationReason,
			RaisedAt:    p.now().UTC(),
		})
	}

	logger.Info("decision published",
		slog.String("status", string(req.Decision.Status)),
		slog.String("action", string(req.Decision.RecommendedAction)),
		slog.Float64("confidence", req.Decision.Confidence),
	)
	id, err := p.record(ctx, req, key, req.Outcome)
	ack.AuditID = id
	return ack, err
}

// RecordFailure audits a cycle that produced no publishable decision.
func (p *Publisher) RecordFailure(ctx context.Context, cycleID, target string, outcome models.AuditOutcome, reason string, candidate *models.Decision, replay bool) error {
	rec := models.AuditRecord{
		CycleID:   cycleID,
		Target:    target,
		Outcome:   outcome,
		Reason:    reason,
		Replay:    replay,
		Candidate: candidate,
	}
	if candidate != nil {
		rec.DecisionKey = models.DecisionKey(target, candidate.Timestamp)
	}
	_, err := p.append(ctx, rec)
	return err
}

// Escalate raises an operator alert. Failures are logged, never returned, so
// an unreachable alert channel cannot fail a cycle.
func (p *Publisher) Escalate(ctx context.Context, esc models.Escalation) {
	if esc.RaisedAt.IsZero() {
		esc.RaisedAt = p.now().UTC()
	}
	p.escalate(ctx, esc)
}

func (p *Publisher) escalate(ctx context.Context, esc models.Escalation) {
	if err := p.intake.Escalate(ctx, esc); err != nil {
		p.logger.Error("escalation failed", slog.String("target", esc.Target), slog.String("cycle_id", esc.CycleID), slog.Any("error", err))
		return
	}
	p.logger.Warn("escalation raised", slog.String("target", esc.Target), slog.String("cycle_id", esc.CycleID), slog.String("reason", esc.Reason))
}

func (p *Publisher) record(ctx context.Context, req Request, key string, outcome models.AuditOutcome) (string, error) {
	candidate := req.Candidate.Clone()
	final := req.Decision.Clone()
	return p.append(ctx, models.AuditRecord{
		CycleID:     req.CycleID,
		Target:      req.Target,
		DecisionKey: key,
		Outcome:     outcome,
		Reason:      strings.Join(req.Reasons, "; "),
		Escalated:   req.Escalate,
		Replay:      req.Replay,
		Candidate:   &candidate,
		Final:       &final,
	})
}

func (p *Publisher) append(ctx context.Context, rec models.AuditRecord) (string, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = p.now().UTC()
	// the audit write must land even when the cycle deadline has passed
	if err := p.auditor.Append(context.WithoutCancel(ctx), rec); err != nil {
		return rec.ID, fmt.Errorf("append audit: %w", err)
	}
	if p.feed != nil {
		if payload, err := json.Marshal(rec); err == nil {
			p.feed.Broadcast(rec.Target, payload)
		}
	}
	return rec.ID, nil
}

func dedupKey(key string) string {
	return "sentinel:decision:" + key
}
