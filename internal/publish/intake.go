package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// RedisIntake appends decisions and escalations to Redis streams.
type RedisIntake struct {
	client           redis.Cmdable
	intakeStream     string
	escalationStream string
}

// NewRedisIntake constructs a stream-backed intake.
func NewRedisIntake(client redis.Cmdable, intakeStream, escalationStream string) *RedisIntake {
	return &RedisIntake{client: client, intakeStream: intakeStream, escalationStream: escalationStream}
}

// Enqueue XADDs the intake message.
func (r *RedisIntake) Enqueue(ctx context.Context, msg models.IntakeMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal intake message: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.intakeStream,
		Values: map[string]any{
			"decision_key": msg.DecisionKey,
			"target":       msg.Target,
			"payload":      string(payload),
		},
	}).Err()
}

// Escalate XADDs an operator escalation.
func (r *RedisIntake) Escalate(ctx context.Context, esc models.Escalation) error {
	payload, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.escalationStream,
		Values: map[string]any{
			"target":  esc.Target,
			"payload": string(payload),
		},
	}).Err()
}

// LogIntake writes decisions to the log. Used when no Redis is configured.
type LogIntake struct {
	logger *slog.Logger
}

// NewLogIntake constructs a log-only intake.
func NewLogIntake(logger *slog.Logger) *LogIntake {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogIntake{logger: logger}
}

// Enqueue logs the message.
func (l *LogIntake) Enqueue(_ context.Context, msg models.IntakeMessage) error {
	l.logger.Info("intake",
		slog.String("decision_key", msg.DecisionKey),
		slog.String("target", msg.Target),
		slog.String("status", string(msg.Decision.Status)),
		slog.String("action", string(msg.Decision.RecommendedAction)),
		slog.Bool("escalation_required", msg.EscalationRequired),
	)
	return nil
}

// Escalate logs the escalation.
func (l *LogIntake) Escalate(_ context.Context, esc models.Escalation) error {
	l.logger.Warn("escalation", slog.String("target", esc.Target), slog.String("cycle_id", esc.CycleID), slog.String("reason", esc.Reason))
	return nil
}
