// Package trigger runs analysis cycles for telemetry-batch events delivered
// on a Redis stream consumer group.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/dnssentinel/sentinel-brain/internal/engine"
	"github.com/dnssentinel/sentinel-brain/internal/metrics"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Analyzer runs one live cycle.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (models.CycleResult, error)
}

// Event announces that a new telemetry batch landed for a target.
type Event struct {
	ID              string
	Target          string
	AsOf            time.Time
	RecentActionIDs []string
}

// Event results reported to metrics.
const (
	ResultPublished       = "published"
	ResultDuplicate       = "duplicate"
	ResultRejected        = "rejected"
	ResultDataUnavailable = "data_unavailable"
	ResultFailed          = "failed"
	ResultInvalid         = "invalid"
)

// Options configures a Consumer.
type Options struct {
	Stream           string
	Group            string
	Consumer         string
	Block            time.Duration
	BatchSize        int64
	MaxCycleAttempts int
	RatePerTarget    float64
	Burst            int
	CycleTimeout     time.Duration
	Logger           *slog.Logger
}

// Consumer reads events from the stream and drives the analyzer. Cycles for
// the same target are rate limited independently of other targets.
type Consumer struct {
	client   redis.Cmdable
	analyzer Analyzer
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Consumer.
func New(client redis.Cmdable, analyzer Analyzer, opts Options) (*Consumer, error) {
	if analyzer == nil {
		return nil, errors.New("trigger requires an analyzer")
	}
	if opts.Stream == "" || opts.Group == "" || opts.Consumer == "" {
		return nil, errors.New("trigger requires stream, group and consumer names")
	}
	if opts.MaxCycleAttempts <= 0 {
		opts.MaxCycleAttempts = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		analyzer: analyzer,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("stream", opts.Stream), slog.String("group", opts.Group)),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Run consumes until ctx is cancelled. Events are acknowledged once
// handled. Entries this consumer read but never acknowledged, for instance
// because it was stopped mid-cycle, are re-read before any new entry.
func (c *Consumer) Run(ctx context.Context) error {
	if c.client == nil {
		return errors.New("trigger requires a redis client")
	}
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("trigger consumer started", slog.String("consumer", c.opts.Consumer))

	// "0" walks this consumer's pending list; ">" asks for new entries.
	cursor := "0"
	for {
		args := &redis.XReadGroupArgs{
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			Streams:  []string{c.opts.Stream, cursor},
			Count:    c.opts.BatchSize,
			Block:    c.opts.Block,
		}
		if cursor != ">" {
			args.Block = -1
		}
		streams, err := c.client.XReadGroup(ctx, args).Result()
		if ctx.Err() != nil {
			c.logger.Info("trigger consumer stopped")
			return nil
		}
		if errors.Is(err, redis.Nil) {
			if cursor != ">" {
				cursor = ">"
			}
			continue
		}
		if err != nil {
			c.logger.Error("read trigger stream", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		read := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				read++
				if cursor != ">" {
					cursor = msg.ID
				}
				result := c.handle(ctx, msg)
				if ctx.Err() != nil {
					return nil
				}
				metrics.IncTriggerEvent(result)
				if err := c.client.XAck(context.WithoutCancel(ctx), c.opts.Stream, c.opts.Group, msg.ID).Err(); err != nil {
					c.logger.Error("ack trigger event", slog.String("event_id", msg.ID), slog.Any("error", err))
				}
			}
		}
		if cursor != ">" && read == 0 {
			c.logger.Info("pending trigger events drained")
			cursor = ">"
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.opts.Group, err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) string {
	ev, err := ParseEvent(msg)
	if err != nil {
		c.logger.Warn("dropping invalid trigger event", slog.String("event_id", msg.ID), slog.Any("error", err))
		return ResultInvalid
	}
	if err := c.limiter(ev.Target).Wait(ctx); err != nil {
		return ResultFailed
	}
	res, err := c.runCycle(ctx, ev)
	return classify(res, err)
}

// runCycle retries the whole cycle only when synthesis failed; every other
// error is final.
func (c *Consumer) runCycle(ctx context.Context, ev Event) (models.CycleResult, error) {
	req := models.AnalyzeRequest{Target: ev.Target, AsOf: ev.AsOf, RecentActionIDs: ev.RecentActionIDs}
	logger := c.logger.With(slog.String("target", ev.Target), slog.String("event_id", ev.ID))

	var (
		res models.CycleResult
		err error
	)
	for attempt := 1; attempt <= c.opts.MaxCycleAttempts; attempt++ {
		res, err = c.analyze(ctx, req)
		if err == nil || !errors.Is(err, engine.ErrSynthesisFailed) || ctx.Err() != nil {
			return res, err
		}
		logger.Warn("cycle synthesis failed", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return res, err
}

func (c *Consumer) analyze(ctx context.Context, req models.AnalyzeRequest) (models.CycleResult, error) {
	if c.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CycleTimeout)
		defer cancel()
	}
	return c.analyzer.Analyze(ctx, req)
}

func (c *Consumer) limiter(target string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[target]
	if !ok {
		limit := rate.Inf
		if c.opts.RatePerTarget > 0 {
			limit = rate.Limit(c.opts.RatePerTarget)
		}
		l = rate.NewLimiter(limit, c.opts.Burst)
		c.limiters[target] = l
	}
	return l
}

func classify(res models.CycleResult, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return ResultDuplicate
	case err == nil:
		return ResultPublished
	case errors.Is(err, engine.ErrDataUnavailable):
		return ResultDataUnavailable
	case errors.Is(err, engine.ErrRejected):
		return ResultRejected
	default:
		return ResultFailed
	}
}

// ParseEvent decodes a stream entry. target is required; as_of is RFC3339
// and defaults to the millisecond time of the entry ID, so every delivery of
// one entry assesses the same window; recent_action_ids is a comma list.
func ParseEvent(msg redis.XMessage) (Event, error) {
	ev := Event{ID: msg.ID}
	ev.Target = strings.TrimSpace(stringValue(msg.Values["target"]))
	if ev.Target == "" {
		return Event{}, errors.New("event has no target")
	}
	if raw := strings.TrimSpace(stringValue(msg.Values["as_of"])); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Event{}, fmt.Errorf("invalid as_of %q: %w", raw, err)
		}
		ev.AsOf = ts.UTC()
	} else {
		ts, err := entryTime(msg.ID)
		if err != nil {
			return Event{}, err
		}
		ev.AsOf = ts
	}
	for _, id := range strings.Split(stringValue(msg.Values["recent_action_ids"]), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ev.RecentActionIDs = append(ev.RecentActionIDs, id)
		}
	}
	return ev, nil
}

// entryTime reads the millisecond prefix of a stream entry ID "<ms>-<seq>".
func entryTime(id string) (time.Time, error) {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("event has no as_of and entry id %q carries no time", id)
	}
	return time.UnixMilli(n).UTC(), nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
