package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// ErrDataUnavailable signals that the store returned no telemetry for the
// requested window. Callers must treat it as "cannot assess", never as healthy.
var ErrDataUnavailable = errors.New("telemetry data unavailable")

// Store is the analytical store query interface owned by the sensing layer.
type Store interface {
	Query(ctx context.Context, target string, since time.Time) ([]models.TelemetryRecord, error)
	QueryRange(ctx context.Context, target string, start, end time.Time) ([]models.TelemetryRecord, error)
}

// Reader builds telemetry windows from the analytical store.
type Reader struct {
	store    Store
	window   time.Duration
	expected []string
	logger   *slog.Logger
	backoff  time.Duration
}

// NewReader constructs a Reader. expected lists the regions the probe fleet
// covers; any of them missing from a window is reported as unknown.
func NewReader(store Store, window time.Duration, expected []string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		store:    store,
		window:   window,
		expected: append([]string(nil), expected...),
		logger:   logger,
		backoff:  100 * time.Millisecond,
	}
}

// Window returns the configured trailing duration.
func (r *Reader) Window() time.Duration { return r.window }

// Read returns the trailing window ending at asOf.
func (r *Reader) Read(ctx context.Context, target string, asOf time.Time) (models.TelemetryWindow, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	since := asOf.Add(-r.window)

	records, err := r.withRetry(ctx, "query", func() ([]models.TelemetryRecord, error) {
		return r.store.Query(ctx, target, since)
	})
	if err != nil {
		return models.TelemetryWindow{}, fmt.Errorf("%w: query %s: %w", ErrDataUnavailable, target, err)
	}
	// The store filters on since only; records newer than asOf belong to a later cycle.
	records = clip(records, since, asOf)
	if len(records) == 0 {
		return models.TelemetryWindow{}, fmt.Errorf("%w: no records for %s since %s", ErrDataUnavailable, target, since.Format(time.RFC3339))
	}
	return Aggregate(target, since, asOf, records, r.expected), nil
}

// ReadRange returns the window for a fixed interval, used when replaying incidents.
func (r *Reader) ReadRange(ctx context.Context, target string, start, end time.Time) (models.TelemetryWindow, error) {
	if !end.After(start) {
		return models.TelemetryWindow{}, fmt.Errorf("%w: empty range for %s", ErrDataUnavailable, target)
	}
	records, err := r.withRetry(ctx, "query_range", func() ([]models.TelemetryRecord, error) {
		return r.store.QueryRange(ctx, target, start, end)
	})
	if err != nil {
		return models.TelemetryWindow{}, fmt.Errorf("%w: query range %s: %w", ErrDataUnavailable, target, err)
	}
	records = clip(records, start, end)
	if len(records) == 0 {
		return models.TelemetryWindow{}, fmt.Errorf("%w: no records for %s between %s and %s", ErrDataUnavailable, target, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Aggregate(target, start, end, records, r.expected), nil
}

// withRetry runs fn and retries once on a transient failure.
func (r *Reader) withRetry(ctx context.Context, op string, fn func() ([]models.TelemetryRecord, error)) ([]models.TelemetryRecord, error) {
	records, err := fn()
	if err == nil || !transient(ctx, err) {
		return records, err
	}
	r.logger.Warn("telemetry store error, retrying once", slog.String("op", op), slog.Any("error", err))

	timer := time.NewTimer(r.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return fn()
}

func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func clip(records []models.TelemetryRecord, start, end time.Time) []models.TelemetryRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
