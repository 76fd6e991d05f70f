package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

// PostgresStore reads probe telemetry and incidents and appends audit records
// on PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresPool opens and pings a pgx connection pool.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps an existing pool. A non-positive timeout disables
// the per-query deadline.
func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: timeout}
}

// Query returns the records of target observed at or after since, oldest first.
func (s *PostgresStore) Query(ctx context.Context, target string, since time.Time) ([]models.TelemetryRecord, error) {
	const query = `SELECT ts, region, target, query_type, latency_ms, status, nameserver, response_code
		FROM telemetry_records WHERE target = $1 AND ts >= $2 ORDER BY ts ASC`
	recs, err := s.queryRecords(ctx, query, target, since.UTC())
	return recs, utils.WrapStore("postgres", "query", target, err)
}

// QueryRange returns the records of target observed within [start, end].
func (s *PostgresStore) QueryRange(ctx context.Context, target string, start, end time.Time) ([]models.TelemetryRecord, error) {
	const query = `SELECT ts, region, target, query_type, latency_ms, status, nameserver, response_code
		FROM telemetry_records WHERE target = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts ASC`
	recs, err := s.queryRecords(ctx, query, target, start.UTC(), end.UTC())
	return recs, utils.WrapStore("postgres", "query range", target, err)
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]models.TelemetryRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		var rec models.TelemetryRecord
		var status string
		if err := rows.Scan(&rec.Timestamp, &rec.Region, &rec.Target, &rec.QueryType, &rec.LatencyMS, &status, &rec.Nameserver, &rec.ResponseCode); err != nil {
			return nil, err
		}
		rec.Status = models.ProbeStatus(status)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Incident looks up a stored past incident by identifier.
func (s *PostgresStore) Incident(ctx context.Context, id string) (models.Incident, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const query = `SELECT incident_id, target, started_at, ended_at FROM incidents WHERE incident_id = $1`
	var inc models.Incident
	err := s.pool.QueryRow(ctx, query, id).Scan(&inc.IncidentID, &inc.Target, &inc.Start, &inc.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return models.Incident{}, utils.WrapStore("postgres", "incident", id, err)
	}
	inc.Start, inc.End = inc.Start.UTC(), inc.End.UTC()
	return inc, nil
}

// Append writes one audit record. The table rejects updates and deletes.
func (s *PostgresStore) Append(ctx context.Context, rec models.AuditRecord) error {
	candidate, err := marshalDecision(rec.Candidate)
	if err != nil {
		return err
	}
	final, err := marshalDecision(rec.Final)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const query = `INSERT INTO decision_audit
		(id, cycle_id, target, decision_key, outcome, reason, escalated, replay, candidate, final, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query, rec.ID, rec.CycleID, rec.Target, rec.DecisionKey, string(rec.Outcome),
		rec.Reason, rec.Escalated, rec.Replay, candidate, final, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest audit records for target, newest first.
func (s *PostgresStore) Recent(ctx context.Context, target string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const query = `SELECT id, cycle_id, target, decision_key, outcome, reason, escalated, replay, candidate, final, created_at
		FROM decision_audit WHERE target = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var outcome string
		var candidate, final []byte
		if err := rows.Scan(&rec.ID, &rec.CycleID, &rec.Target, &rec.DecisionKey, &outcome, &rec.Reason,
			&rec.Escalated, &rec.Replay, &candidate, &final, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Outcome = models.AuditOutcome(outcome)
		if rec.Candidate, err = unmarshalDecision(candidate); err != nil {
			return nil, err
		}
		if rec.Final, err = unmarshalDecision(final); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func marshalDecision(d *models.Decision) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	return data, nil
}

func unmarshalDecision(data []byte) (*models.Decision, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var d models.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	return &d, nil
}
