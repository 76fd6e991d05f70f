package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS telemetry_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            INTEGER NOT NULL,
	region        TEXT    NOT NULL,
	target        TEXT    NOT NULL,
	query_type    TEXT    NOT NULL,
	latency_ms    REAL    NOT NULL,
	status        TEXT    NOT NULL,
	nameserver    TEXT    NOT NULL DEFAULT '',
	response_code TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS telemetry_records_target_ts_idx ON telemetry_records (target, ts);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id TEXT PRIMARY KEY,
	target      TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_audit (
	id           TEXT PRIMARY KEY,
	cycle_id     TEXT    NOT NULL,
	target       TEXT    NOT NULL,
	decision_key TEXT    NOT NULL DEFAULT '',
	outcome      TEXT    NOT NULL,
	reason       TEXT    NOT NULL DEFAULT '',
	escalated    INTEGER NOT NULL DEFAULT 0,
	replay       INTEGER NOT NULL DEFAULT 0,
	candidate    TEXT,
	final        TEXT,
	created_at   INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS decision_audit_no_update BEFORE UPDATE ON decision_audit
BEGIN
	SELECT RAISE(ABORT, 'decision_audit is append-only');
END;

CREATE TRIGGER IF NOT EXISTS decision_audit_no_delete BEFORE DELETE ON decision_audit
BEGIN
	SELECT RAISE(ABORT, 'decision_audit is append-only');
END;
`

// SQLiteStore serves telemetry, incidents and the audit trail from a single
// SQLite file for single-node deployments and local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertRecords stores probe records. Used for seeding and tests; the
// sensing layer owns writes in production.
func (s *SQLiteStore) InsertRecords(ctx context.Context, records []models.TelemetryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `INSERT INTO telemetry_records
		(ts, region, target, query_type, latency_ms, status, nameserver, response_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.Timestamp.UTC().UnixNano(), rec.Region, rec.Target,
			rec.QueryType, rec.LatencyMS, string(rec.Status), rec.Nameserver, rec.ResponseCode); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertIncident stores a past incident so it can be replayed.
func (s *SQLiteStore) InsertIncident(ctx context.Context, inc models.Incident) error {
	const query = `INSERT INTO incidents (incident_id, target, started_at, ended_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, inc.IncidentID, inc.Target, inc.Start.UTC().UnixNano(), inc.End.UTC().UnixNano())
	return err
}

// Query returns the records of target observed at or after since, oldest first.
func (s *SQLiteStore) Query(ctx context.Context, target string, since time.Time) ([]models.TelemetryRecord, error) {
	const query = `SELECT ts, region, target, query_type, latency_ms, status, nameserver, response_code
		FROM telemetry_records WHERE target = ? AND ts >= ? ORDER BY ts ASC`
	recs, err := s.queryRecords(ctx, query, target, since.UTC().UnixNano())
	return recs, utils.WrapStore("sqlite", "query", target, err)
}

// QueryRange returns the records of target observed within [start, end].
func (s *SQLiteStore) QueryRange(ctx context.Context, target string, start, end time.Time) ([]models.TelemetryRecord, error) {
	const query = `SELECT ts, region, target, query_type, latency_ms, status, nameserver, response_code
		FROM telemetry_records WHERE target = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`
	recs, err := s.queryRecords(ctx, query, target, start.UTC().UnixNano(), end.UTC().UnixNano())
	return recs, utils.WrapStore("sqlite", "query range", target, err)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]models.TelemetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		var rec models.TelemetryRecord
		var ts int64
		var status string
		if err := rows.Scan(&ts, &rec.Region, &rec.Target, &rec.QueryType, &rec.LatencyMS, &status, &rec.Nameserver, &rec.ResponseCode); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.Status = models.ProbeStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Incident looks up a stored past incident by identifier.
func (s *SQLiteStore) Incident(ctx context.Context, id string) (models.Incident, error) {
	const query = `SELECT incident_id, target, started_at, ended_at FROM incidents WHERE incident_id = ?`
	var inc models.Incident
	var start, end int64
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&inc.IncidentID, &inc.Target, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return models.Incident{}, utils.WrapStore("sqlite", "incident", id, err)
	}
	inc.Start = time.Unix(0, start).UTC()
	inc.End = time.Unix(0, end).UTC()
	return inc, nil
}

// Append writes one audit record.
func (s *SQLiteStore) Append(ctx context.Context, rec models.AuditRecord) error {
	candidate, err := marshalDecision(rec.Candidate)
	if err != nil {
		return err
	}
	final, err := marshalDecision(rec.Final)
	if err != nil {
		return err
	}
	const query = `INSERT INTO decision_audit
		(id, cycle_id, target, decision_key, outcome, reason, escalated, replay, candidate, final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.CycleID, rec.Target, rec.DecisionKey, string(rec.Outcome),
		rec.Reason, rec.Escalated, rec.Replay, nullableText(candidate), nullableText(final), rec.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest audit records for target, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, target string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, cycle_id, target, decision_key, outcome, reason, escalated, replay, candidate, final, created_at
		FROM decision_audit WHERE target = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var outcome string
		var candidate, final sql.NullString
		var created int64
		if err := rows.Scan(&rec.ID, &rec.CycleID, &rec.Target, &rec.DecisionKey, &outcome, &rec.Reason,
			&rec.Escalated, &rec.Replay, &candidate, &final, &created); err != nil {
			return nil, err
		}
		rec.Outcome = models.AuditOutcome(outcome)
		rec.CreatedAt = time.Unix(0, created).UTC()
		if rec.Candidate, err = unmarshalDecision([]byte(candidate.String)); err != nil {
			return nil, err
		}
		if rec.Final, err = unmarshalDecision([]byte(final.String)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableText(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}
