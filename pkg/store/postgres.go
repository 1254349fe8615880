package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/logging"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps identities and attendance events in PostgreSQL,
// with reference embeddings in a pgvector column. It implements
// enrollment.Store and attendance.EventLog.
type PostgresStore struct {
	db         *sql.DB
	dimensions int
}

// NewPostgresStore opens a connection pool for dsn and runs migrations.
// dimensions fixes the vector column width and must match the deployment
// embedding dimensionality.
func NewPostgresStore(dsn string, dimensions int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	if dimensions <= 0 {
		return nil, errors.New("embedding dimensionality must be positive")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Unavailable(fmt.Errorf("failed to ping database: %w", err))
	}

	ps := &PostgresStore{db: db, dimensions: dimensions}
	if err := ps.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return ps, nil
}

// Close closes the connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS identities (
			key          TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			embedding    vector(%d),
			enrolled_at  TIMESTAMPTZ,
			quality      DOUBLE PRECISION NOT NULL DEFAULT 0
		)`, ps.dimensions),
		`CREATE TABLE IF NOT EXISTS attendance_events (
			id           UUID PRIMARY KEY,
			identity_key TEXT NOT NULL REFERENCES identities(key) ON DELETE CASCADE,
			type         TEXT NOT NULL,
			ts           TIMESTAMPTZ NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
			capture_ref  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_events_identity_ts
			ON attendance_events (identity_key, ts DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	logging.Debug("PostgreSQL migrations applied")
	return nil
}

const identityColumns = `key, display_name, embedding::text, enrolled_at, quality`

func scanIdentity(scanner interface{ Scan(...any) error }) (enrollment.Identity, error) {
	var (
		id         enrollment.Identity
		vecText    sql.NullString
		enrolledAt sql.NullTime
	)
	if err := scanner.Scan(&id.Key, &id.DisplayName, &vecText, &enrolledAt, &id.Quality); err != nil {
		return id, err
	}

	if vecText.Valid {
		vec, err := parseVectorText(vecText.String)
		if err != nil {
			return id, fmt.Errorf("identity %s: %w", id.Key, err)
		}
		id.Embedding.Vector = vec
		id.Embedding.Quality = id.Quality
	}
	if enrolledAt.Valid {
		id.EnrolledAt = enrolledAt.Time
	}
	return id, nil
}

// parseVectorText parses the pgvector text representation "[1,2,3]".
func parseVectorText(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Get returns the identity for key.
func (ps *PostgresStore) Get(ctx context.Context, key string) (*enrollment.Identity, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE key = $1`, key)

	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrIdentityNotFound
	}
	if err != nil {
		return nil, Unavailable(err)
	}
	return &id, nil
}

// Upsert inserts or replaces an identity in a single statement, so a
// concurrent reader sees either the old or the new embedding.
func (ps *PostgresStore) Upsert(ctx context.Context, id enrollment.Identity) error {
	var vec interface{}
	if id.HasEmbedding() {
		vec = pgvector.NewVector(id.Embedding.Vector)
	}

	var enrolledAt interface{}
	if !id.EnrolledAt.IsZero() {
		enrolledAt = id.EnrolledAt
	}

	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO identities (key, display_name, embedding, enrolled_at, quality)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			embedding    = EXCLUDED.embedding,
			enrolled_at  = EXCLUDED.enrolled_at,
			quality      = EXCLUDED.quality`,
		id.Key, id.DisplayName, vec, enrolledAt, id.Quality)
	if err != nil {
		return Unavailable(fmt.Errorf("upserting identity %s: %w", id.Key, err))
	}
	return nil
}

// List returns all identities sorted by key.
func (ps *PostgresStore) List(ctx context.Context) ([]enrollment.Identity, error) {
	return ps.listWhere(ctx, ``)
}

// ListEnrolled returns identities holding a reference embedding.
func (ps *PostgresStore) ListEnrolled(ctx context.Context) ([]enrollment.Identity, error) {
	return ps.listWhere(ctx, `WHERE embedding IS NOT NULL`)
}

func (ps *PostgresStore) listWhere(ctx context.Context, where string) ([]enrollment.Identity, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities `+where+` ORDER BY key`)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer rows.Close()

	var out []enrollment.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, Unavailable(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(err)
	}
	return out, nil
}

// Delete removes an identity; the foreign key cascades to its events.
func (ps *PostgresStore) Delete(ctx context.Context, key string) error {
	res, err := ps.db.ExecContext(ctx, `DELETE FROM identities WHERE key = $1`, key)
	if err != nil {
		return Unavailable(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return enrollment.ErrIdentityNotFound
	}
	logging.Infof("Deleted identity and events: %s", key)
	return nil
}

// Append records an attendance event.
func (ps *PostgresStore) Append(ctx context.Context, ev attendance.Event) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO attendance_events (id, identity_key, type, ts, confidence, capture_ref)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.IdentityKey, string(ev.Type), ev.Timestamp, ev.Confidence, ev.CaptureRef)
	if err != nil {
		return Unavailable(fmt.Errorf("appending event for %s: %w", ev.IdentityKey, err))
	}
	return nil
}

// LatestFor returns the most recent event for an identity, or nil.
func (ps *PostgresStore) LatestFor(ctx context.Context, identityKey string) (*attendance.Event, error) {
	row := ps.db.QueryRowContext(ctx, `
		SELECT id, identity_key, type, ts, confidence, capture_ref
		FROM attendance_events
		WHERE identity_key = $1
		ORDER BY ts DESC
		LIMIT 1`, identityKey)

	var ev attendance.Event
	var typ string
	err := row.Scan(&ev.ID, &ev.IdentityKey, &typ, &ev.Timestamp, &ev.Confidence, &ev.CaptureRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Unavailable(err)
	}
	ev.Type = attendance.Transition(typ)
	return &ev, nil
}

// ListByDateRange returns events in [start, end], ascending by timestamp.
func (ps *PostgresStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]attendance.Event, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, identity_key, type, ts, confidence, capture_ref
		FROM attendance_events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC`, start, end)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer rows.Close()

	var out []attendance.Event
	for rows.Next() {
		var ev attendance.Event
		var typ string
		if err := rows.Scan(&ev.ID, &ev.IdentityKey, &typ, &ev.Timestamp, &ev.Confidence, &ev.CaptureRef); err != nil {
			return nil, Unavailable(err)
		}
		ev.Type = attendance.Transition(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(err)
	}
	return out, nil
}
