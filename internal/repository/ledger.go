// Package repository persists the outcome of every job so renames can be audited and undone.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS renames (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id    TEXT NOT NULL,
    job_id      TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL,
    new_path    TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    kind        TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    phase       TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    tokens      INTEGER NOT NULL DEFAULT 0,
    calls       INTEGER NOT NULL DEFAULT 0,
    elapsed_ms  INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    reverted_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_renames_batch ON renames(batch_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS renames (
    id          BIGSERIAL PRIMARY KEY,
    batch_id    TEXT NOT NULL,
    job_id      TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL,
    new_path    TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    kind        TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    phase       TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    tokens      INTEGER NOT NULL DEFAULT 0,
    calls       INTEGER NOT NULL DEFAULT 0,
    elapsed_ms  BIGINT NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    reverted_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_renames_batch ON renames(batch_id);
`

const entryColumns = `id, batch_id, job_id, path, new_path, name, status, kind, reason,
       phase, language, tokens, calls, elapsed_ms, created_at, reverted_at`

// Entry is one ledger row.
type Entry struct {
	ID         int64
	BatchID    string
	JobID      string
	Path       string
	NewPath    string
	Name       string
	Status     constants.JobStatus
	Kind       constants.FailureKind
	Reason     string
	Phase      string
	Language   string
	Tokens     int
	Calls      int
	ElapsedMs  int64
	CreatedAt  time.Time
	RevertedAt time.Time
}

// BatchSummary is an aggregate over one batch's rows.
type BatchSummary struct {
	BatchID   string
	Files     int
	Renamed   int
	Tokens    int
	StartedAt time.Time
}

// Ledger is the rename history store.
type Ledger struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

var _ pipeline.Recorder = (*Ledger)(nil)

func (l *Ledger) migrate(ctx context.Context) error {
	ddl := sqliteSchema
	if l.dialect == DialectPostgres {
		ddl = postgresSchema
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError("DB_ERROR", "run migrations", errors.Join(common.ErrDatabase, err))
		}
	}
	return nil
}

// rebind turns ? placeholders into $N for postgres.
func (l *Ledger) rebind(q string) string {
	if l.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *Ledger) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Record stores a terminal job result. Re-recording the same job id is ignored.
func (l *Ledger) Record(ctx context.Context, batchID string, r pipeline.JobResult) error {
	_, err := l.db.ExecContext(ctx, l.rebind(`
		INSERT INTO renames (
			batch_id, job_id, path, new_path, name, status, kind, reason,
			phase, language, tokens, calls, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`),
		batchID, r.JobID, r.Path, r.NewPath, r.Name, string(r.Status), string(r.Kind), r.Reason,
		r.Phase, r.Language, r.TokenCost, r.Calls, r.Elapsed.Milliseconds(),
		l.clock().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// LatestBatch returns the id of the most recently recorded batch.
func (l *Ledger) LatestBatch(ctx context.Context) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx, `SELECT batch_id FROM renames ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.NewAppError("NOT_FOUND", "ledger is empty", common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query latest batch: %w", err)
	}
	return id, nil
}

// Entries returns every row of a batch in insertion order.
func (l *Ledger) Entries(ctx context.Context, batchID string) ([]Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM renames WHERE batch_id = ? ORDER BY id ASC`, batchID)
}

// Renamed returns the rows of a batch whose file was actually moved and not yet reverted.
func (l *Ledger) Renamed(ctx context.Context, batchID string) ([]Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM renames
		WHERE batch_id = ? AND status = ? AND new_path <> path
		ORDER BY id DESC`, batchID, string(constants.JobStatusRenamed))
}

// MarkReverted flags a row as undone.
func (l *Ledger) MarkReverted(ctx context.Context, id int64) error {
	res, err := l.db.ExecContext(ctx, l.rebind(`UPDATE renames SET status = ?, reverted_at = ? WHERE id = ?`),
		string(constants.JobStatusReverted), l.clock().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark reverted id=%d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("ledger entry %d", id), common.ErrNotFound)
	}
	return nil
}

// Batches lists the most recent batches, newest first.
func (l *Ledger) Batches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, l.rebind(`
		SELECT batch_id, COUNT(*), SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), SUM(tokens), MIN(created_at), MAX(id)
		FROM renames
		GROUP BY batch_id
		ORDER BY MAX(id) DESC
		LIMIT ?`), string(constants.JobStatusRenamed), limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var (
			b       BatchSummary
			started string
			maxID   int64
		)
		if err := rows.Scan(&b.BatchID, &b.Files, &b.Renamed, &b.Tokens, &started, &maxID); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.StartedAt = parseTime(started)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			status, kind      string
			created, reverted string
		)
		if err := rows.Scan(
			&e.ID, &e.BatchID, &e.JobID, &e.Path, &e.NewPath, &e.Name, &status, &kind, &e.Reason,
			&e.Phase, &e.Language, &e.Tokens, &e.Calls, &e.ElapsedMs, &created, &reverted,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Status = constants.JobStatus(status)
		e.Kind = constants.FailureKind(kind)
		e.CreatedAt = parseTime(created)
		e.RevertedAt = parseTime(reverted)
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
