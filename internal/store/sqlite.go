package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pubflow/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

const (
	StateDraft     = "draft"
	StateScheduled = "scheduled"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS drafts (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  source_ref TEXT NOT NULL DEFAULT '',
  original_created_at DATETIME,
  original_published_at DATETIME,
  state TEXT NOT NULL CHECK(state IN ('draft','scheduled')) DEFAULT 'draft',
  run_id TEXT,
  scheduled_at DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_drafts_state ON drafts(state);
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at DATETIME NOT NULL,
  window_start DATETIME NOT NULL,
  window_end DATETIME NOT NULL,
  total INTEGER NOT NULL,
  processed INTEGER NOT NULL,
  scheduled INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  stopped_early INTEGER NOT NULL DEFAULT 0,
  expanded_from INTEGER NOT NULL DEFAULT 0,
  expanded_to INTEGER NOT NULL DEFAULT 0,
  warnings TEXT NOT NULL DEFAULT '[]',
  errors TEXT NOT NULL DEFAULT '[]',
  unscheduled TEXT NOT NULL DEFAULT '[]',
  duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS assignments (
  run_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  source_ref TEXT NOT NULL DEFAULT '',
  scheduled_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL,
  published_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY(run_id, item_id),
  FOREIGN KEY(run_id) REFERENCES runs(id)
);
`
	_, err := db.Exec(schema)
	return err
}

// Draft is a stored item together with its scheduling state.
type Draft struct {
	domain.Item
	State       string     `json:"state"`
	RunID       string     `json:"run_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Repository interface {
	AddDraft(ctx context.Context, item domain.Item) (string, error)
	GetDraft(ctx context.Context, id string) (Draft, error)
	ListDrafts(ctx context.Context, state string, limit int) ([]Draft, error)
	// PendingDrafts returns drafts still waiting for a slot, oldest first.
	PendingDrafts(ctx context.Context, limit int) ([]domain.Item, error)
	MarkScheduled(ctx context.Context, runID string, as []domain.ScheduledAssignment) error

	SaveRun(ctx context.Context, run domain.RunSummary) error
	GetRun(ctx context.Context, id string) (domain.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	SaveAssignments(ctx context.Context, runID string, as []domain.ScheduledAssignment) error
	// RecordRun stores the run, its assignments and the drafts' new state in one transaction.
	RecordRun(ctx context.Context, run domain.RunSummary, as []domain.ScheduledAssignment) error
	ListAssignments(ctx context.Context, runID string) ([]domain.ScheduledAssignment, error)
}

type sqliteRepo struct{ db *sql.DB }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func NewRunID() string { return "run_" + uuid.NewString() }

func (r *sqliteRepo) AddDraft(ctx context.Context, item domain.Item) (string, error) {
	id := item.ID
	if id == "" {
		id = "itm_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO drafts (id,title,source_ref,original_created_at,original_published_at,state,created_at,updated_at)
VALUES (?,?,?,?,?,'draft',CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, item.Title, item.SourceRef, nullTime(item.OriginalCreatedAt), nullTime(item.OriginalPublishedAt))
	if isConstraint(err) {
		return "", fmt.Errorf("draft %s: %w", id, ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("insert draft %s: %w", id, err)
	}
	return id, nil
}

// isConstraint matches SQLITE_CONSTRAINT and its extended codes.
func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

const draftColumns = `id,title,source_ref,original_created_at,original_published_at,state,run_id,scheduled_at,created_at`

func scanDraft(row interface{ Scan(...any) error }) (Draft, error) {
	var d Draft
	var origCreated, origPublished, scheduledAt sql.NullTime
	var runID sql.NullString
	if err := row.Scan(&d.ID, &d.Title, &d.SourceRef, &origCreated, &origPublished, &d.State, &runID, &scheduledAt, &d.CreatedAt); err != nil {
		return Draft{}, err
	}
	if origCreated.Valid {
		d.OriginalCreatedAt = origCreated.Time
	}
	if origPublished.Valid {
		d.OriginalPublishedAt = origPublished.Time
	}
	if runID.Valid {
		d.RunID = runID.String
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		d.ScheduledAt = &t
	}
	return d, nil
}

func (r *sqliteRepo) GetDraft(ctx context.Context, id string) (Draft, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	return d, err
}

func (r *sqliteRepo) ListDrafts(ctx context.Context, state string, limit int) ([]Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	args := []any{}
	if state != "" {
		query += ` WHERE state=?`
		args = append(args, state)
	}
	query += ` ORDER BY rowid LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (r *sqliteRepo) PendingDrafts(ctx context.Context, limit int) ([]domain.Item, error) {
	drafts, err := r.ListDrafts(ctx, StateDraft, limit)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, len(drafts))
	for i, d := range drafts {
		items[i] = d.Item
	}
	return items, nil
}

func (r *sqliteRepo) MarkScheduled(ctx context.Context, runID string, as []domain.ScheduledAssignment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error { return markScheduled(ctx, tx, runID, as) })
}

func markScheduled(ctx context.Context, ex execer, runID string, as []domain.ScheduledAssignment) error {
	stmt, err := ex.PrepareContext(ctx, `
UPDATE drafts SET state='scheduled', run_id=?, scheduled_at=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND state='draft'`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range as {
		if _, err := stmt.ExecContext(ctx, runID, a.ScheduledAt, a.Item.ID); err != nil {
			return fmt.Errorf("mark %s scheduled: %w", a.Item.ID, err)
		}
	}
	return nil
}

func (r *sqliteRepo) RecordRun(ctx context.Context, run domain.RunSummary, as []domain.ScheduledAssignment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		if err := insertAssignments(ctx, tx, run.ID, as); err != nil {
			return err
		}
		return markScheduled(ctx, tx, run.ID, as)
	})
}

func (r *sqliteRepo) SaveRun(ctx context.Context, run domain.RunSummary) error {
	return insertRun(ctx, r.db, run)
}

func insertRun(ctx context.Context, ex execer, run domain.RunSummary) error {
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return err
	}
	itemErrs, err := json.Marshal(nonNil(run.Errors))
	if err != nil {
		return err
	}
	unscheduled, err := json.Marshal(nonNil(run.Unscheduled))
	if err != nil {
		return err
	}
	var from, to int
	if run.Expansion != nil {
		from, to = run.Expansion.FromDays, run.Expansion.ToDays
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO runs (id,started_at,window_start,window_end,total,processed,scheduled,failed,stopped_early,expanded_from,expanded_to,warnings,errors,unscheduled,duration_ms)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, run.ID, run.StartedAt, run.WindowStart, run.WindowEnd, run.Total, run.Processed, run.Scheduled, run.Failed,
		run.StoppedEarly, from, to, string(warnings), string(itemErrs), string(unscheduled), run.DurationMS)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id,started_at,window_start,window_end,total,processed,scheduled,failed,stopped_early,expanded_from,expanded_to,warnings,errors,unscheduled,duration_ms`

func scanRun(row interface{ Scan(...any) error }) (domain.RunSummary, error) {
	var run domain.RunSummary
	var from, to int
	var warnings, itemErrs, unscheduled string
	if err := row.Scan(&run.ID, &run.StartedAt, &run.WindowStart, &run.WindowEnd, &run.Total, &run.Processed, &run.Scheduled,
		&run.Failed, &run.StoppedEarly, &from, &to, &warnings, &itemErrs, &unscheduled, &run.DurationMS); err != nil {
		return domain.RunSummary{}, err
	}
	if to > 0 {
		run.Expansion = &domain.Expansion{FromDays: from, ToDays: to}
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return domain.RunSummary{}, fmt.Errorf("run %s warnings: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(itemErrs), &run.Errors); err != nil {
		return domain.RunSummary{}, fmt.Errorf("run %s errors: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(unscheduled), &run.Unscheduled); err != nil {
		return domain.RunSummary{}, fmt.Errorf("run %s unscheduled: %w", run.ID, err)
	}
	return run, nil
}

func (r *sqliteRepo) GetRun(ctx context.Context, id string) (domain.RunSummary, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSummary{}, ErrNotFound
	}
	return run, err
}

func (r *sqliteRepo) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *sqliteRepo) SaveAssignments(ctx context.Context, runID string, as []domain.ScheduledAssignment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error { return insertAssignments(ctx, tx, runID, as) })
}

func insertAssignments(ctx context.Context, ex execer, runID string, as []domain.ScheduledAssignment) error {
	stmt, err := ex.PrepareContext(ctx, `
INSERT INTO assignments (run_id,item_id,title,source_ref,scheduled_at,created_at,published_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range as {
		if _, err := stmt.ExecContext(ctx, runID, a.Item.ID, a.Item.Title, a.Item.SourceRef,
			a.ScheduledAt, a.CreatedAt, a.PublishedAt, a.UpdatedAt); err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.Item.ID, err)
		}
	}
	return nil
}

func (r *sqliteRepo) ListAssignments(ctx context.Context, runID string) ([]domain.ScheduledAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT item_id,title,source_ref,scheduled_at,created_at,published_at,updated_at
FROM assignments WHERE run_id=? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledAssignment
	for rows.Next() {
		var a domain.ScheduledAssignment
		if err := rows.Scan(&a.Item.ID, &a.Item.Title, &a.Item.SourceRef, &a.ScheduledAt, &a.CreatedAt, &a.PublishedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
