// Package store implements per-level SQLite persistence for context records
// and the project/branch/task registry.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
)

// DefaultTimeout bounds a single store operation when the caller does not
// configure one.
const DefaultTimeout = 5 * time.Second

// Store wraps a *sql.DB with the path it was opened from and the per-call
// I/O bound.
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

// Open opens (or creates) the SQLite database at path and initialises the
// schema. timeout bounds each store call; pass 0 for DefaultTimeout.
func Open(path string, timeout time.Duration) (*Store, error) {
	sqldb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Store{db: sqldb, path: path, timeout: timeout}
	if err := s.createSchema(); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("store.Open createSchema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path the store was opened from.
func (s *Store) Path() string { return s.path }

// opCtx derives a bounded context for one store operation.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// contextCols are the columns shared by all four context tables.
const contextCols = `
	data                 TEXT NOT NULL,
	insights             TEXT NOT NULL DEFAULT '[]',
	progress             TEXT NOT NULL DEFAULT '[]',
	inheritance_disabled INTEGER NOT NULL DEFAULT 0,
	version              INTEGER NOT NULL DEFAULT 1,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL`

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS global_contexts (
			id TEXT PRIMARY KEY,` + contextCols + `
		)`,
		`CREATE TABLE IF NOT EXISTS project_contexts (
			id        TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL REFERENCES global_contexts(id),` + contextCols + `
		)`,
		`CREATE TABLE IF NOT EXISTS branch_contexts (
			id        TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL REFERENCES project_contexts(id),` + contextCols + `
		)`,
		`CREATE TABLE IF NOT EXISTS task_contexts (
			id        TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL REFERENCES branch_contexts(id),` + contextCols + `
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			branch_id    TEXT NOT NULL REFERENCES branches(id),
			title        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'todo',
			created_at   TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS insight_rows (
			rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
			insight_id TEXT UNIQUE NOT NULL,
			level      TEXT NOT NULL,
			context_id TEXT NOT NULL,
			content    TEXT NOT NULL,
			category   TEXT,
			importance TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS insights_fts USING fts5(
			content, category,
			content='insight_rows', content_rowid='rowid',
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS insight_rows_ai AFTER INSERT ON insight_rows BEGIN
			INSERT INTO insights_fts(rowid, content, category)
			VALUES (new.rowid, new.content, new.category);
		END`,
		`CREATE TRIGGER IF NOT EXISTS insight_rows_ad AFTER DELETE ON insight_rows BEGIN
			INSERT INTO insights_fts(insights_fts, rowid, content, category)
			VALUES ('delete', old.rowid, old.content, old.category);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("createSchema exec: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// tableFor maps a level to its context table.
func tableFor(level models.Level) (string, error) {
	switch level {
	case models.LevelGlobal:
		return "global_contexts", nil
	case models.LevelProject:
		return "project_contexts", nil
	case models.LevelBranch:
		return "branch_contexts", nil
	case models.LevelTask:
		return "task_contexts", nil
	default:
		return "", &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
}

// ---------------------------------------------------------------------------
// Context CRUD
// ---------------------------------------------------------------------------

// Get fetches a single context record by level and id.
func (s *Store) Get(ctx context.Context, level models.Level, id string) (*models.Context, error) {
	table, err := tableFor(level)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cols := "id, '', data, insights, progress, inheritance_disabled, version, created_at, updated_at"
	if level != models.LevelGlobal {
		cols = "id, parent_id, data, insights, progress, inheritance_disabled, version, created_at, updated_at"
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+cols+" FROM "+table+" WHERE id = ?", id) // #nosec G202 -- table name comes from the fixed level mapping

	c, err := scanContext(row, level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Level: level, ID: id}
	}
	if err != nil {
		return nil, mapStoreErr("Get", err)
	}
	return c, nil
}

// Exists reports whether a context record exists at level/id.
func (s *Store) Exists(ctx context.Context, level models.Level, id string) (bool, error) {
	table, err := tableFor(level)
	if err != nil {
		return false, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one) // #nosec G202 -- table name comes from the fixed level mapping
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr("Exists", err)
	}
	return true, nil
}

// Create inserts a new context record. The record's parent reference must
// resolve to an existing parent row; version starts at 1. A second create for
// an existing id is rejected.
func (s *Store) Create(ctx context.Context, c *models.Context) (*models.Context, error) {
	table, err := tableFor(c.Level)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, &errs.ValidationError{Field: "context_id", Reason: "must not be empty"}
	}
	if c.Level == models.LevelGlobal && c.ID != models.GlobalID {
		return nil, &errs.ValidationError{Field: "context_id", Reason: fmt.Sprintf("global context id must be %q", models.GlobalID)}
	}

	parentLevel, hasParent := c.Level.Parent()
	if hasParent {
		if c.ParentID == "" {
			return nil, &errs.ValidationError{
				Field:  string(parentLevel) + "_id",
				Reason: fmt.Sprintf("required to create a %s context", c.Level),
			}
		}
		ok, err := s.Exists(ctx, parentLevel, c.ParentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &errs.DependencyError{
				MissingLevel: parentLevel,
				MissingID:    c.ParentID,
				Remediation:  fmt.Sprintf("create the %s context first: create(level=%s, context_id=%s)", parentLevel, parentLevel, c.ParentID),
			}
		}
	}

	now := time.Now().UTC()
	out := *c
	out.Version = 1
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Data == nil {
		out.Data = make(models.ContextData)
	}

	dataJSON, insightsJSON, progressJSON, err := encodeBodies(&out)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var execErr error
	if hasParent {
		_, execErr = s.db.ExecContext(ctx,
			"INSERT INTO "+table+ // #nosec G202 -- table name comes from the fixed level mapping
				" (id, parent_id, data, insights, progress, inheritance_disabled, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)",
			out.ID, out.ParentID, dataJSON, insightsJSON, progressJSON,
			boolToInt(out.InheritanceDisabled), fmtTime(now), fmtTime(now),
		)
	} else {
		_, execErr = s.db.ExecContext(ctx,
			"INSERT INTO "+table+ // #nosec G202 -- table name comes from the fixed level mapping
				" (id, data, insights, progress, inheritance_disabled, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, ?, ?)",
			out.ID, dataJSON, insightsJSON, progressJSON,
			boolToInt(out.InheritanceDisabled), fmtTime(now), fmtTime(now),
		)
	}
	if execErr != nil {
		if isUniqueViolation(execErr) {
			return nil, &errs.ValidationError{
				Field:  "context_id",
				Reason: fmt.Sprintf("%s context %q already exists", c.Level, c.ID),
			}
		}
		return nil, mapStoreErr("Create", execErr)
	}
	return &out, nil
}

// Update persists the record's data, insights, progress and inheritance flag,
// guarded by expectedVersion. On success the stored version is
// expectedVersion+1 and the returned record reflects it.
func (s *Store) Update(ctx context.Context, c *models.Context, expectedVersion int64) (*models.Context, error) {
	table, err := tableFor(c.Level)
	if err != nil {
		return nil, err
	}
	if expectedVersion <= 0 {
		return nil, &errs.ValidationError{Field: "expected_version", Reason: "must be a positive version previously read"}
	}

	dataJSON, insightsJSON, progressJSON, err := encodeBodies(c)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		"UPDATE "+table+ // #nosec G202 -- table name comes from the fixed level mapping
			" SET data = ?, insights = ?, progress = ?, inheritance_disabled = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
		dataJSON, insightsJSON, progressJSON, boolToInt(c.InheritanceDisabled),
		fmtTime(now), c.ID, expectedVersion,
	)
	if err != nil {
		return nil, mapStoreErr("Update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, mapStoreErr("Update", err)
	}
	if n == 0 {
		// Distinguish a stale version from a missing record.
		current, getErr := s.Get(ctx, c.Level, c.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &errs.ConflictError{
			Level: c.Level, ID: c.ID,
			Expected: expectedVersion, Actual: current.Version,
		}
	}

	out := *c
	out.Version = expectedVersion + 1
	out.UpdatedAt = now
	return &out, nil
}

// Delete removes a context record. The global singleton is exempt. Returns
// false when no record existed. Cascading deletes of descendants are the
// caller's responsibility.
func (s *Store) Delete(ctx context.Context, level models.Level, id string) (bool, error) {
	if level == models.LevelGlobal {
		return false, &errs.ValidationError{Field: "level", Reason: "the global context cannot be deleted"}
	}
	table, err := tableFor(level)
	if err != nil {
		return false, err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id) // #nosec G202 -- table name comes from the fixed level mapping
	if err != nil {
		return false, mapStoreErr("Delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapStoreErr("Delete", err)
	}
	if n > 0 {
		// Drop the search index rows for the deleted context.
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM insight_rows WHERE level = ? AND context_id = ?", string(level), id,
		); err != nil {
			slog.Debug("Delete: insight index cleanup skipped", "err", err)
		}
	}
	return n > 0, nil
}

// List returns summaries for all contexts at level, optionally filtered to a
// parent id. No inheritance merge is performed.
func (s *Store) List(ctx context.Context, level models.Level, parentID string) ([]models.Summary, error) {
	table, err := tableFor(level)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cols := "id, '', data, insights, progress, inheritance_disabled, version, updated_at"
	if level != models.LevelGlobal {
		cols = "id, parent_id, data, insights, progress, inheritance_disabled, version, updated_at"
	}
	q := "SELECT " + cols + " FROM " + table
	var params []any
	if parentID != "" && level != models.LevelGlobal {
		q += " WHERE parent_id = ?"
		params = append(params, parentID)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, params...) // #nosec G202 -- table and column names are hardcoded; values flow through ? bound parameters
	if err != nil {
		return nil, mapStoreErr("List", err)
	}
	defer rows.Close()

	summaries := make([]models.Summary, 0)
	for rows.Next() {
		var (
			id, parent, dataJSON, insightsJSON, progressJSON, updatedAt string
			disabled                                                    int
			version                                                     int64
		)
		if err := rows.Scan(&id, &parent, &dataJSON, &insightsJSON, &progressJSON, &disabled, &version, &updatedAt); err != nil {
			return nil, mapStoreErr("List", err)
		}
		var data models.ContextData
		if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
			return nil, fmt.Errorf("List: decode data for %s/%s: %w", level, id, err)
		}
		cats := make([]string, 0, len(data))
		for cat := range data {
			cats = append(cats, cat)
		}
		var insights []models.Insight
		var progress []models.ProgressEntry
		_ = json.Unmarshal([]byte(insightsJSON), &insights)
		_ = json.Unmarshal([]byte(progressJSON), &progress)

		summaries = append(summaries, models.Summary{
			Level:               level,
			ID:                  id,
			ParentID:            parent,
			Categories:          sortStrings(cats),
			InsightCount:        len(insights),
			ProgressCount:       len(progress),
			InheritanceDisabled: disabled != 0,
			Version:             version,
			UpdatedAt:           parseTime(updatedAt),
		})
	}
	return summaries, rows.Err()
}

// ---------------------------------------------------------------------------
// Registry parent lookup
// ---------------------------------------------------------------------------

// LookupParent resolves the parent id of a context node from the registry
// tables, for ancestor auto-creation when the context row itself is missing.
// For project level the parent is always the global singleton.
func (s *Store) LookupParent(ctx context.Context, level models.Level, id string) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var q string
	switch level {
	case models.LevelProject:
		return models.GlobalID, true, nil
	case models.LevelBranch:
		q = "SELECT project_id FROM branches WHERE id = ?"
	case models.LevelTask:
		q = "SELECT branch_id FROM tasks WHERE id = ?"
	default:
		return "", false, nil
	}

	var parent string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapStoreErr("LookupParent", err)
	}
	return parent, true, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// scanner is the subset of *sql.Row / *sql.Rows used by scanContext.
type scanner interface {
	Scan(dest ...any) error
}

func scanContext(row scanner, level models.Level) (*models.Context, error) {
	var (
		id, parent, dataJSON, insightsJSON, progressJSON, createdAt, updatedAt string
		disabled                                                               int
		version                                                                int64
	)
	if err := row.Scan(&id, &parent, &dataJSON, &insightsJSON, &progressJSON, &disabled, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c := &models.Context{
		Level:               level,
		ID:                  id,
		ParentID:            parent,
		InheritanceDisabled: disabled != 0,
		Version:             version,
		CreatedAt:           parseTime(createdAt),
		UpdatedAt:           parseTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(dataJSON), &c.Data); err != nil {
		return nil, fmt.Errorf("decode data for %s/%s: %w", level, id, err)
	}
	if err := json.Unmarshal([]byte(insightsJSON), &c.Insights); err != nil {
		return nil, fmt.Errorf("decode insights for %s/%s: %w", level, id, err)
	}
	if err := json.Unmarshal([]byte(progressJSON), &c.Progress); err != nil {
		return nil, fmt.Errorf("decode progress for %s/%s: %w", level, id, err)
	}
	return c, nil
}

func encodeBodies(c *models.Context) (data, insights, progress string, err error) {
	d, err := json.Marshal(c.Data)
	if err != nil {
		return "", "", "", fmt.Errorf("encode data: %w", err)
	}
	ins := c.Insights
	if ins == nil {
		ins = make([]models.Insight, 0)
	}
	i, err := json.Marshal(ins)
	if err != nil {
		return "", "", "", fmt.Errorf("encode insights: %w", err)
	}
	prog := c.Progress
	if prog == nil {
		prog = make([]models.ProgressEntry, 0)
	}
	p, err := json.Marshal(prog)
	if err != nil {
		return "", "", "", fmt.Errorf("encode progress: %w", err)
	}
	return string(d), string(i), string(p), nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortStrings(ss []string) []string {
	sort.Strings(ss)
	return ss
}

// isUniqueViolation reports whether err is a SQLite primary-key/unique
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// mapStoreErr classifies low-level persistence failures: contention and
// deadline overruns become transient errors; everything else is wrapped as-is.
func mapStoreErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &errs.TransientError{Op: op, Err: err}
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return &errs.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
