package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
)

// Registry persistence for projects, branches and tasks. These rows are the
// business entities; their context records live in the per-level context
// tables and are created best-effort by the registry use cases.

// InsertProject stores a new project row.
func (s *Store) InsertProject(ctx context.Context, p *models.Project) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, status, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.Status, fmtTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errs.ValidationError{Field: "project_id", Reason: "project " + p.ID + " already exists"}
		}
		return mapStoreErr("InsertProject", err)
	}
	return nil
}

// GetProject fetches a project row by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	p := &models.Project{}
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, status, created_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Level: models.LevelProject, ID: id}
	}
	if err != nil {
		return nil, mapStoreErr("GetProject", err)
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

// ListProjects returns all project rows, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, status, created_at FROM projects ORDER BY created_at, id")
	if err != nil {
		return nil, mapStoreErr("ListProjects", err)
	}
	defer rows.Close()

	out := make([]models.Project, 0)
	for rows.Next() {
		var p models.Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &created); err != nil {
			return nil, mapStoreErr("ListProjects", err)
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertBranch stores a new branch row. The referenced project must exist.
func (s *Store) InsertBranch(ctx context.Context, b *models.Branch) error {
	if ok, err := s.projectExists(ctx, b.ProjectID); err != nil {
		return err
	} else if !ok {
		return &errs.DependencyError{
			MissingLevel: models.LevelProject,
			MissingID:    b.ProjectID,
			Remediation:  "create the project first: project create --id " + b.ProjectID,
		}
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO branches (id, project_id, name, status, created_at) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.ProjectID, b.Name, b.Status, fmtTime(b.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errs.ValidationError{Field: "branch_id", Reason: "branch " + b.ID + " already exists"}
		}
		return mapStoreErr("InsertBranch", err)
	}
	return nil
}

// GetBranch fetches a branch row by id.
func (s *Store) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	b := &models.Branch{}
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, name, status, created_at FROM branches WHERE id = ?", id,
	).Scan(&b.ID, &b.ProjectID, &b.Name, &b.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Level: models.LevelBranch, ID: id}
	}
	if err != nil {
		return nil, mapStoreErr("GetBranch", err)
	}
	b.CreatedAt = parseTime(created)
	return b, nil
}

// ListBranches returns branch rows, optionally filtered to a project.
func (s *Store) ListBranches(ctx context.Context, projectID string) ([]models.Branch, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := "SELECT id, project_id, name, status, created_at FROM branches"
	var params []any
	if projectID != "" {
		q += " WHERE project_id = ?"
		params = append(params, projectID)
	}
	q += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, mapStoreErr("ListBranches", err)
	}
	defer rows.Close()

	out := make([]models.Branch, 0)
	for rows.Next() {
		var b models.Branch
		var created string
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Status, &created); err != nil {
			return nil, mapStoreErr("ListBranches", err)
		}
		b.CreatedAt = parseTime(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertTask stores a new task row. The referenced branch must exist.
func (s *Store) InsertTask(ctx context.Context, t *models.Task) error {
	if _, err := s.GetBranch(ctx, t.BranchID); err != nil {
		if errs.IsNotFound(err) {
			return &errs.DependencyError{
				MissingLevel: models.LevelBranch,
				MissingID:    t.BranchID,
				Remediation:  "create the branch first: branch create --id " + t.BranchID,
			}
		}
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tasks (id, branch_id, title, status, created_at) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.BranchID, t.Title, t.Status, fmtTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errs.ValidationError{Field: "task_id", Reason: "task " + t.ID + " already exists"}
		}
		return mapStoreErr("InsertTask", err)
	}
	return nil
}

// GetTask fetches a task row by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	t := &models.Task{}
	var created string
	var completed sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, branch_id, title, status, created_at, completed_at FROM tasks WHERE id = ?", id,
	).Scan(&t.ID, &t.BranchID, &t.Title, &t.Status, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Level: models.LevelTask, ID: id}
	}
	if err != nil {
		return nil, mapStoreErr("GetTask", err)
	}
	t.CreatedAt = parseTime(created)
	if completed.Valid {
		t.CompletedAt = parseTime(completed.String)
	}
	return t, nil
}

// ListTasks returns task rows, optionally filtered to a branch.
func (s *Store) ListTasks(ctx context.Context, branchID string) ([]models.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := "SELECT id, branch_id, title, status, created_at, completed_at FROM tasks"
	var params []any
	if branchID != "" {
		q += " WHERE branch_id = ?"
		params = append(params, branchID)
	}
	q += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, mapStoreErr("ListTasks", err)
	}
	defer rows.Close()

	out := make([]models.Task, 0)
	for rows.Next() {
		var t models.Task
		var created string
		var completed sql.NullString
		if err := rows.Scan(&t.ID, &t.BranchID, &t.Title, &t.Status, &created, &completed); err != nil {
			return nil, mapStoreErr("ListTasks", err)
		}
		t.CreatedAt = parseTime(created)
		if completed.Valid {
			t.CompletedAt = parseTime(completed.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTaskStatus updates a task's status, stamping completed_at when the task
// is marked done. Returns the updated task.
func (s *Store) SetTaskStatus(ctx context.Context, id, status string) (*models.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var completed any
	if status == "done" {
		completed = fmtTime(time.Now().UTC())
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?",
		status, completed, id,
	)
	if err != nil {
		return nil, mapStoreErr("SetTaskStatus", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, mapStoreErr("SetTaskStatus", err)
	} else if n == 0 {
		return nil, &errs.NotFoundError{Level: models.LevelTask, ID: id}
	}
	return s.GetTask(ctx, id)
}

func (s *Store) projectExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM projects WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr("projectExists", err)
	}
	return true, nil
}
