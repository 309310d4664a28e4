// Package registry implements the project/branch/task use cases that sit on
// top of the context facade.
//
// Context bookkeeping never blocks entity lifecycle: creation hooks are
// best-effort and report failures as warnings on the success result. The one
// exception is task completion, which must obtain (or auto-create) a task
// context before the status change per the completion contract.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
	"github.com/go-ports/taskhive/internal/store"
)

// Registry orchestrates entity lifecycle and its context hooks.
type Registry struct {
	svc *service.Service
	st  *store.Store
}

// New constructs a Registry sharing the facade's store.
func New(svc *service.Service) *Registry {
	return &Registry{svc: svc, st: svc.Store()}
}

// CreateProject registers a project and creates its context best-effort.
// id may be empty, in which case a fresh one is assigned.
func (r *Registry) CreateProject(ctx context.Context, id, name string) (*models.Project, []string, error) {
	if name == "" {
		return nil, nil, &errs.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if id == "" {
		id = models.NewID()
	}

	p := &models.Project{ID: id, Name: name, Status: "active", CreatedAt: time.Now().UTC()}
	if err := r.st.InsertProject(ctx, p); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if _, err := r.svc.Create(ctx, models.LevelProject, id, models.GlobalID, contextSeed(name), false); err != nil {
		slog.Warn("CreateProject: context create failed", "project", id, "err", err)
		warnings = append(warnings, fmt.Sprintf("project context not created: %v", err))
	}
	return p, warnings, nil
}

// CreateBranch registers a branch under a project and creates its context
// best-effort, auto-creating missing ancestors where policy allows.
func (r *Registry) CreateBranch(ctx context.Context, id, projectID, name string) (*models.Branch, []string, error) {
	if name == "" {
		return nil, nil, &errs.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if projectID == "" {
		return nil, nil, &errs.ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if id == "" {
		id = models.NewID()
	}

	b := &models.Branch{ID: id, ProjectID: projectID, Name: name, Status: "active", CreatedAt: time.Now().UTC()}
	if err := r.st.InsertBranch(ctx, b); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if _, err := r.svc.Create(ctx, models.LevelBranch, id, projectID, contextSeed(name), true); err != nil {
		slog.Warn("CreateBranch: context create failed", "branch", id, "err", err)
		warnings = append(warnings, fmt.Sprintf("branch context not created: %v", err))
	}
	return b, warnings, nil
}

// CreateTask registers a task on a branch. Its context is created lazily, at
// completion or on explicit request.
func (r *Registry) CreateTask(ctx context.Context, id, branchID, title string) (*models.Task, error) {
	if title == "" {
		return nil, &errs.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if branchID == "" {
		return nil, &errs.ValidationError{Field: "branch_id", Reason: "must not be empty"}
	}
	if id == "" {
		id = models.NewID()
	}

	t := &models.Task{ID: id, BranchID: branchID, Title: title, Status: "todo", CreatedAt: time.Now().UTC()}
	if err := r.st.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CompleteTask marks a task done. A task context must exist (it is
// auto-created if absent) before the status change; once the status is
// updated, the completion progress note is best-effort and failures ride
// along as warnings.
func (r *Registry) CompleteTask(ctx context.Context, taskID, summary string) (*models.Task, []string, error) {
	task, err := r.st.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status == "done" {
		return nil, nil, &errs.ValidationError{Field: "task_id", Reason: "task " + taskID + " is already done"}
	}

	// Precondition: obtain or auto-create the task context.
	if _, err := r.svc.Get(ctx, models.LevelTask, taskID); err != nil {
		if !errs.IsNotFound(err) {
			return nil, nil, err
		}
		if _, err := r.svc.Create(ctx, models.LevelTask, taskID, task.BranchID, make(models.ContextData), true); err != nil {
			return nil, nil, fmt.Errorf("CompleteTask: obtain task context: %w", err)
		}
	}

	done, err := r.st.SetTaskStatus(ctx, taskID, "done")
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if summary == "" {
		summary = "task completed: " + task.Title
	}
	if _, err := r.svc.AddProgress(ctx, models.LevelTask, taskID, summary, "done", ""); err != nil {
		slog.Warn("CompleteTask: progress note failed", "task", taskID, "err", err)
		warnings = append(warnings, fmt.Sprintf("completion progress note not recorded: %v", err))
	}
	return done, warnings, nil
}

// Projects lists registered projects.
func (r *Registry) Projects(ctx context.Context) ([]models.Project, error) {
	return r.st.ListProjects(ctx)
}

// Branches lists registered branches, optionally for one project.
func (r *Registry) Branches(ctx context.Context, projectID string) ([]models.Branch, error) {
	return r.st.ListBranches(ctx, projectID)
}

// Tasks lists registered tasks, optionally for one branch.
func (r *Registry) Tasks(ctx context.Context, branchID string) ([]models.Task, error) {
	return r.st.ListTasks(ctx, branchID)
}

// contextSeed is the minimal settings category stamped on entity-creation
// contexts so resolved views can surface the entity name.
func contextSeed(name string) models.ContextData {
	return models.ContextData{
		models.CategorySettings: {"name": name},
	}
}
