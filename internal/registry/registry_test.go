package registry_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/registry"
	"github.com/go-ports/taskhive/internal/service"
)

// newRegistry builds a registry over a fresh service rooted in a temp hive.
func newRegistry(t *testing.T) (*registry.Registry, *service.Service) {
	t.Helper()
	svc, err := service.New(t.TempDir())
	if err != nil {
		t.Fatalf("newRegistry: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return registry.New(svc), svc
}

// ---------------------------------------------------------------------------
// CreateProject
// ---------------------------------------------------------------------------

func TestCreateProject(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("registers the project and seeds its context", func(c *qt.C) {
		reg, svc := newRegistry(t)
		p, warnings, err := reg.CreateProject(ctx, "proj-1", "Payments")
		c.Assert(err, qt.IsNil)
		c.Assert(warnings, qt.HasLen, 0)
		c.Assert(p.ID, qt.Equals, "proj-1")
		c.Assert(p.Status, qt.Equals, "active")

		pc, err := svc.Get(ctx, models.LevelProject, "proj-1")
		c.Assert(err, qt.IsNil)
		c.Assert(pc.Data[models.CategorySettings]["name"], qt.Equals, "Payments")
	})

	c.Run("empty id gets a generated one", func(c *qt.C) {
		reg, _ := newRegistry(t)
		p, _, err := reg.CreateProject(ctx, "", "Autogen")
		c.Assert(err, qt.IsNil)
		c.Assert(p.ID, qt.Not(qt.Equals), "")
	})

	c.Run("empty name is rejected", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, _, err := reg.CreateProject(ctx, "proj-1", "")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})

	c.Run("duplicate project is rejected", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, _, err := reg.CreateProject(ctx, "proj-1", "One")
		c.Assert(err, qt.IsNil)
		_, _, err = reg.CreateProject(ctx, "proj-1", "Two")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})
}

// ---------------------------------------------------------------------------
// CreateBranch
// ---------------------------------------------------------------------------

func TestCreateBranch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("registers under its project with a seeded context", func(c *qt.C) {
		reg, svc := newRegistry(t)
		_, _, err := reg.CreateProject(ctx, "proj-1", "Payments")
		c.Assert(err, qt.IsNil)

		b, warnings, err := reg.CreateBranch(ctx, "branch-1", "proj-1", "feature/retries")
		c.Assert(err, qt.IsNil)
		c.Assert(warnings, qt.HasLen, 0)
		c.Assert(b.ProjectID, qt.Equals, "proj-1")

		bc, err := svc.Get(ctx, models.LevelBranch, "branch-1")
		c.Assert(err, qt.IsNil)
		c.Assert(bc.ParentID, qt.Equals, "proj-1")
		c.Assert(bc.Data[models.CategorySettings]["name"], qt.Equals, "feature/retries")
	})

	c.Run("unknown project is a dependency error", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, _, err := reg.CreateBranch(ctx, "branch-1", "ghost", "main")
		c.Assert(errs.IsDependency(err), qt.IsTrue)
	})

	c.Run("missing project id is rejected", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, _, err := reg.CreateBranch(ctx, "branch-1", "", "main")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})
}

// ---------------------------------------------------------------------------
// CreateTask / CompleteTask
// ---------------------------------------------------------------------------

func TestCreateTask(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("task context is lazy: not created on registration", func(c *qt.C) {
		reg, svc := newRegistry(t)
		_, _, err := reg.CreateProject(ctx, "proj-1", "Payments")
		c.Assert(err, qt.IsNil)
		_, _, err = reg.CreateBranch(ctx, "branch-1", "proj-1", "main")
		c.Assert(err, qt.IsNil)

		task, err := reg.CreateTask(ctx, "t-1", "branch-1", "Wire the retry loop")
		c.Assert(err, qt.IsNil)
		c.Assert(task.Status, qt.Equals, "todo")

		_, err = svc.Get(ctx, models.LevelTask, "t-1")
		c.Assert(errs.IsNotFound(err), qt.IsTrue)
	})

	c.Run("unknown branch is a dependency error", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, err := reg.CreateTask(ctx, "t-1", "ghost", "Nope")
		c.Assert(errs.IsDependency(err), qt.IsTrue)
	})

	c.Run("empty title is rejected", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, err := reg.CreateTask(ctx, "t-1", "branch-1", "")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})
}

func TestCompleteTask(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	// seed registers project, branch and one task.
	seed := func(c *qt.C, reg *registry.Registry) {
		_, _, err := reg.CreateProject(ctx, "proj-1", "Payments")
		c.Assert(err, qt.IsNil)
		_, _, err = reg.CreateBranch(ctx, "branch-1", "proj-1", "main")
		c.Assert(err, qt.IsNil)
		_, err = reg.CreateTask(ctx, "t-1", "branch-1", "Wire the retry loop")
		c.Assert(err, qt.IsNil)
	}

	c.Run("auto-creates the task context and records progress", func(c *qt.C) {
		reg, svc := newRegistry(t)
		seed(c, reg)

		done, warnings, err := reg.CompleteTask(ctx, "t-1", "retry loop shipped")
		c.Assert(err, qt.IsNil)
		c.Assert(warnings, qt.HasLen, 0)
		c.Assert(done.Status, qt.Equals, "done")
		c.Assert(done.CompletedAt.IsZero(), qt.IsFalse)

		tc, err := svc.Get(ctx, models.LevelTask, "t-1")
		c.Assert(err, qt.IsNil)
		c.Assert(tc.Progress, qt.HasLen, 1)
		c.Assert(tc.Progress[0].Content, qt.Equals, "retry loop shipped")
		c.Assert(tc.Progress[0].Status, qt.Equals, "done")
	})

	c.Run("empty summary falls back to the task title", func(c *qt.C) {
		reg, svc := newRegistry(t)
		seed(c, reg)

		_, _, err := reg.CompleteTask(ctx, "t-1", "")
		c.Assert(err, qt.IsNil)

		tc, err := svc.Get(ctx, models.LevelTask, "t-1")
		c.Assert(err, qt.IsNil)
		c.Assert(tc.Progress[0].Content, qt.Contains, "Wire the retry loop")
	})

	c.Run("completing twice is rejected", func(c *qt.C) {
		reg, _ := newRegistry(t)
		seed(c, reg)
		_, _, err := reg.CompleteTask(ctx, "t-1", "")
		c.Assert(err, qt.IsNil)
		_, _, err = reg.CompleteTask(ctx, "t-1", "")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})

	c.Run("unknown task is not-found", func(c *qt.C) {
		reg, _ := newRegistry(t)
		_, _, err := reg.CompleteTask(ctx, "ghost", "")
		c.Assert(errs.IsNotFound(err), qt.IsTrue)
	})
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

func TestListings(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	reg, _ := newRegistry(t)

	_, _, err := reg.CreateProject(ctx, "proj-1", "Payments")
	c.Assert(err, qt.IsNil)
	_, _, err = reg.CreateBranch(ctx, "branch-1", "proj-1", "main")
	c.Assert(err, qt.IsNil)
	_, err = reg.CreateTask(ctx, "t-1", "branch-1", "One")
	c.Assert(err, qt.IsNil)
	_, err = reg.CreateTask(ctx, "t-2", "branch-1", "Two")
	c.Assert(err, qt.IsNil)

	projects, err := reg.Projects(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(projects, qt.HasLen, 1)

	branches, err := reg.Branches(ctx, "proj-1")
	c.Assert(err, qt.IsNil)
	c.Assert(branches, qt.HasLen, 1)

	tasks, err := reg.Tasks(ctx, "branch-1")
	c.Assert(err, qt.IsNil)
	c.Assert(tasks, qt.HasLen, 2)
}
