package store_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/store"
)

func newProject(id, name string) *models.Project {
	return &models.Project{ID: id, Name: name, Status: "active", CreatedAt: time.Now().UTC()}
}

func newBranch(id, projectID, name string) *models.Branch {
	return &models.Branch{ID: id, ProjectID: projectID, Name: name, Status: "active", CreatedAt: time.Now().UTC()}
}

func newTask(id, branchID, title string) *models.Task {
	return &models.Task{ID: id, BranchID: branchID, Title: title, Status: "todo", CreatedAt: time.Now().UTC()}
}

// seedRegistry inserts project "proj-1" and branch "branch-1".
func seedRegistry(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := st.InsertProject(ctx, newProject("proj-1", "One")); err != nil {
		t.Fatalf("seedRegistry project: %v", err)
	}
	if err := st.InsertBranch(ctx, newBranch("branch-1", "proj-1", "main")); err != nil {
		t.Fatalf("seedRegistry branch: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func TestProjects(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("insert then get round-trips", func(c *qt.C) {
		st := openTestStore(t)
		err := st.InsertProject(ctx, newProject("proj-1", "One"))
		c.Assert(err, qt.IsNil)

		got, err := st.GetProject(ctx, "proj-1")
		c.Assert(err, qt.IsNil)
		c.Assert(got.Name, qt.Equals, "One")
		c.Assert(got.Status, qt.Equals, "active")
	})

	c.Run("duplicate id is a validation error", func(c *qt.C) {
		st := openTestStore(t)
		c.Assert(st.InsertProject(ctx, newProject("proj-1", "One")), qt.IsNil)
		err := st.InsertProject(ctx, newProject("proj-1", "Other"))
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})

	c.Run("missing project is not-found", func(c *qt.C) {
		st := openTestStore(t)
		_, err := st.GetProject(ctx, "ghost")
		c.Assert(errs.IsNotFound(err), qt.IsTrue)
	})

	c.Run("list returns all projects", func(c *qt.C) {
		st := openTestStore(t)
		c.Assert(st.InsertProject(ctx, newProject("proj-1", "One")), qt.IsNil)
		c.Assert(st.InsertProject(ctx, newProject("proj-2", "Two")), qt.IsNil)
		projects, err := st.ListProjects(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(projects, qt.HasLen, 2)
	})
}

// ---------------------------------------------------------------------------
// Branches
// ---------------------------------------------------------------------------

func TestBranches(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("branch requires an existing project", func(c *qt.C) {
		st := openTestStore(t)
		err := st.InsertBranch(ctx, newBranch("branch-1", "ghost", "main"))
		c.Assert(errs.IsDependency(err), qt.IsTrue)
	})

	c.Run("insert then list by project", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		c.Assert(st.InsertBranch(ctx, newBranch("branch-2", "proj-1", "feature")), qt.IsNil)

		branches, err := st.ListBranches(ctx, "proj-1")
		c.Assert(err, qt.IsNil)
		c.Assert(branches, qt.HasLen, 2)

		got, err := st.GetBranch(ctx, "branch-2")
		c.Assert(err, qt.IsNil)
		c.Assert(got.ProjectID, qt.Equals, "proj-1")
		c.Assert(got.Name, qt.Equals, "feature")
	})
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func TestTasks(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("insert then get and list", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		c.Assert(st.InsertTask(ctx, newTask("t-1", "branch-1", "Implement resolver")), qt.IsNil)

		got, err := st.GetTask(ctx, "t-1")
		c.Assert(err, qt.IsNil)
		c.Assert(got.Title, qt.Equals, "Implement resolver")
		c.Assert(got.Status, qt.Equals, "todo")
		c.Assert(got.CompletedAt.IsZero(), qt.IsTrue)

		tasks, err := st.ListTasks(ctx, "branch-1")
		c.Assert(err, qt.IsNil)
		c.Assert(tasks, qt.HasLen, 1)
	})

	c.Run("task requires an existing branch", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		err := st.InsertTask(ctx, newTask("t-1", "ghost", "Nope"))
		c.Assert(errs.IsDependency(err), qt.IsTrue)
	})

	c.Run("done status stamps completed_at", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		c.Assert(st.InsertTask(ctx, newTask("t-1", "branch-1", "Finish")), qt.IsNil)

		updated, err := st.SetTaskStatus(ctx, "t-1", "done")
		c.Assert(err, qt.IsNil)
		c.Assert(updated.Status, qt.Equals, "done")
		c.Assert(updated.CompletedAt.IsZero(), qt.IsFalse)
	})

	c.Run("non-done status leaves completed_at zero", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		c.Assert(st.InsertTask(ctx, newTask("t-1", "branch-1", "Start")), qt.IsNil)

		updated, err := st.SetTaskStatus(ctx, "t-1", "in_progress")
		c.Assert(err, qt.IsNil)
		c.Assert(updated.Status, qt.Equals, "in_progress")
		c.Assert(updated.CompletedAt.IsZero(), qt.IsTrue)
	})

	c.Run("status update on missing task is not-found", func(c *qt.C) {
		st := openTestStore(t)
		seedRegistry(t, st)
		_, err := st.SetTaskStatus(ctx, "ghost", "done")
		c.Assert(errs.IsNotFound(err), qt.IsTrue)
	})
}
