package ancestry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/taskhive/internal/ancestry"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("openTestStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// registerChain seeds the registry rows (not the context rows) for
// proj-1 → branch-1 → t-1 so the enforcer can derive parent ids.
func registerChain(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.InsertProject(ctx, &models.Project{ID: "proj-1", Name: "One", Status: "active", CreatedAt: now}); err != nil {
		t.Fatalf("registerChain project: %v", err)
	}
	if err := st.InsertBranch(ctx, &models.Branch{ID: "branch-1", ProjectID: "proj-1", Name: "main", Status: "active", CreatedAt: now}); err != nil {
		t.Fatalf("registerChain branch: %v", err)
	}
	if err := st.InsertTask(ctx, &models.Task{ID: "t-1", BranchID: "branch-1", Title: "Work", Status: "todo", CreatedAt: now}); err != nil {
		t.Fatalf("registerChain task: %v", err)
	}
}

// ---------------------------------------------------------------------------
// EnsureGlobal
// ---------------------------------------------------------------------------

func TestEnsureGlobal(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	st := openTestStore(t)
	enf := ancestry.New(st, "branch")

	err := enf.EnsureGlobal(ctx)
	c.Assert(err, qt.IsNil)

	got, err := st.Get(ctx, models.LevelGlobal, models.GlobalID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Version, qt.Equals, int64(1))

	// Idempotent: a second call leaves the record untouched.
	err = enf.EnsureGlobal(ctx)
	c.Assert(err, qt.IsNil)
	again, err := st.Get(ctx, models.LevelGlobal, models.GlobalID)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Version, qt.Equals, int64(1))
}

// ---------------------------------------------------------------------------
// EnsureAncestors
// ---------------------------------------------------------------------------

func TestEnsureAncestors_ExistingChain(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	enf := ancestry.New(st, "branch")

	c.Assert(enf.EnsureGlobal(ctx), qt.IsNil)
	_, err := st.Create(ctx, &models.Context{Level: models.LevelProject, ID: "proj-1", ParentID: models.GlobalID})
	c.Assert(err, qt.IsNil)

	// Parent exists: nothing to do.
	err = enf.EnsureAncestors(ctx, models.LevelBranch, "proj-1", false)
	c.Assert(err, qt.IsNil)
}

func TestEnsureAncestors_MissingWithoutOptIn(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	registerChain(t, st)
	enf := ancestry.New(st, "branch")
	c.Assert(enf.EnsureGlobal(ctx), qt.IsNil)

	err := enf.EnsureAncestors(ctx, models.LevelTask, "branch-1", false)
	c.Assert(errs.IsDependency(err), qt.IsTrue)
	var dep *errs.DependencyError
	c.Assert(err, qt.ErrorAs, &dep)
	c.Assert(dep.MissingLevel, qt.Equals, models.LevelBranch)
	c.Assert(dep.MissingID, qt.Equals, "branch-1")
	c.Assert(dep.Remediation, qt.Contains, "create")
}

func TestEnsureAncestors_AutoCreateBranch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	registerChain(t, st)

	// Floor "branch": the branch may be synthesized, but a missing project
	// above it may not.
	enf := ancestry.New(st, "branch")

	c.Run("fails when the project context is also missing", func(c *qt.C) {
		err := enf.EnsureAncestors(ctx, models.LevelTask, "branch-1", true)
		c.Assert(errs.IsDependency(err), qt.IsTrue)
		var dep *errs.DependencyError
		c.Assert(err, qt.ErrorAs, &dep)
		c.Assert(dep.MissingLevel, qt.Equals, models.LevelProject)
	})

	c.Run("synthesizes just the branch when the project exists", func(c *qt.C) {
		c.Assert(enf.EnsureGlobal(ctx), qt.IsNil)
		_, err := st.Create(ctx, &models.Context{Level: models.LevelProject, ID: "proj-1", ParentID: models.GlobalID})
		c.Assert(err, qt.IsNil)

		err = enf.EnsureAncestors(ctx, models.LevelTask, "branch-1", true)
		c.Assert(err, qt.IsNil)

		branch, err := st.Get(ctx, models.LevelBranch, "branch-1")
		c.Assert(err, qt.IsNil)
		c.Assert(branch.ParentID, qt.Equals, "proj-1")
		c.Assert(branch.Data, qt.HasLen, 0)
	})
}

func TestEnsureAncestors_AutoCreateProjectFloor(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	registerChain(t, st)

	// Floor "project": the whole missing stretch up to the project may be
	// synthesized, global included.
	enf := ancestry.New(st, "project")

	err := enf.EnsureAncestors(ctx, models.LevelTask, "branch-1", true)
	c.Assert(err, qt.IsNil)

	project, err := st.Get(ctx, models.LevelProject, "proj-1")
	c.Assert(err, qt.IsNil)
	c.Assert(project.ParentID, qt.Equals, models.GlobalID)

	branch, err := st.Get(ctx, models.LevelBranch, "branch-1")
	c.Assert(err, qt.IsNil)
	c.Assert(branch.ParentID, qt.Equals, "proj-1")
}

func TestEnsureAncestors_PolicyNone(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	registerChain(t, st)
	enf := ancestry.New(st, "none")
	c.Assert(enf.EnsureGlobal(ctx), qt.IsNil)

	// Caller opt-in is not enough when policy forbids synthesis.
	err := enf.EnsureAncestors(ctx, models.LevelTask, "branch-1", true)
	c.Assert(errs.IsDependency(err), qt.IsTrue)
}

func TestEnsureAncestors_UnregisteredNode(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	enf := ancestry.New(st, "branch")
	c.Assert(enf.EnsureGlobal(ctx), qt.IsNil)

	// No registry row for the branch: its parent id cannot be derived.
	err := enf.EnsureAncestors(ctx, models.LevelTask, "unregistered-branch", true)
	c.Assert(errs.IsDependency(err), qt.IsTrue)
	var dep *errs.DependencyError
	c.Assert(err, qt.ErrorAs, &dep)
	c.Assert(dep.MissingID, qt.Equals, "unregistered-branch")
}

func TestEnsureAncestors_EmptyParentID(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	enf := ancestry.New(st, "branch")

	err := enf.EnsureAncestors(ctx, models.LevelBranch, "", false)
	c.Assert(errs.IsValidation(err), qt.IsTrue)
}

func TestEnsureAncestors_GlobalHasNoAncestors(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := openTestStore(t)
	enf := ancestry.New(st, "branch")

	c.Assert(enf.EnsureAncestors(ctx, models.LevelGlobal, "", false), qt.IsNil)
}
