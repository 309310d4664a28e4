package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/taskhive/internal/config"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
)

// newService creates a Service over a temp hive home and registers t.Cleanup
// to close it.
func newService(t *testing.T) *service.Service {
	t.Helper()
	svc, err := service.New(t.TempDir())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// seedChain creates project/branch/task contexts for the common scenario.
func seedChain(t *testing.T, svc *service.Service) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		level    models.Level
		id       string
		parentID string
		data     models.ContextData
	}{
		{models.LevelProject, "proj-1", models.GlobalID, models.ContextData{"settings": {"model": "thorough"}}},
		{models.LevelBranch, "branch-1", "proj-1", nil},
		{models.LevelTask, "t-1", "branch-1", models.ContextData{"workflow": {"step": "implement"}}},
	}
	for _, s := range steps {
		if _, err := svc.Create(ctx, s.level, s.id, s.parentID, s.data, false); err != nil {
			t.Fatalf("seedChain %s/%s: %v", s.level, s.id, err)
		}
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	c := qt.New(t)

	c.Run("creates hive home, database and global context", func(c *qt.C) {
		home := filepath.Join(t.TempDir(), "nested", "hive")
		svc, err := service.New(home)
		c.Assert(err, qt.IsNil)
		defer svc.Close()

		_, err = os.Stat(filepath.Join(home, "hive.db"))
		c.Assert(err, qt.IsNil)

		global, err := svc.Get(context.Background(), models.LevelGlobal, models.GlobalID)
		c.Assert(err, qt.IsNil)
		c.Assert(global.Version, qt.Equals, int64(1))
	})

	c.Run("per-hive config is honoured", func(c *qt.C) {
		home := t.TempDir()
		err := os.WriteFile(filepath.Join(home, "config.yaml"),
			[]byte("merge:\n  policy: override\ncache:\n  janitor: false\n"), 0o600)
		c.Assert(err, qt.IsNil)

		svc, err := service.New(home)
		c.Assert(err, qt.IsNil)
		defer svc.Close()
		c.Assert(svc.Config.Merge.Policy, qt.Equals, "override")
	})
}

// ---------------------------------------------------------------------------
// End-to-end scenario
// ---------------------------------------------------------------------------

func TestEndToEnd(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)

	// Global carries org-wide settings.
	global, err := svc.Get(ctx, models.LevelGlobal, models.GlobalID)
	c.Assert(err, qt.IsNil)
	_, err = svc.Update(ctx, models.LevelGlobal, models.GlobalID,
		models.ContextData{
			"settings":  {"model": "fast", "max_tokens": 4096},
			"standards": {"tests": "required"},
		}, nil, global.Version)
	c.Assert(err, qt.IsNil)

	seedChain(t, svc)

	// The task view merges all three populated levels.
	rc, err := svc.Resolve(ctx, models.LevelTask, "t-1", false)
	c.Assert(err, qt.IsNil)
	c.Assert(rc.Data["settings"]["model"], qt.Equals, "thorough")
	c.Assert(rc.Data["settings"]["max_tokens"], qt.Equals, float64(4096))
	c.Assert(rc.Data["standards"]["tests"], qt.Equals, "required")
	c.Assert(rc.Data["workflow"]["step"], qt.Equals, "implement")
	c.Assert(rc.Inheritance.Sources["settings"], qt.Equals, models.LevelProject)
	c.Assert(rc.Inheritance.Sources["workflow"], qt.Equals, models.LevelTask)

	// The task delegates a discovered pattern to the project.
	res, err := svc.Delegate(ctx, models.LevelTask, "t-1", models.LevelProject,
		map[string]any{"pattern": "prefer streaming API"}, "useful project-wide")
	c.Assert(err, qt.IsNil)
	c.Assert(res.TargetID, qt.Equals, "proj-1")

	// A sibling resolved later sees the delegated data via the project.
	_, err = svc.Create(ctx, models.LevelTask, "t-2", "branch-1", nil, false)
	c.Assert(err, qt.IsNil)
	sibling, err := svc.Resolve(ctx, models.LevelTask, "t-2", false)
	c.Assert(err, qt.IsNil)
	inbound := sibling.Data[models.CategoryDelegation][models.DelegationInboundKey].([]any)
	c.Assert(inbound, qt.HasLen, 1)
	rec := inbound[0].(map[string]any)
	c.Assert(rec["source_id"], qt.Equals, "t-1")
}

// ---------------------------------------------------------------------------
// Optimistic concurrency
// ---------------------------------------------------------------------------

func TestUpdate_ConcurrentWriters(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	cur, err := svc.Get(ctx, models.LevelProject, "proj-1")
	c.Assert(err, qt.IsNil)

	// Two writers race with the same version: exactly one wins.
	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Update(ctx, models.LevelProject, "proj-1",
				models.ContextData{"settings": {"writer": n}}, nil, cur.Version)
			errsCh <- err
		}(i)
	}
	wg.Wait()
	close(errsCh)

	var conflicts, successes int
	for err := range errsCh {
		switch {
		case err == nil:
			successes++
		case errs.IsConflict(err):
			conflicts++
		default:
			c.Fatalf("unexpected error: %v", err)
		}
	}
	c.Assert(successes, qt.Equals, 1)
	c.Assert(conflicts, qt.Equals, 1)

	got, err := svc.Get(ctx, models.LevelProject, "proj-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Version, qt.Equals, cur.Version+1)
}

// ---------------------------------------------------------------------------
// Cache coherency
// ---------------------------------------------------------------------------

func TestResolve_SeesAncestorWritesImmediately(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	// Warm the task view.
	before, err := svc.Resolve(ctx, models.LevelTask, "t-1", false)
	c.Assert(err, qt.IsNil)
	c.Assert(before.Data["settings"]["model"], qt.Equals, "thorough")

	// Updating the project must invalidate the cached task view too.
	proj, err := svc.Get(ctx, models.LevelProject, "proj-1")
	c.Assert(err, qt.IsNil)
	_, err = svc.Update(ctx, models.LevelProject, "proj-1",
		models.ContextData{"settings": {"model": "balanced"}}, nil, proj.Version)
	c.Assert(err, qt.IsNil)

	after, err := svc.Resolve(ctx, models.LevelTask, "t-1", false)
	c.Assert(err, qt.IsNil)
	c.Assert(after.Data["settings"]["model"], qt.Equals, "balanced")
}

func TestDelete_InvalidatesAndBreaksChain(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	deleted, err := svc.Delete(ctx, models.LevelBranch, "branch-1")
	c.Assert(err, qt.IsNil)
	c.Assert(deleted, qt.IsTrue)

	// The orphaned task now fails to resolve with an actionable error.
	_, err = svc.Resolve(ctx, models.LevelTask, "t-1", false)
	c.Assert(errs.IsDependency(err), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// List filtering
// ---------------------------------------------------------------------------

func TestList_Filter(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	_, err := svc.Create(ctx, models.LevelTask, "t-2", "branch-1",
		models.ContextData{"settings": {"priority": "high"}}, false)
	c.Assert(err, qt.IsNil)

	c.Run("no filter lists all", func(c *qt.C) {
		summaries, err := svc.List(ctx, models.LevelTask, "", "")
		c.Assert(err, qt.IsNil)
		c.Assert(summaries, qt.HasLen, 2)
	})

	c.Run("parent filter narrows by branch", func(c *qt.C) {
		summaries, err := svc.List(ctx, models.LevelTask, "branch-1", "")
		c.Assert(err, qt.IsNil)
		c.Assert(summaries, qt.HasLen, 2)
		summaries, err = svc.List(ctx, models.LevelTask, "other-branch", "")
		c.Assert(err, qt.IsNil)
		c.Assert(summaries, qt.HasLen, 0)
	})

	c.Run("jsonpath filter selects matching summaries", func(c *qt.C) {
		summaries, err := svc.List(ctx, models.LevelTask, "", "$.categories[0]")
		c.Assert(err, qt.IsNil)
		// Only t-1 (workflow) and t-2 (settings) have categories; both match.
		c.Assert(summaries, qt.HasLen, 2)

		summaries, err = svc.List(ctx, models.LevelProject, "", "$.inheritance_disabled")
		c.Assert(err, qt.IsNil)
		c.Assert(summaries, qt.HasLen, 0)
	})

	c.Run("bad jsonpath is a validation error", func(c *qt.C) {
		_, err := svc.List(ctx, models.LevelTask, "", "$[")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})
}

// ---------------------------------------------------------------------------
// Insights & progress
// ---------------------------------------------------------------------------

func TestAddInsight(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	c.Run("append, default importance and search", func(c *qt.C) {
		ins, err := svc.AddInsight(ctx, models.LevelTask, "t-1",
			"the streaming endpoint drops the last chunk under load", "gotcha", "")
		c.Assert(err, qt.IsNil)
		c.Assert(ins.Importance, qt.Equals, "medium")

		got, err := svc.Get(ctx, models.LevelTask, "t-1")
		c.Assert(err, qt.IsNil)
		c.Assert(got.Insights, qt.HasLen, 1)
		c.Assert(got.Insights[0].Content, qt.Contains, "streaming endpoint")

		hits, err := svc.SearchInsights(ctx, "streaming", "", "", 10)
		c.Assert(err, qt.IsNil)
		c.Assert(hits, qt.HasLen, 1)
		c.Assert(hits[0].ContextID, qt.Equals, "t-1")
	})

	c.Run("secrets are redacted before persistence", func(c *qt.C) {
		ins, err := svc.AddInsight(ctx, models.LevelTask, "t-1",
			"rotate the key sk_live_abc123 monthly", "", "high")
		c.Assert(err, qt.IsNil)
		c.Assert(ins.Content, qt.Contains, "[REDACTED]")

		got, err := svc.Get(ctx, models.LevelTask, "t-1")
		c.Assert(err, qt.IsNil)
		last := got.Insights[len(got.Insights)-1]
		c.Assert(last.Content, qt.Not(qt.Contains), "sk_live_abc123")
	})

	c.Run("validation of content and importance", func(c *qt.C) {
		_, err := svc.AddInsight(ctx, models.LevelTask, "t-1", "", "", "")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
		_, err = svc.AddInsight(ctx, models.LevelTask, "t-1", "x", "", "critical")
		c.Assert(errs.IsValidation(err), qt.IsTrue)
	})

	c.Run("missing context is not-found", func(c *qt.C) {
		_, err := svc.AddInsight(ctx, models.LevelTask, "ghost", "x", "", "")
		c.Assert(errs.IsNotFound(err), qt.IsTrue)
	})
}

func TestAddProgress(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	entry, err := svc.AddProgress(ctx, models.LevelTask, "t-1",
		"implemented the resolver walk", "in_progress", "agent-7")
	c.Assert(err, qt.IsNil)
	c.Assert(entry.Agent, qt.Equals, "agent-7")

	got, err := svc.Get(ctx, models.LevelTask, "t-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Progress, qt.HasLen, 1)
	c.Assert(got.Progress[0].Status, qt.Equals, "in_progress")

	// Appends are visible in the resolved view of the same node.
	rc, err := svc.Resolve(ctx, models.LevelTask, "t-1", false)
	c.Assert(err, qt.IsNil)
	c.Assert(rc.Progress, qt.HasLen, 1)
}

// ---------------------------------------------------------------------------
// ApplyConfig
// ---------------------------------------------------------------------------

func TestApplyConfig(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc := newService(t)
	seedChain(t, svc)

	proj, err := svc.Get(ctx, models.LevelProject, "proj-1")
	c.Assert(err, qt.IsNil)
	_, err = svc.Update(ctx, models.LevelProject, "proj-1",
		models.ContextData{"settings": {"model": "thorough", "extra": true}}, nil, proj.Version)
	c.Assert(err, qt.IsNil)

	global, err := svc.Get(ctx, models.LevelGlobal, models.GlobalID)
	c.Assert(err, qt.IsNil)
	_, err = svc.Update(ctx, models.LevelGlobal, models.GlobalID,
		models.ContextData{"settings": {"model": "fast", "max_tokens": 4096}}, nil, global.Version)
	c.Assert(err, qt.IsNil)

	// Deep: project merges over global.
	rc, err := svc.Resolve(ctx, models.LevelProject, "proj-1", false)
	c.Assert(err, qt.IsNil)
	c.Assert(rc.Data["settings"]["max_tokens"], qt.Equals, float64(4096))

	// Switch to override at runtime: categories replace wholesale.
	cfg := config.Default()
	cfg.Merge.Policy = "override"
	svc.ApplyConfig(cfg)

	rc, err = svc.Resolve(ctx, models.LevelProject, "proj-1", false)
	c.Assert(err, qt.IsNil)
	_, has := rc.Data["settings"]["max_tokens"]
	c.Assert(has, qt.IsFalse)
	c.Assert(rc.Data["settings"]["model"], qt.Equals, "thorough")
}
