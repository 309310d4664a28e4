// Package mcp provides the stdio MCP server exposing context and task tools
// for coding agents.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/go-ports/taskhive/internal/buildinfo"
	"github.com/go-ports/taskhive/internal/config"
	"github.com/go-ports/taskhive/internal/registry"
	"github.com/go-ports/taskhive/internal/service"
)

var contextActions = []string{
	"create", "get", "update", "delete", "resolve", "delegate",
	"list", "add_insight", "add_progress", "search_insights",
}

var levels = []string{"global", "project", "branch", "task"}

const contextDescription = `Manage the four-level context hierarchy (global → project → branch → task).

Contexts carry settings, standards, workflow notes, insights and progress that
are inherited down the chain. Use action "resolve" to read the effective
(inherited) view of a node; "get" returns only its own record. Use "delegate"
to push a reusable finding upward so sibling branches and tasks inherit it.
Writes use optimistic versioning: pass the version you last read as
expected_version, and on a conflict re-read before retrying.`

const taskDescription = `Create, list and complete tasks. Completing a task ensures a task-level
context exists and records a completion progress note; context bookkeeping
failures are returned as warnings, never as errors.`

// NewServer creates and registers all taskhive tools on a new MCP server.
// It is intentionally separate from Serve so that tests and other callers can
// obtain a fully configured server without committing to the stdio transport.
func NewServer(svc *service.Service, reg *registry.Registry) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("taskhive", buildinfo.Version)
	registerTools(s, svc, reg)
	return s
}

// Serve starts the stdio MCP server, blocking until stdin closes.
// When watchConfig is true, edits to <hive home>/config.yaml are applied to
// the running service (cache TTL, merge policy) without a restart.
func Serve(ctx context.Context, hiveHome string, watchConfig bool) error {
	svc, err := service.New(hiveHome)
	if err != nil {
		return fmt.Errorf("mcp: init service: %w", err)
	}
	defer svc.Close()

	if watchConfig {
		stop, err := watchConfigFile(svc)
		if err != nil {
			slog.Warn("config watch unavailable", "err", err)
		} else {
			defer stop()
		}
	}

	reg := registry.New(svc)
	return mcpserver.ServeStdio(NewServer(svc, reg))
}

// watchConfigFile reloads and applies the hive config whenever the file
// changes. Returns a stop function closing the watcher.
func watchConfigFile(svc *service.Service) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace config.yaml rather than write in
	// place, which drops a file-level watch.
	if err := watcher.Add(svc.HiveHome); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	cfgPath := filepath.Join(svc.HiveHome, "config.yaml")
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != cfgPath || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := config.Load(cfgPath)
				if err != nil {
					slog.Warn("config reload failed", "err", err)
					continue
				}
				svc.ApplyConfig(cfg)
				slog.Info("config reloaded", "ttl_seconds", cfg.Cache.TTLSeconds, "merge_policy", cfg.Merge.Policy)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "err", err)
			}
		}
	}()
	return func() { _ = watcher.Close() }, nil
}

// registerTools wires the context and registry tools into the server.
func registerTools(s *mcpserver.MCPServer, svc *service.Service, reg *registry.Registry) {
	s.AddTool(mcp.NewTool("manage_context",
		mcp.WithDescription(contextDescription),
		mcp.WithString("action",
			mcp.Description("Operation to perform."),
			mcp.Required(),
			mcp.Enum(contextActions...),
		),
		mcp.WithString("level",
			mcp.Description("Hierarchy level of the target context."),
			mcp.Enum(levels...),
		),
		mcp.WithString("context_id",
			mcp.Description("Id of the target context. Defaults to the global singleton for level=global."),
		),
		mcp.WithString("parent_id",
			mcp.Description("Parent context id, required by create below global (project_id for branch, branch_id for task, ...)."),
		),
		mcp.WithObject("data",
			mcp.Description("Named data categories (settings, standards, workflow, ...). A JSON-encoded string is accepted too."),
		),
		mcp.WithNumber("expected_version",
			mcp.Description("Version last read; required by update. A stale value fails with a conflict."),
		),
		mcp.WithBoolean("auto_create",
			mcp.Description("Allow create to synthesize missing ancestors where policy permits."),
		),
		mcp.WithBoolean("force_refresh",
			mcp.Description("Bypass the cache when resolving."),
		),
		mcp.WithBoolean("include_inherited",
			mcp.Description("Make get return the effective (inherited) view, equivalent to resolve."),
		),
		mcp.WithString("target_level",
			mcp.Description("Ancestor level receiving a delegation."),
			mcp.Enum(levels...),
		),
		mcp.WithString("delegation_reason",
			mcp.Description("Why this data is being pushed upward."),
		),
		mcp.WithString("filter",
			mcp.Description("JSONPath filter applied to list summaries, e.g. $.categories[0]."),
		),
		mcp.WithString("content",
			mcp.Description("Insight or progress text."),
		),
		mcp.WithString("category",
			mcp.Description("Insight category."),
		),
		mcp.WithString("importance",
			mcp.Description("Insight importance: low, medium or high."),
			mcp.Enum("low", "medium", "high"),
		),
		mcp.WithString("status",
			mcp.Description("Progress status, e.g. in_progress or done."),
		),
		mcp.WithString("agent",
			mcp.Description("Agent recording the progress entry."),
		),
		mcp.WithString("query",
			mcp.Description("Search terms for search_insights."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max search hits (default 10)."),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleContext(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("manage_project",
		mcp.WithDescription("Create and list projects. Creating a project creates its context best-effort."),
		mcp.WithString("action",
			mcp.Description("Operation to perform."),
			mcp.Required(),
			mcp.Enum("create", "list"),
		),
		mcp.WithString("id", mcp.Description("Project id. Assigned when omitted.")),
		mcp.WithString("name", mcp.Description("Project name, required by create.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleProject(ctx, reg, req)
	})

	s.AddTool(mcp.NewTool("manage_branch",
		mcp.WithDescription("Create and list branches. Creating a branch creates its context best-effort."),
		mcp.WithString("action",
			mcp.Description("Operation to perform."),
			mcp.Required(),
			mcp.Enum("create", "list"),
		),
		mcp.WithString("id", mcp.Description("Branch id. Assigned when omitted.")),
		mcp.WithString("project_id", mcp.Description("Owning project id, required by create.")),
		mcp.WithString("name", mcp.Description("Branch name, required by create.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleBranch(ctx, reg, req)
	})

	s.AddTool(mcp.NewTool("manage_task",
		mcp.WithDescription(taskDescription),
		mcp.WithString("action",
			mcp.Description("Operation to perform."),
			mcp.Required(),
			mcp.Enum("create", "complete", "list"),
		),
		mcp.WithString("id", mcp.Description("Task id. Assigned when omitted on create.")),
		mcp.WithString("branch_id", mcp.Description("Owning branch id, required by create.")),
		mcp.WithString("title", mcp.Description("Task title, required by create.")),
		mcp.WithString("completion_summary", mcp.Description("Progress note recorded on completion.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleTask(ctx, reg, req)
	})
}
