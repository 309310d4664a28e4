package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/registry"
	"github.com/go-ports/taskhive/internal/service"
)

// ---------------------------------------------------------------------------
// manage_context
// ---------------------------------------------------------------------------

func handleContext(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	level := models.Level(req.GetString("level", ""))
	id := req.GetString("context_id", "")
	if level == models.LevelGlobal && id == "" {
		id = models.GlobalID
	}

	switch action {
	case "create":
		data, err := dataArg(req)
		if err != nil {
			return errResult(err)
		}
		c, err := svc.Create(ctx, level, id, req.GetString("parent_id", ""), data, req.GetBool("auto_create", false))
		if err != nil {
			return errResult(err)
		}
		return okResult("context", contextToMap(c))

	case "get":
		if req.GetBool("include_inherited", false) {
			rc, err := svc.Resolve(ctx, level, id, req.GetBool("force_refresh", false))
			if err != nil {
				return errResult(err)
			}
			return okResult("resolved", rc)
		}
		c, err := svc.Get(ctx, level, id)
		if err != nil {
			return errResult(err)
		}
		return okResult("context", contextToMap(c))

	case "update":
		data, err := dataArg(req)
		if err != nil {
			return errResult(err)
		}
		expected := int64(req.GetInt("expected_version", 0))
		c, err := svc.Update(ctx, level, id, data, nil, expected)
		if err != nil {
			return errResult(err)
		}
		return okResult("context", contextToMap(c))

	case "delete":
		deleted, err := svc.Delete(ctx, level, id)
		if err != nil {
			return errResult(err)
		}
		return okResult("deleted", deleted)

	case "resolve":
		rc, err := svc.Resolve(ctx, level, id, req.GetBool("force_refresh", false))
		if err != nil {
			return errResult(err)
		}
		return okResult("resolved", rc)

	case "delegate":
		data, err := dataCategoryArg(req)
		if err != nil {
			return errResult(err)
		}
		res, err := svc.Delegate(ctx, level, id,
			models.Level(req.GetString("target_level", "")),
			data, req.GetString("delegation_reason", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("delegation", res)

	case "list":
		summaries, err := svc.List(ctx, level, req.GetString("parent_id", ""), req.GetString("filter", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("contexts", summaries)

	case "add_insight":
		ins, err := svc.AddInsight(ctx, level, id,
			req.GetString("content", ""), req.GetString("category", ""), req.GetString("importance", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("insight", ins)

	case "add_progress":
		entry, err := svc.AddProgress(ctx, level, id,
			req.GetString("content", ""), req.GetString("status", ""), req.GetString("agent", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("progress", entry)

	case "search_insights":
		hits, err := svc.SearchInsights(ctx, req.GetString("query", ""), level, id, req.GetInt("limit", 10))
		if err != nil {
			return errResult(err)
		}
		return okResult("insights", hits)

	default:
		return errResult(&errs.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)})
	}
}

// ---------------------------------------------------------------------------
// manage_project / manage_branch / manage_task
// ---------------------------------------------------------------------------

func handleProject(ctx context.Context, reg *registry.Registry, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch action := req.GetString("action", ""); action {
	case "create":
		p, warnings, err := reg.CreateProject(ctx, req.GetString("id", ""), req.GetString("name", ""))
		if err != nil {
			return errResult(err)
		}
		return okWithWarnings("project", p, warnings)
	case "list":
		projects, err := reg.Projects(ctx)
		if err != nil {
			return errResult(err)
		}
		return okResult("projects", projects)
	default:
		return errResult(&errs.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)})
	}
}

func handleBranch(ctx context.Context, reg *registry.Registry, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch action := req.GetString("action", ""); action {
	case "create":
		b, warnings, err := reg.CreateBranch(ctx, req.GetString("id", ""), req.GetString("project_id", ""), req.GetString("name", ""))
		if err != nil {
			return errResult(err)
		}
		return okWithWarnings("branch", b, warnings)
	case "list":
		branches, err := reg.Branches(ctx, req.GetString("project_id", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("branches", branches)
	default:
		return errResult(&errs.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)})
	}
}

func handleTask(ctx context.Context, reg *registry.Registry, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch action := req.GetString("action", ""); action {
	case "create":
		t, err := reg.CreateTask(ctx, req.GetString("id", ""), req.GetString("branch_id", ""), req.GetString("title", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("task", t)
	case "complete":
		t, warnings, err := reg.CompleteTask(ctx, req.GetString("id", ""), req.GetString("completion_summary", ""))
		if err != nil {
			return errResult(err)
		}
		return okWithWarnings("task", t, warnings)
	case "list":
		tasks, err := reg.Tasks(ctx, req.GetString("branch_id", ""))
		if err != nil {
			return errResult(err)
		}
		return okResult("tasks", tasks)
	default:
		return errResult(&errs.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)})
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// dataArg reads the data argument as named categories. A structured object is
// preferred; a JSON-encoded string is accepted as a presentation-layer
// convenience.
func dataArg(req mcp.CallToolRequest) (models.ContextData, error) {
	raw, ok := req.GetArguments()["data"]
	if !ok || raw == nil {
		return make(models.ContextData), nil
	}

	switch v := raw.(type) {
	case map[string]any:
		data := make(models.ContextData, len(v))
		for cat, body := range v {
			m, ok := body.(map[string]any)
			if !ok {
				return nil, &errs.ValidationError{Field: "data", Reason: fmt.Sprintf("category %q must be an object", cat)}
			}
			data[cat] = m
		}
		return data, nil
	case string:
		var data models.ContextData
		if err := json.Unmarshal([]byte(v), &data); err != nil {
			return nil, &errs.ValidationError{Field: "data", Reason: "string form must be a JSON object of categories: " + err.Error()}
		}
		return data, nil
	default:
		return nil, &errs.ValidationError{Field: "data", Reason: "must be an object or a JSON-encoded string"}
	}
}

// dataCategoryArg reads the data argument as a single flat mapping, the shape
// delegation carries upward.
func dataCategoryArg(req mcp.CallToolRequest) (map[string]any, error) {
	raw, ok := req.GetArguments()["data"]
	if !ok || raw == nil {
		return nil, &errs.ValidationError{Field: "data", Reason: "must not be empty"}
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, &errs.ValidationError{Field: "data", Reason: "string form must be a JSON object: " + err.Error()}
		}
		return m, nil
	default:
		return nil, &errs.ValidationError{Field: "data", Reason: "must be an object or a JSON-encoded string"}
	}
}

// contextToMap flattens a context record for the wire.
func contextToMap(c *models.Context) map[string]any {
	return map[string]any{
		"level":                c.Level,
		"id":                   c.ID,
		"parent_id":            c.ParentID,
		"data":                 c.Data,
		"insights":             c.Insights,
		"progress":             c.Progress,
		"inheritance_disabled": c.InheritanceDisabled,
		"version":              c.Version,
		"created_at":           c.CreatedAt,
		"updated_at":           c.UpdatedAt,
	}
}

func okResult(key string, v any) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"success": true, key: v})
}

func okWithWarnings(key string, v any, warnings []string) (*mcp.CallToolResult, error) {
	out := map[string]any{"success": true, key: v}
	if len(warnings) > 0 {
		out["warnings"] = warnings
	}
	return jsonResult(out)
}

func errResult(err error) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"success": false,
		"error":   map[string]any{"code": errs.Code(err), "message": err.Error()},
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
