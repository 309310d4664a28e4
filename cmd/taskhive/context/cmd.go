// Package contextcmd implements the `taskhive context` command group.
package contextcmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/export"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
)

// Command implements `taskhive context`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the context command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "context",
		Short: "Create, inspect and resolve hierarchy contexts",
	}
	c.cmd.AddCommand(
		c.newCreate(),
		c.newGet(),
		c.newUpdate(),
		c.newDelete(),
		c.newResolve(),
		c.newList(),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) service() (*service.Service, error) {
	return service.New(c.ctx.HiveHome)
}

func parseLevel(s string) (models.Level, error) {
	lvl := models.Level(s)
	if !lvl.Valid() {
		return "", &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", s)}
	}
	return lvl, nil
}

func parseData(raw string) (models.ContextData, error) {
	if raw == "" {
		return models.ContextData{}, nil
	}
	var data models.ContextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, &errs.ValidationError{Field: "data", Reason: "data must be a JSON object of category objects: " + err.Error()}
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func (c *Command) newCreate() *cobra.Command {
	var (
		level      string
		id         string
		parentID   string
		dataJSON   string
		autoCreate bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a context at a hierarchy level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			data, err := parseData(dataJSON)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			created, err := svc.Create(cmd.Context(), lvl, id, parentID, data, autoCreate)
			if err != nil {
				return err
			}
			return printJSON(cmd, created)
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level (global, project, branch, task)")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent context identifier (task level only)")
	cmd.Flags().StringVar(&dataJSON, "data", "", "Initial context data as a JSON object")
	cmd.Flags().BoolVar(&autoCreate, "auto-create", false, "Synthesize missing ancestor contexts")
	cmd.MarkFlagRequired("level")
	return cmd
}

func (c *Command) newGet() *cobra.Command {
	var (
		level string
		id    string
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a single context without inheritance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			got, err := svc.Get(cmd.Context(), lvl, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.MarkFlagRequired("level")
	cmd.MarkFlagRequired("id")
	return cmd
}

func (c *Command) newUpdate() *cobra.Command {
	var (
		level           string
		id              string
		dataJSON        string
		expectedVersion int64
		disableInherit  bool
		enableInherit   bool
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a context's data (optimistic versioning)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			data, err := parseData(dataJSON)
			if err != nil {
				return err
			}
			var inheritanceDisabled *bool
			if disableInherit && enableInherit {
				return &errs.ValidationError{Field: "inheritance", Reason: "cannot set both --disable-inheritance and --enable-inheritance"}
			}
			if disableInherit {
				v := true
				inheritanceDisabled = &v
			}
			if enableInherit {
				v := false
				inheritanceDisabled = &v
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			updated, err := svc.Update(cmd.Context(), lvl, id, data, inheritanceDisabled, expectedVersion)
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.Flags().StringVar(&dataJSON, "data", "", "Replacement context data as a JSON object")
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Version the caller last read")
	cmd.Flags().BoolVar(&disableInherit, "disable-inheritance", false, "Cut off inheritance above this context")
	cmd.Flags().BoolVar(&enableInherit, "enable-inheritance", false, "Re-enable inheritance for this context")
	cmd.MarkFlagRequired("level")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("expected-version")
	return cmd
}

func (c *Command) newDelete() *cobra.Command {
	var (
		level string
		id    string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			deleted, err := svc.Delete(cmd.Context(), lvl, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if deleted {
				fmt.Fprintf(out, "Deleted %s context %q.\n", lvl, id)
			} else {
				fmt.Fprintf(out, "No %s context %q to delete.\n", lvl, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.MarkFlagRequired("level")
	cmd.MarkFlagRequired("id")
	return cmd
}

func (c *Command) newResolve() *cobra.Command {
	var (
		level        string
		id           string
		forceRefresh bool
		format       string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a context with inheritance applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			if format != "json" && format != "agents-md" {
				return &errs.ValidationError{Field: "format", Reason: fmt.Sprintf("unknown format %q (json, agents-md)", format)}
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			resolved, err := svc.Resolve(cmd.Context(), lvl, id, forceRefresh)
			if err != nil {
				return err
			}
			if format == "agents-md" {
				fmt.Fprint(cmd.OutOrStdout(), export.Markdown(resolved))
				return nil
			}
			return printJSON(cmd, resolved)
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Bypass the resolution cache")
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, agents-md)")
	cmd.MarkFlagRequired("level")
	cmd.MarkFlagRequired("id")
	return cmd
}

func (c *Command) newList() *cobra.Command {
	var (
		level    string
		parentID string
		filter   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List context summaries at a level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			defer svc.Close()
			summaries, err := svc.List(cmd.Context(), lvl, parentID, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, summaries)
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&parentID, "parent", "", "Restrict to children of this parent")
	cmd.Flags().StringVar(&filter, "filter", "", "JSONPath filter over context documents")
	cmd.MarkFlagRequired("level")
	return cmd
}
