// Package insightcmd implements the `taskhive insight` command group.
package insightcmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
)

// Command implements `taskhive insight`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the insight command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "insight",
		Short: "Record and search agent insights",
	}
	c.cmd.AddCommand(c.newAdd(), c.newSearch())
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) newAdd() *cobra.Command {
	var (
		level      string
		id         string
		category   string
		importance string
	)
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Append an insight to a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl := models.Level(level)
			if !lvl.Valid() {
				return &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
			}
			svc, err := service.New(c.ctx.HiveHome)
			if err != nil {
				return err
			}
			defer svc.Close()
			insight, err := svc.AddInsight(cmd.Context(), lvl, id, args[0], category, importance)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(insight, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level")
	cmd.Flags().StringVar(&id, "id", "", "Context identifier")
	cmd.Flags().StringVar(&category, "category", "", "Insight category")
	cmd.Flags().StringVar(&importance, "importance", "medium", "Importance (low, medium, high)")
	cmd.MarkFlagRequired("level")
	cmd.MarkFlagRequired("id")
	return cmd
}

func (c *Command) newSearch() *cobra.Command {
	var (
		level     string
		contextID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over recorded insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lvl models.Level
			if level != "" {
				lvl = models.Level(level)
				if !lvl.Valid() {
					return &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
				}
			}
			svc, err := service.New(c.ctx.HiveHome)
			if err != nil {
				return err
			}
			defer svc.Close()
			hits, err := svc.SearchInsights(cmd.Context(), args[0], lvl, contextID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No insights matched.")
				return nil
			}
			b, err := json.MarshalIndent(hits, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Restrict to one hierarchy level")
	cmd.Flags().StringVar(&contextID, "context", "", "Restrict to one context")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of hits")
	return cmd
}
