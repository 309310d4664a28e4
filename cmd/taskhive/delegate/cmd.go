// Package delegatecmd implements the `taskhive delegate` command.
package delegatecmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
)

// Command implements `taskhive delegate`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	level       string
	id          string
	targetLevel string
	dataJSON    string
	reason      string
}

// New creates the delegate command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "delegate",
		Short: "Push context data upward to an ancestor level",
		RunE:  c.run,
	}
	c.cmd.Flags().StringVar(&c.level, "level", "", "Source hierarchy level")
	c.cmd.Flags().StringVar(&c.id, "id", "", "Source context identifier")
	c.cmd.Flags().StringVar(&c.targetLevel, "target-level", "", "Ancestor level receiving the data")
	c.cmd.Flags().StringVar(&c.dataJSON, "data", "", "Delegated data as a JSON object")
	c.cmd.Flags().StringVar(&c.reason, "reason", "", "Why the data is being promoted")
	c.cmd.MarkFlagRequired("level")
	c.cmd.MarkFlagRequired("id")
	c.cmd.MarkFlagRequired("target-level")
	c.cmd.MarkFlagRequired("data")
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	source := models.Level(c.level)
	if !source.Valid() {
		return &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", c.level)}
	}
	target := models.Level(c.targetLevel)
	if !target.Valid() {
		return &errs.ValidationError{Field: "target-level", Reason: fmt.Sprintf("unknown level %q", c.targetLevel)}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(c.dataJSON), &data); err != nil {
		return &errs.ValidationError{Field: "data", Reason: "data must be a JSON object: " + err.Error()}
	}

	svc, err := service.New(c.ctx.HiveHome)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Delegate(cmd.Context(), source, c.id, target, data, c.reason)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
