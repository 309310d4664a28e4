// Package initcmd implements the `taskhive init` command.
package initcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/service"
)

// Command implements `taskhive init`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the init command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize the hive home and the global context",
		RunE:  c.run,
	}
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	// Constructing the service creates the hive home, opens the database and
	// ensures the global singleton context exists.
	svc, err := service.New(c.ctx.HiveHome)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hive initialized at %s\n", svc.HiveHome)
	fmt.Fprintf(out, "Global context %q is ready.\n", models.GlobalID)
	return nil
}
