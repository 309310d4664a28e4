// Package mcpcmd implements the `taskhive mcp` command.
package mcpcmd

import (
	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	internalmcp "github.com/go-ports/taskhive/internal/mcp"
)

// Command implements `taskhive mcp`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	watchConfig bool
}

// New creates the mcp command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "mcp",
		Short: "Start the TaskHive MCP server (stdio transport)",
		RunE:  c.run,
	}
	c.cmd.Flags().BoolVar(&c.watchConfig, "watch-config", false,
		"Reload config.yaml on change and apply cache/merge settings live")
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	return internalmcp.Serve(cmd.Context(), c.ctx.HiveHome, c.watchConfig)
}
