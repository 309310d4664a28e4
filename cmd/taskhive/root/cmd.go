// Package rootcmd wires the root cobra.Command for the taskhive CLI binary.
package rootcmd

import (
	"github.com/spf13/cobra"

	configcmd "github.com/go-ports/taskhive/cmd/taskhive/config"
	contextcmd "github.com/go-ports/taskhive/cmd/taskhive/context"
	delegatecmd "github.com/go-ports/taskhive/cmd/taskhive/delegate"
	initcmd "github.com/go-ports/taskhive/cmd/taskhive/init"
	insightcmd "github.com/go-ports/taskhive/cmd/taskhive/insight"
	mcpcmd "github.com/go-ports/taskhive/cmd/taskhive/mcp"
	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	taskcmd "github.com/go-ports/taskhive/cmd/taskhive/task"
)

// New creates and returns the root cobra.Command for the taskhive CLI.
func New() *cobra.Command {
	ctx := &shared.Context{}

	root := &cobra.Command{
		Use:           "taskhive",
		Short:         "TaskHive: hierarchical context for AI agent task orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}

	root.PersistentFlags().StringVar(
		&ctx.HiveHome, "hive-home", "",
		"Override hive home directory (default: $TASKHIVE_HOME env → persisted config → ~/.taskhive)",
	)

	root.AddCommand(
		initcmd.New(ctx).Cmd(),
		contextcmd.New(ctx).Cmd(),
		delegatecmd.New(ctx).Cmd(),
		insightcmd.New(ctx).Cmd(),
		taskcmd.New(ctx).Cmd(),
		configcmd.New(ctx).Cmd(),
		mcpcmd.New(ctx).Cmd(),
	)

	return root
}
