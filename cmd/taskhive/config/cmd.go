// Package configcmd implements the `taskhive config` command group.
package configcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/config"
)

const configTemplate = `# TaskHive configuration

# Resolved-context cache. Explicit invalidation keeps it coherent; the TTL is
# a coarse safety net.
cache:
  ttl_seconds: 300
  janitor: true

# How a category defined at both an ancestor and a descendant level combines.
merge:
  policy: deep                  # deep | override

# Persistence I/O bounds.
store:
  timeout_ms: 5000
  retries: 3

# Highest level the enforcer may synthesize when creating a descendant whose
# ancestors are missing.
ancestry:
  auto_create: branch           # none | project | branch
`

// Command implements `taskhive config`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the config command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "config",
		Short: "Show or manage configuration",
		RunE:  c.runShow,
	}
	c.cmd.AddCommand(
		newConfigInit(ctx),
		newSetHome(ctx),
		newClearHome(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) runShow(cmd *cobra.Command, _ []string) error {
	home, source := config.ResolveHiveHome()
	if c.ctx.HiveHome != "" {
		home = c.ctx.HiveHome
		source = "flag"
	}
	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	if err != nil {
		return err
	}
	data := map[string]any{
		"cache": map[string]any{
			"ttl_seconds": cfg.Cache.TTLSeconds,
			"janitor":     cfg.Cache.Janitor,
		},
		"merge": map[string]any{
			"policy": cfg.Merge.Policy,
		},
		"store": map[string]any{
			"timeout_ms": cfg.Store.TimeoutMS,
			"retries":    cfg.Store.Retries,
		},
		"ancestry": map[string]any{
			"auto_create": cfg.Ancestry.AutoCreate,
		},
		"hive_home":        home,
		"hive_home_source": source,
	}
	b, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(b))
	return nil
}

// ---------------------------------------------------------------------------
// config init
// ---------------------------------------------------------------------------

func newConfigInit(ctx *shared.Context) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			home := ctx.HiveHome
			if home == "" {
				home = config.GetHiveHome()
			}
			cfgPath := filepath.Join(home, "config.yaml")
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				fmt.Fprintf(out, "Config already exists at %s\n", cfgPath)
				fmt.Fprintln(out, "Use --force to overwrite.")
				return nil
			}
			if err := os.MkdirAll(home, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, []byte(configTemplate), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

// ---------------------------------------------------------------------------
// config set-home / clear-home
// ---------------------------------------------------------------------------

func newSetHome(_ *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set-home <path>",
		Short: "Persist hive home location (used when TASKHIVE_HOME is unset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.SetPersistedHiveHome(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(resolved, 0o755); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Persisted hive home: %s\n", resolved)
			fmt.Fprintln(out, "Override anytime with TASKHIVE_HOME.")
			return nil
		},
	}
}

func newClearHome(_ *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-home",
		Short: "Remove persisted hive home location from global config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed, err := config.ClearPersistedHiveHome()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if changed {
				fmt.Fprintln(out, "Cleared persisted hive home setting.")
			} else {
				fmt.Fprintln(out, "No persisted hive home setting was found.")
			}
			return nil
		},
	}
}
