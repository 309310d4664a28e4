// Package taskcmd implements the `taskhive task`, `project` and `branch`
// registry commands.
package taskcmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/taskhive/cmd/taskhive/shared"
	"github.com/go-ports/taskhive/internal/registry"
	"github.com/go-ports/taskhive/internal/service"
)

// Command implements `taskhive task`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the task command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "task",
		Short: "Manage projects, branches and tasks",
	}
	c.cmd.AddCommand(
		c.newProject(),
		c.newBranch(),
		c.newCreate(),
		c.newComplete(),
		c.newList(),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) open() (*service.Service, *registry.Registry, error) {
	svc, err := service.New(c.ctx.HiveHome)
	if err != nil {
		return nil, nil, err
	}
	return svc, registry.New(svc), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func printWarnings(cmd *cobra.Command, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
}

func (c *Command) newProject() *cobra.Command {
	var (
		id   string
		name string
	)
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create a project with its context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, reg, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			project, warnings, err := reg.CreateProject(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			printWarnings(cmd, warnings)
			return printJSON(cmd, project)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Project identifier (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable project name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (c *Command) newBranch() *cobra.Command {
	var (
		id        string
		projectID string
		name      string
	)
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Create a branch under a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, reg, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			branch, warnings, err := reg.CreateBranch(cmd.Context(), id, projectID, name)
			if err != nil {
				return err
			}
			printWarnings(cmd, warnings)
			return printJSON(cmd, branch)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Branch identifier (generated when empty)")
	cmd.Flags().StringVar(&projectID, "project", "", "Owning project identifier")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable branch name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (c *Command) newCreate() *cobra.Command {
	var (
		id       string
		branchID string
		title    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task under a branch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, reg, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			task, err := reg.CreateTask(cmd.Context(), id, branchID, title)
			if err != nil {
				return err
			}
			return printJSON(cmd, task)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task identifier (generated when empty)")
	cmd.Flags().StringVar(&branchID, "branch", "", "Owning branch identifier")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.MarkFlagRequired("branch")
	cmd.MarkFlagRequired("title")
	return cmd
}

func (c *Command) newComplete() *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task done and record a progress summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, reg, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			task, warnings, err := reg.CompleteTask(cmd.Context(), args[0], summary)
			if err != nil {
				return err
			}
			printWarnings(cmd, warnings)
			return printJSON(cmd, task)
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "Completion summary recorded as progress")
	return cmd
}

func (c *Command) newList() *cobra.Command {
	var (
		projectID string
		branchID  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, or branches/tasks under a parent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, reg, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			switch {
			case branchID != "":
				tasks, err := reg.Tasks(cmd.Context(), branchID)
				if err != nil {
					return err
				}
				return printJSON(cmd, tasks)
			case projectID != "":
				branches, err := reg.Branches(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				return printJSON(cmd, branches)
			default:
				projects, err := reg.Projects(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, projects)
			}
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "List branches of this project")
	cmd.Flags().StringVar(&branchID, "branch", "", "List tasks of this branch")
	return cmd
}
