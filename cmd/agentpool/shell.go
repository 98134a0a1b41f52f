package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/aristath/agentpool/internal/lifecycle"
	"github.com/aristath/agentpool/internal/task"
	"github.com/aristath/agentpool/internal/tui"
	"github.com/aristath/agentpool/internal/workspace"
)

var errQuit = errors.New("quit")

// execLine runs one shell line against the pool. Each line gets a fresh
// command tree so flag values never leak between lines.
func execLine(ctx context.Context, p *pool, line string, out io.Writer) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse line: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	root := newShellCmd(p)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newShellCmd(p *pool) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentpool>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "Show commands",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), tui.HelpView())
		},
	})
	root.AddCommand(
		newAgentCmd(p),
		newTaskCmd(p),
		&cobra.Command{
			Use:   "status",
			Short: "Show agents and tasks",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), tui.Board(p.reg.List(), p.sched.Tasks()))
			},
		},
		newMergeCmd(p),
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit"},
			Short:   "Stop the pool",
			Args:    cobra.NoArgs,
			RunE:    func(*cobra.Command, []string) error { return errQuit },
		},
	)
	return root
}

func newAgentCmd(p *pool) *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <template> [name]",
			Short: "Spawn an agent from a template",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				req := lifecycle.SpawnRequest{Template: args[0]}
				if len(args) == 2 {
					req.Name = args[1]
				}
				a, err := p.coord.Spawn(cmd.Context(), req)
				if a.ID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "agent %s (%s) is %s\n", a.Name, a.ID, a.Status)
				}
				return err
			},
		},
		&cobra.Command{
			Use:     "rm <agent>",
			Aliases: []string{"remove"},
			Short:   "Remove an agent; its task goes back to ready",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := p.agentByRef(args[0])
				if err != nil {
					return err
				}
				if _, err := p.coord.Remove(cmd.Context(), a.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "agent %s removed\n", a.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <agent> <name>",
			Short: "Change an agent's display name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := p.agentByRef(args[0])
				if err != nil {
					return err
				}
				if err := p.reg.Rename(a.ID, args[1]); err != nil {
					return err
				}
				p.sched.Reschedule(cmd.Context())
				return nil
			},
		},
		&cobra.Command{
			Use:   "retype <agent> <type>",
			Short: "Change the role an agent is matched by",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := p.agentByRef(args[0])
				if err != nil {
					return err
				}
				if err := p.reg.Retype(a.ID, args[1]); err != nil {
					return err
				}
				p.sched.Reschedule(cmd.Context())
				return nil
			},
		},
		&cobra.Command{
			Use:   "restart <agent>",
			Short: "Re-open the channel of an agent in error or offline status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := p.agentByRef(args[0])
				if err != nil {
					return err
				}
				return p.coord.Restart(cmd.Context(), a.ID)
			},
		},
		&cobra.Command{
			Use:   "log <agent>",
			Short: "Show what was sent to an agent",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := p.agentByRef(args[0])
				if err != nil {
					return err
				}
				entries, err := p.store.Transcript(cmd.Context(), a.ID)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-6s %s %s\n",
						e.Timestamp.Format("15:04:05"), e.Role, tui.ShortID(e.TaskID), firstLine(e.Content))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List agents",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), tui.AgentList(p.reg.List()))
			},
		},
	)
	return cmd
}

type submitOptions struct {
	id          string
	description string
	priority    string
	rank        int
	requires    []string
	files       []string
	after       []string
	conflicts   []string
}

func newTaskCmd(p *pool) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}

	opts := &submitOptions{}
	submit := &cobra.Command{
		Use:   "submit <title>",
		Short: "Submit a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := task.ParsePriority(opts.priority)
			if err != nil {
				return err
			}
			after, err := p.taskRefs(opts.after)
			if err != nil {
				return err
			}
			conflicts, err := p.taskRefs(opts.conflicts)
			if err != nil {
				return err
			}
			t, err := p.sched.Submit(cmd.Context(), task.Spec{
				ID:            opts.id,
				Title:         strings.Join(args, " "),
				Description:   opts.description,
				Priority:      prio,
				Rank:          opts.rank,
				Requires:      opts.requires,
				Files:         opts.files,
				DependsOn:     after,
				ConflictsWith: conflicts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s submitted\n", t.ID)
			return nil
		},
	}
	submit.Flags().StringVar(&opts.id, "id", "", "task id (generated when empty)")
	submit.Flags().StringVarP(&opts.description, "desc", "d", "", "task description")
	submit.Flags().StringVarP(&opts.priority, "priority", "p", "medium", "low, medium, high or critical")
	submit.Flags().IntVar(&opts.rank, "rank", 0, "tiebreaker within a priority, higher first")
	submit.Flags().StringSliceVarP(&opts.requires, "requires", "r", nil, "capability tags an agent must have")
	submit.Flags().StringSliceVarP(&opts.files, "files", "f", nil, "files the task touches")
	submit.Flags().StringSliceVar(&opts.after, "after", nil, "tasks that must complete first")
	submit.Flags().StringSliceVar(&opts.conflicts, "conflicts", nil, "tasks that must not run at the same time")

	var agentRef string
	complete := &cobra.Command{
		Use:   "complete <task>",
		Short: "Mark a task completed by the agent working on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := p.taskByRef(args[0])
			if err != nil {
				return err
			}
			agentID := t.AssignedAgentID
			if agentRef != "" {
				a, err := p.agentByRef(agentRef)
				if err != nil {
					return err
				}
				agentID = a.ID
			}
			if agentID == "" && t.Status != task.StatusCompleted {
				return fmt.Errorf("task %s is %s and has no agent", tui.ShortID(t.ID), t.Status)
			}
			return p.sched.CompleteTask(cmd.Context(), agentID, t.ID)
		},
	}
	complete.Flags().StringVar(&agentRef, "agent", "", "agent reporting the completion (default: the assigned agent)")

	withReason := func(use, short string, op func(ctx context.Context, id, reason string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <task> <reason>",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := p.taskByRef(args[0])
				if err != nil {
					return err
				}
				return op(cmd.Context(), t.ID, strings.Join(args[1:], " "))
			},
		}
	}
	byID := func(use, short string, op func(ctx context.Context, id string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <task>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := p.taskByRef(args[0])
				if err != nil {
					return err
				}
				return op(cmd.Context(), t.ID)
			},
		}
	}
	pair := func(use, short string, op func(ctx context.Context, a, b string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := p.taskRefs(args)
				if err != nil {
					return err
				}
				return op(cmd.Context(), ids[0], ids[1])
			},
		}
	}

	var (
		statusFilter string
		readyOnly    bool
		openOnly     bool
	)
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			tasks := p.sched.Tasks()
			if readyOnly {
				tasks = p.sched.ReadyTasks()
			}
			kept := tasks[:0]
			for _, t := range tasks {
				if statusFilter != "" && string(t.Status) != statusFilter {
					continue
				}
				if openOnly && t.Status.Terminal() {
					continue
				}
				kept = append(kept, t)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.TaskList(kept))
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "only tasks in this status")
	list.Flags().BoolVar(&readyOnly, "ready", false, "only ready tasks, in the order they will be scheduled")
	list.Flags().BoolVar(&openOnly, "open", false, "hide completed and failed tasks")

	cmd.AddCommand(
		submit,
		complete,
		withReason("fail", "Fail an in-flight task and block its dependents", p.sched.FailTask),
		withReason("block", "Block a task until it is retried", p.sched.BlockTask),
		byID("retry", "Requeue a failed or blocked task", p.sched.RetryTask),
		byID("rm", "Delete a task that is not in flight", p.sched.DeleteTask),
		pair("depend <task> <on>", "Make a task wait for another", p.sched.AddDependency),
		pair("conflict <task> <other>", "Keep two tasks from running together", p.sched.AddConflict),
		list,
	)
	return cmd
}

func newMergeCmd(p *pool) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "merge <agent>",
		Short: "Merge an agent's worktree branch into the base branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.ws == nil {
				return errors.New("workspaces are disabled")
			}
			s, err := workspace.ParseMergeStrategy(strategy)
			if err != nil {
				return err
			}
			a, err := p.agentByRef(args[0])
			if err != nil {
				return err
			}
			res, err := p.ws.Merge(a.ID, s)
			if err != nil {
				return err
			}
			if !res.Merged {
				if len(res.ConflictFiles) > 0 {
					return fmt.Errorf("%s conflicts in %s: %w", a.Name, strings.Join(res.ConflictFiles, ", "), res.Error)
				}
				return res.Error
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %s into %s\n", a.Name, p.cfg.Workspace.BaseBranch)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "ort", "ort, ours or theirs")
	return cmd
}

// taskRefs resolves each reference; unknown references are passed through
// so the scheduler reports them.
func (p *pool) taskRefs(refs []string) ([]string, error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		t, err := p.taskByRef(ref)
		switch {
		case err == nil:
			ids[i] = t.ID
		case errors.Is(err, errAmbiguous):
			return nil, err
		default:
			ids[i] = ref
		}
	}
	return ids, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
