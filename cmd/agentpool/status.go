package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/persistence"
	"github.com/aristath/agentpool/internal/task"
	"github.com/aristath/agentpool/internal/tui"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agents and tasks saved by the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storePath == "" {
				cfg, err := root.config()
				if err != nil {
					return err
				}
				storePath = cfg.Store.Path
			}
			if _, err := os.Stat(storePath); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "no pool saved at %s\n", storePath)
				return nil
			}

			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				agents []agent.Agent
				tasks  []*task.Task
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				agents, err = store.LoadAgentSnapshot(gctx)
				return err
			})
			g.Go(func() (err error) {
				tasks, err = store.LoadTaskSnapshot(gctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.Board(agents, tasks))
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "pool database (default: store.path from config)")
	return cmd
}
