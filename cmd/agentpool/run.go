package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aristath/agentpool/internal/channel"
	"github.com/aristath/agentpool/internal/tui"
)

type runOptions struct {
	fresh  bool
	dryRun bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pool and read commands from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := root.logger()
			if err != nil {
				return err
			}
			cfg, err := root.config()
			if err != nil {
				return err
			}
			var po poolOptions
			if opts.dryRun {
				po.Channels = channel.NewMemoryProvider()
			}
			p, err := openPool(cmd.Context(), cfg, log, po)
			if err != nil {
				return err
			}
			return runPool(cmd.Context(), p, cmd.InOrStdin(), cmd.OutOrStdout(), opts.fresh)
		},
	}
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "ignore the saved pool and start from the configured agents")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "keep prompts in memory instead of starting assistants")
	return cmd
}

// lockedWriter serializes the event feed and command output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

// runPool starts p, prints its events and executes commands read from in
// until quit, end of input, or ctx is cancelled. The pool is closed on
// return.
func runPool(ctx context.Context, p *pool, in io.Reader, out io.Writer, fresh bool) (err error) {
	out = &lockedWriter{w: out}

	sub := p.bus.SubscribeAll(0)
	var feed sync.WaitGroup
	feed.Add(1)
	go func() {
		defer feed.Done()
		for ev := range sub.C {
			if line := tui.EventLine(ev); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if closeErr := p.close(shutdownCtx); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		feed.Wait()
		p.log.Info("shutdown complete", "dropped_events", p.bus.Dropped())
	}()

	if err := p.start(ctx, fresh); err != nil {
		return err
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go p.tick(loopCtx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-loopCtx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, tui.HelpView())
	for {
		select {
		case <-ctx.Done():
			p.log.Info("shutdown signal received, cleaning up")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := execLine(ctx, p, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}
