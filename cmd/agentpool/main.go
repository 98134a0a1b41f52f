// Command agentpool runs a pool of coding assistant agents and distributes
// tasks to them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/agentpool/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentpool",
		Short:         "Schedule tasks across a pool of coding assistant agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ~/.agentpool and ./.agentpool)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// logger writes text logs to stderr so they do not mix with command output.
func (o *rootOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// config loads --config on top of the defaults, or the conventional global
// and project files when the flag is not set.
func (o *rootOptions) config() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load("", o.configPath)
	}
	return config.LoadDefault()
}
