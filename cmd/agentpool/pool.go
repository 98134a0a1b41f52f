package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/channel"
	"github.com/aristath/agentpool/internal/config"
	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/events"
	"github.com/aristath/agentpool/internal/lifecycle"
	"github.com/aristath/agentpool/internal/persistence"
	"github.com/aristath/agentpool/internal/scheduler"
	"github.com/aristath/agentpool/internal/task"
	"github.com/aristath/agentpool/internal/workspace"
)

// pool is one running agent pool with everything it is wired to.
type pool struct {
	cfg   *config.Config
	log   *slog.Logger
	bus   *events.EventBus
	store *persistence.SQLiteStore
	reg   *agent.Registry
	sched *scheduler.Scheduler
	coord *lifecycle.Coordinator
	procs *channel.ProcessProvider // nil when channels are injected
	ws    *workspace.Manager       // nil unless workspaces are enabled
}

type poolOptions struct {
	Channels channel.Provider         // Defaults to assistant subprocesses
	Store    *persistence.SQLiteStore // Defaults to the store at cfg.Store.Path
}

func openPool(ctx context.Context, cfg *config.Config, log *slog.Logger, opts poolOptions) (*pool, error) {
	p := &pool{cfg: cfg, log: log, bus: events.NewEventBus(), store: opts.Store}

	if p.store == nil {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		p.store = store
	}

	p.reg = agent.NewRegistry(p.bus)
	sched, err := scheduler.New(scheduler.Config{
		Registry:          p.reg,
		Publisher:         p.bus,
		Persister:         p.store,
		FallbackToAnyIdle: cfg.Scheduler.FallbackToAnyIdle,
		Logger:            log.With("component", "scheduler"),
	})
	if err != nil {
		p.store.Close()
		return nil, err
	}
	p.sched = sched

	channels := opts.Channels
	if channels == nil {
		p.procs = channel.NewProcessProvider(channel.NewProcessManager(), log.With("component", "channel"))
		channels = p.procs
	}

	var env lifecycle.Environment
	if cfg.Workspace.Enabled {
		repo := cfg.Workspace.RepoPath
		if repo == "" {
			if repo, err = os.Getwd(); err != nil {
				p.store.Close()
				return nil, err
			}
		}
		p.ws = workspace.NewManager(workspace.Config{
			RepoPath:    repo,
			BaseBranch:  cfg.Workspace.BaseBranch,
			WorktreeDir: cfg.Workspace.Dir,
		})
		if err := p.ws.Prune(); err != nil {
			log.Warn("worktree prune failed", "error", err)
		}
		env = p.ws
	}

	coordLog := log.With("component", "lifecycle")
	p.coord, err = lifecycle.New(lifecycle.Config{
		Registry:    p.reg,
		Scheduler:   p.sched,
		Channels:    channels,
		Templates:   cfg,
		Environment: env,
		Sessions:    p.store,
		Retry: lifecycle.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval.Std(),
			MaxInterval:     cfg.Retry.MaxInterval.Std(),
		},
		Breakers: lifecycle.NewBreakerRegistry(lifecycle.BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout.Std(),
		}, coordLog),
		Logger: coordLog,
	})
	if err != nil {
		p.store.Close()
		return nil, err
	}
	return p, nil
}

// start restores the previous run unless fresh is set. A pool that comes
// back without agents is populated from the configured pool list.
func (p *pool) start(ctx context.Context, fresh bool) error {
	restoredAgents := 0
	if !fresh {
		agents, tasks, err := p.coord.Restore(ctx, p.store)
		if err != nil {
			return fmt.Errorf("restoring pool: %w", err)
		}
		restoredAgents = agents
		if agents > 0 || tasks > 0 {
			p.log.Info("restored previous run", "agents", agents, "tasks", tasks)
		}
	}
	if restoredAgents > 0 {
		return nil
	}
	for _, want := range p.cfg.Pool {
		count := max(want.Count, 1)
		for i := 1; i <= count; i++ {
			name := want.Name
			if name != "" && count > 1 {
				name = fmt.Sprintf("%s-%d", want.Name, i)
			}
			if _, err := p.coord.Spawn(ctx, lifecycle.SpawnRequest{Template: want.Template, Name: name}); err != nil {
				p.log.Warn("pool agent unavailable", "template", want.Template, "error", err)
			}
		}
	}
	return nil
}

// close disposes every channel and closes the store. Workspaces are kept.
func (p *pool) close(ctx context.Context) error {
	var problems []error
	if err := p.coord.Shutdown(ctx); err != nil {
		problems = append(problems, err)
	}
	if p.procs != nil {
		if err := p.procs.Shutdown(); err != nil {
			problems = append(problems, err)
		}
	}
	p.bus.Close()
	if err := p.store.Close(); err != nil {
		problems = append(problems, err)
	}
	return errors.Join(problems...)
}

// tick runs the periodic scheduling pass when one is configured.
func (p *pool) tick(ctx context.Context) {
	if d := p.cfg.Scheduler.TickInterval.Std(); d > 0 {
		p.sched.Tick(ctx, d)
	}
}

var errAmbiguous = errors.New("ambiguous reference")

// agentByRef finds an agent by id, name or unique id prefix.
func (p *pool) agentByRef(ref string) (agent.Agent, error) {
	var prefixed []agent.Agent
	for _, a := range p.reg.List() {
		if a.ID == ref || a.Name == ref {
			return a, nil
		}
		if strings.HasPrefix(a.ID, ref) {
			prefixed = append(prefixed, a)
		}
	}
	switch len(prefixed) {
	case 1:
		return prefixed[0], nil
	case 0:
		return agent.Agent{}, errs.NotFound("agent", ref)
	}
	return agent.Agent{}, fmt.Errorf("%w: %q matches %d agents", errAmbiguous, ref, len(prefixed))
}

// taskByRef finds a task by id or unique id prefix.
func (p *pool) taskByRef(ref string) (*task.Task, error) {
	if t, ok := p.sched.Task(ref); ok {
		return t, nil
	}
	var prefixed []*task.Task
	for _, t := range p.sched.Tasks() {
		if strings.HasPrefix(t.ID, ref) {
			prefixed = append(prefixed, t)
		}
	}
	switch len(prefixed) {
	case 1:
		return prefixed[0], nil
	case 0:
		return nil, errs.NotFound("task", ref)
	}
	return nil, fmt.Errorf("%w: %q matches %d tasks", errAmbiguous, ref, len(prefixed))
}

const shutdownTimeout = 10 * time.Second
