// Package lifecycle spawns and tears down agents: it provisions each
// agent's worker channel and workspace, registers the agent, and turns
// channel closures into scheduler interruptions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/channel"
	"github.com/aristath/agentpool/internal/config"
	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/persistence"
	"github.com/aristath/agentpool/internal/scheduler"
	"github.com/aristath/agentpool/internal/task"
)

// TemplateProvider supplies agent templates and the providers they run on.
type TemplateProvider interface {
	Template(name string) (config.AgentTemplate, bool)
	Provider(name string) (config.ProviderConfig, bool)
}

// Environment provisions a working directory per agent.
type Environment interface {
	Provision(agentID string) (string, error)
	Release(agentID string) error
}

// SnapshotStore loads what a previous run persisted.
type SnapshotStore interface {
	LoadAgentSnapshot(ctx context.Context) ([]agent.Agent, error)
	LoadTaskSnapshot(ctx context.Context) ([]*task.Task, error)
}

// SessionStore remembers channel sessions and what was sent to each agent.
type SessionStore interface {
	SaveSession(ctx context.Context, agentID, sessionID, kind string) error
	GetSession(ctx context.Context, agentID string) (string, string, error)
	AppendTranscript(ctx context.Context, entry persistence.TranscriptEntry) error
	ForgetAgent(ctx context.Context, agentID string) error
}

// Config wires a Coordinator. Registry, Scheduler, Channels and Templates are required.
type Config struct {
	Registry    *agent.Registry
	Scheduler   *scheduler.Scheduler
	Channels    channel.Provider
	Templates   TemplateProvider
	Environment Environment  // Optional; agents share the working directory without it
	Sessions    SessionStore // Optional
	Retry       RetryPolicy
	Breakers    *BreakerRegistry
	Logger      *slog.Logger
}

// SpawnRequest describes an agent to create.
type SpawnRequest struct {
	Template string
	Name     string       // Defaults to the template name plus a short id
	Restored *agent.Agent // Set when re-creating an agent from a snapshot
}

// Coordinator owns the worker channels of all agents.
type Coordinator struct {
	registry  *agent.Registry
	sched     *scheduler.Scheduler
	channels  channel.Provider
	templates TemplateProvider
	env       Environment
	sessions  SessionStore
	retry     RetryPolicy
	breakers  *BreakerRegistry
	log       *slog.Logger

	mu      sync.Mutex
	handles map[string]channel.Handle // agent id -> live channel
}

// New creates a Coordinator and registers it as the scheduler's dispatcher
// and as the channel provider's close listener.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil || cfg.Scheduler == nil || cfg.Channels == nil || cfg.Templates == nil {
		return nil, errors.New("lifecycle: registry, scheduler, channels and templates are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewBreakerRegistry(BreakerSettings{}, cfg.Logger)
	}

	c := &Coordinator{
		registry:  cfg.Registry,
		sched:     cfg.Scheduler,
		channels:  cfg.Channels,
		templates: cfg.Templates,
		env:       cfg.Environment,
		sessions:  cfg.Sessions,
		retry:     cfg.Retry,
		breakers:  cfg.Breakers,
		log:       cfg.Logger,
		handles:   make(map[string]channel.Handle),
	}
	c.channels.OnClosed(c.channelClosed)
	c.sched.SetDispatcher(c)
	return c, nil
}

// Spawn creates an agent from a template. When the worker channel cannot
// be provisioned the agent is registered in error status, never idle, and
// the returned error wraps errs.ErrProvisioning.
func (c *Coordinator) Spawn(ctx context.Context, req SpawnRequest) (agent.Agent, error) {
	a, err := c.spawn(ctx, req)
	if a.ID == "" {
		return a, err
	}
	// Registered either way; match it and persist the registry.
	c.sched.Reschedule(ctx)
	if registered, ok := c.registry.Get(a.ID); ok {
		a = registered
	}
	return a, err
}

// spawn registers the agent without running a scheduling pass.
func (c *Coordinator) spawn(ctx context.Context, req SpawnRequest) (agent.Agent, error) {
	a := agent.Agent{ID: uuid.NewString(), Template: req.Template, Name: req.Name}
	if req.Restored != nil {
		a = req.Restored.Clone()
		a.Status = ""
		a.CurrentTaskID = ""
		a.LastError = ""
	}
	if _, exists := c.registry.Get(a.ID); exists {
		return agent.Agent{}, errs.InvalidState("agent %q already registered", a.ID)
	}

	tmpl, ok := c.templates.Template(a.Template)
	if !ok {
		if req.Restored == nil {
			return agent.Agent{}, fmt.Errorf("unknown template %q: %w", a.Template, errs.ErrInvalidSpec)
		}
		// Keep a restored agent visible so it can be removed or retemplated.
		return c.registerFailed(a, fmt.Errorf("unknown template %q", a.Template))
	}
	if req.Restored == nil {
		a.Type = tmpl.Type
		a.Capabilities = tmpl.Capabilities
	}
	if a.Name == "" {
		short := a.ID
		if len(short) > 8 {
			short = short[:8]
		}
		a.Name = fmt.Sprintf("%s-%s", a.Template, short)
	}

	if err := c.open(ctx, a, tmpl); err != nil {
		return c.registerFailed(a, err)
	}

	if _, err := c.registry.Register(a); err != nil {
		c.closeChannel(a.ID)
		c.releaseEnvironment(a.ID)
		return agent.Agent{}, err
	}
	c.afterOpen(ctx, a.ID)

	c.log.Info("agent spawned", "agent", a.ID, "name", a.Name, "template", a.Template)
	registered, _ := c.registry.Get(a.ID)
	return registered, nil
}

// open provisions the environment and worker channel for a, then sends the
// bootstrap prompt. On failure everything it created is released.
func (c *Coordinator) open(ctx context.Context, a agent.Agent, tmpl config.AgentTemplate) error {
	prov, ok := c.templates.Provider(tmpl.Provider)
	if !ok {
		return fmt.Errorf("template %q: unknown provider %q", a.Template, tmpl.Provider)
	}

	var workDir string
	if c.env != nil {
		dir, err := c.env.Provision(a.ID)
		if err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
		workDir = dir
	}

	cfg := channel.Config{
		Kind:         prov.Kind,
		Command:      prov.Command,
		Args:         prov.Args,
		Env:          prov.Env,
		WorkDir:      workDir,
		SessionID:    c.sessionID(ctx, a.ID, prov.Kind),
		Model:        tmpl.Model,
		Provider:     prov.LLM,
		SystemPrompt: tmpl.SystemPrompt,
	}

	var h channel.Handle
	res := Retry(ctx, c.retry, c.breakers.Get(tmpl.Provider), func(ctx context.Context) error {
		var err error
		h, err = c.channels.Create(ctx, a.ID, cfg)
		return err
	})
	if !res.OK() {
		c.releaseEnvironment(a.ID)
		if res.Exhausted {
			return fmt.Errorf("channel not created after %d attempts: %w", res.Attempts, res.Err)
		}
		return fmt.Errorf("channel not created: %w", res.Err)
	}

	// Claude takes the role prompt on its command line; other kinds get it
	// as their first message.
	if tmpl.SystemPrompt != "" && prov.Kind != channel.KindClaude {
		if err := c.channels.Send(ctx, h, tmpl.SystemPrompt); err != nil {
			_ = c.channels.Dispose(h)
			c.releaseEnvironment(a.ID)
			return fmt.Errorf("bootstrap prompt: %w", err)
		}
	}

	c.mu.Lock()
	c.handles[a.ID] = h
	c.mu.Unlock()

	if c.sessions != nil {
		if err := c.sessions.SaveSession(ctx, a.ID, cfg.SessionID, prov.Kind); err != nil {
			c.log.Warn("session not saved", "agent", a.ID, "error", err)
		}
		if tmpl.SystemPrompt != "" {
			c.record(ctx, persistence.TranscriptEntry{AgentID: a.ID, Role: "system", Content: tmpl.SystemPrompt})
		}
	}
	return nil
}

// afterOpen catches a channel that closed before the agent was registered.
func (c *Coordinator) afterOpen(ctx context.Context, agentID string) {
	c.mu.Lock()
	_, live := c.handles[agentID]
	c.mu.Unlock()
	if !live {
		c.log.Warn("worker channel closed during spawn", "agent", agentID)
		if err := c.sched.InterruptAgent(ctx, agentID, true); err != nil {
			c.log.Warn("interrupt failed", "agent", agentID, "error", err)
		}
	}
}

// sessionID reuses the session saved for agentID, if any, so a restored
// claude agent resumes its conversation.
func (c *Coordinator) sessionID(ctx context.Context, agentID, kind string) string {
	if c.sessions != nil {
		if id, savedKind, err := c.sessions.GetSession(ctx, agentID); err == nil && savedKind == kind && id != "" {
			return id
		}
	}
	if kind == channel.KindGoose {
		return agentID
	}
	return uuid.NewString()
}

func (c *Coordinator) registerFailed(a agent.Agent, cause error) (agent.Agent, error) {
	a.Status = agent.StatusError
	a.LastError = cause.Error()
	if _, err := c.registry.Register(a); err != nil {
		return agent.Agent{}, errors.Join(fmt.Errorf("agent %s: %w: %w", a.Name, errs.ErrProvisioning, cause), err)
	}
	c.log.Warn("agent provisioning failed", "agent", a.ID, "name", a.Name, "error", cause)
	registered, _ := c.registry.Get(a.ID)
	return registered, fmt.Errorf("agent %s: %w: %w", a.Name, errs.ErrProvisioning, cause)
}

// Remove interrupts the agent's in-flight task, unregisters it, and tears
// down its channel and workspace. It reports whether the agent existed.
func (c *Coordinator) Remove(ctx context.Context, agentID string) (bool, error) {
	removed, err := c.sched.RemoveAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	c.closeChannel(agentID)
	if !removed {
		return false, nil
	}
	c.releaseEnvironment(agentID)
	if c.sessions != nil {
		if err := c.sessions.ForgetAgent(ctx, agentID); err != nil {
			c.log.Warn("session not forgotten", "agent", agentID, "error", err)
		}
	}
	return true, nil
}

// Restart re-provisions the channel of an agent in error or offline status
// and returns it to idle.
func (c *Coordinator) Restart(ctx context.Context, agentID string) error {
	a, ok := c.registry.Get(agentID)
	if !ok {
		return errs.NotFound("agent", agentID)
	}
	if a.Status != agent.StatusError && a.Status != agent.StatusOffline {
		return errs.InvalidState("agent %q is %s; only error or offline agents restart", agentID, a.Status)
	}
	tmpl, ok := c.templates.Template(a.Template)
	if !ok {
		return fmt.Errorf("unknown template %q: %w", a.Template, errs.ErrInvalidSpec)
	}

	c.closeChannel(agentID)
	if err := c.open(ctx, a, tmpl); err != nil {
		if markErr := c.registry.MarkUnavailable(agentID, agent.StatusError, err.Error()); markErr != nil {
			c.log.Warn("mark error failed", "agent", agentID, "error", markErr)
		}
		c.sched.Reschedule(ctx)
		return fmt.Errorf("agent %s: %w: %w", a.Name, errs.ErrProvisioning, err)
	}
	if err := c.registry.MarkAvailable(agentID); err != nil {
		c.closeChannel(agentID)
		return err
	}
	c.afterOpen(ctx, agentID)

	c.log.Info("agent restarted", "agent", agentID, "name", a.Name)
	c.sched.Reschedule(ctx)
	return nil
}

// Restore loads a snapshot into an empty pool: tasks first, then every
// agent is respawned under its old id. Agents that cannot be provisioned
// come back in error status; that is logged, not returned. Persisted
// agents are rewritten once, after every restored agent is registered.
func (c *Coordinator) Restore(ctx context.Context, store SnapshotStore) (int, int, error) {
	var (
		agents []agent.Agent
		tasks  []*task.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = store.LoadAgentSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = store.LoadTaskSnapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, fmt.Errorf("loading snapshot: %w", err)
	}

	if err := c.sched.Restore(ctx, tasks); err != nil {
		return 0, 0, err
	}

	sg, sctx := errgroup.WithContext(ctx)
	sg.SetLimit(4)
	for i := range agents {
		restored := agents[i]
		sg.Go(func() error {
			if _, err := c.spawn(sctx, SpawnRequest{Template: restored.Template, Restored: &restored}); err != nil {
				c.log.Warn("restored agent unavailable", "agent", restored.ID, "name", restored.Name, "error", err)
			}
			return nil
		})
	}
	_ = sg.Wait()
	c.sched.Reschedule(ctx)

	c.log.Info("pool restored", "agents", len(agents), "tasks", len(tasks))
	return len(agents), len(tasks), nil
}

// Dispatch implements scheduler.Dispatcher by writing the task prompt to
// the agent's worker channel.
func (c *Coordinator) Dispatch(ctx context.Context, agentID string, t *task.Task) error {
	c.mu.Lock()
	h, ok := c.handles[agentID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, channel.ErrClosed)
	}

	prompt := t.Prompt()
	if err := c.channels.Send(ctx, h, prompt); err != nil {
		return err
	}
	c.record(ctx, persistence.TranscriptEntry{AgentID: agentID, TaskID: t.ID, Role: "user", Content: prompt})
	return nil
}

// Shutdown disposes every channel. Workspaces are kept so a restored pool
// picks up where it stopped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	handles := make([]channel.Handle, 0, len(c.handles))
	for id, h := range c.handles {
		handles = append(handles, h)
		delete(c.handles, id)
	}
	c.mu.Unlock()

	var (
		mu       sync.Mutex
		problems []error
	)
	g, _ := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := c.channels.Dispose(h); err != nil {
				mu.Lock()
				problems = append(problems, fmt.Errorf("agent %s: %w", h.AgentID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(problems...)
}

// Live reports whether agentID has an open worker channel.
func (c *Coordinator) Live(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handles[agentID]
	return ok
}

// channelClosed runs on the provider's goroutine when a channel ends
// without being disposed.
func (c *Coordinator) channelClosed(agentID string) {
	c.mu.Lock()
	_, ok := c.handles[agentID]
	delete(c.handles, agentID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if _, registered := c.registry.Get(agentID); !registered {
		return
	}

	c.log.Warn("worker channel closed", "agent", agentID)
	if err := c.sched.InterruptAgent(context.Background(), agentID, true); err != nil {
		c.log.Warn("interrupt failed", "agent", agentID, "error", err)
	}
}

func (c *Coordinator) closeChannel(agentID string) {
	c.mu.Lock()
	h, ok := c.handles[agentID]
	delete(c.handles, agentID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.channels.Dispose(h); err != nil {
		c.log.Warn("channel dispose failed", "agent", agentID, "error", err)
	}
}

func (c *Coordinator) releaseEnvironment(agentID string) {
	if c.env == nil {
		return
	}
	if err := c.env.Release(agentID); err != nil {
		c.log.Warn("workspace not released", "agent", agentID, "error", err)
	}
}

func (c *Coordinator) record(ctx context.Context, entry persistence.TranscriptEntry) {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.AppendTranscript(ctx, entry); err != nil {
		c.log.Warn("transcript not saved", "agent", entry.AgentID, "error", err)
	}
}
