package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// disposeGrace is how long Dispose waits for a process to exit after its
// stdin is closed before killing the process group.
const disposeGrace = 2 * time.Second

// newCommand creates an exec.Cmd with process group isolation.
// The Setpgid: true flag ensures the subprocess is in its own process group,
// allowing for clean termination of the entire subprocess tree.
func newCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks all running subprocesses and can terminate them all on shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess for tracking.
// Should be called after cmd.Start() when cmd.Process is available.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess from tracking.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

type process struct {
	handle Handle
	kind   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{}

	writeMu  sync.Mutex
	disposed bool // guarded by ProcessProvider.mu
}

// ProcessProvider runs one assistant process per agent. The process's
// stdin is the prompt sink and its exit is the closed signal.
type ProcessProvider struct {
	mu       sync.Mutex
	procs    map[string]*process
	onClosed []func(agentID string)

	pm  *ProcessManager
	log *slog.Logger
}

// NewProcessProvider creates a provider. A nil ProcessManager gets a fresh
// one; a nil logger uses slog.Default.
func NewProcessProvider(pm *ProcessManager, log *slog.Logger) *ProcessProvider {
	if pm == nil {
		pm = NewProcessManager()
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProcessProvider{
		procs: make(map[string]*process),
		pm:    pm,
		log:   log,
	}
}

// Create implements Provider.
func (p *ProcessProvider) Create(ctx context.Context, agentID string, cfg Config) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	name, args, err := commandLine(cfg)
	if err != nil {
		return Handle{}, err
	}

	cmd := newCommand(name, args...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("failed to start %s: %w", name, err)
	}
	p.pm.Track(cmd)

	proc := &process{
		handle: Handle{ID: uuid.NewString(), AgentID: agentID},
		kind:   cfg.Kind,
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan struct{}),
	}
	p.mu.Lock()
	p.procs[proc.handle.ID] = proc
	p.mu.Unlock()

	go p.supervise(proc, stdout, stderr)

	p.log.Info("worker channel started", "agent", agentID, "command", name, "pid", cmd.Process.Pid)
	return proc.handle, nil
}

// supervise drains both pipes concurrently, then waits for the process and
// reports an unexpected exit.
func (p *ProcessProvider) supervise(proc *process, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.drain(proc.handle.AgentID, "stdout", stdout)
	}()
	go func() {
		defer wg.Done()
		p.drain(proc.handle.AgentID, "stderr", stderr)
	}()
	wg.Wait()

	waitErr := proc.cmd.Wait()
	p.pm.Untrack(proc.cmd)
	close(proc.done)

	p.mu.Lock()
	disposed := proc.disposed
	delete(p.procs, proc.handle.ID)
	callbacks := append([]func(string){}, p.onClosed...)
	p.mu.Unlock()

	if disposed {
		return
	}
	p.log.Warn("worker channel exited", "agent", proc.handle.AgentID, "error", waitErr)
	for _, fn := range callbacks {
		fn(proc.handle.AgentID)
	}
}

func (p *ProcessProvider) drain(agentID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.log.Debug("worker output", "agent", agentID, "stream", stream, "line", scanner.Text())
	}
	// Keep reading past an oversized line so the pipe never fills up.
	_, _ = io.Copy(io.Discard, r)
}

// Send implements Provider.
func (p *ProcessProvider) Send(ctx context.Context, h Handle, text string) error {
	p.mu.Lock()
	proc, ok := p.procs[h.ID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", h.AgentID, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-proc.done:
		return fmt.Errorf("agent %s: %w", h.AgentID, ErrClosed)
	default:
	}

	data, err := frame(proc.kind, text)
	if err != nil {
		return err
	}

	proc.writeMu.Lock()
	defer proc.writeMu.Unlock()
	if _, err := proc.stdin.Write(data); err != nil {
		return fmt.Errorf("agent %s: writing prompt: %w", h.AgentID, err)
	}
	return nil
}

// OnClosed implements Provider.
func (p *ProcessProvider) OnClosed(fn func(agentID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = append(p.onClosed, fn)
}

// Dispose implements Provider. It closes stdin, gives the process a short
// grace period and then kills its process group.
func (p *ProcessProvider) Dispose(h Handle) error {
	p.mu.Lock()
	proc, ok := p.procs[h.ID]
	if ok {
		proc.disposed = true
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	proc.writeMu.Lock()
	_ = proc.stdin.Close()
	proc.writeMu.Unlock()

	select {
	case <-proc.done:
		return nil
	case <-time.After(disposeGrace):
	}
	if err := killProcessGroup(proc.cmd); err != nil {
		return err
	}
	<-proc.done
	return nil
}

// Shutdown kills every process the provider started.
func (p *ProcessProvider) Shutdown() error {
	p.mu.Lock()
	for _, proc := range p.procs {
		proc.disposed = true
	}
	p.mu.Unlock()
	return p.pm.KillAll()
}

// Len returns the number of live channels.
func (p *ProcessProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}
