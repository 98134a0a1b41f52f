package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for dry runs and tests. Sent
// prompts are recorded per agent.
type MemoryProvider struct {
	mu       sync.Mutex
	open     map[string]Handle // handle id -> handle
	byAgent  map[string]string // agent id -> handle id
	sent     map[string][]string
	configs  map[string]Config // agent id -> last Create config
	onClosed []func(agentID string)

	// CreateErr, when set, makes the next FailCreates calls to Create fail.
	CreateErr   error
	FailCreates int
	// SendErr, when set, makes every Send fail.
	SendErr error
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		open:    make(map[string]Handle),
		byAgent: make(map[string]string),
		sent:    make(map[string][]string),
		configs: make(map[string]Config),
	}
}

// Create implements Provider.
func (m *MemoryProvider) Create(ctx context.Context, agentID string, cfg Config) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil && m.FailCreates > 0 {
		m.FailCreates--
		return Handle{}, m.CreateErr
	}
	h := Handle{ID: uuid.NewString(), AgentID: agentID}
	m.open[h.ID] = h
	m.byAgent[agentID] = h.ID
	m.configs[agentID] = cfg
	return h, nil
}

// Send implements Provider.
func (m *MemoryProvider) Send(_ context.Context, h Handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[h.ID]; !ok {
		return fmt.Errorf("agent %s: %w", h.AgentID, ErrClosed)
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent[h.AgentID] = append(m.sent[h.AgentID], text)
	return nil
}

// OnClosed implements Provider.
func (m *MemoryProvider) OnClosed(fn func(agentID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = append(m.onClosed, fn)
}

// Dispose implements Provider.
func (m *MemoryProvider) Dispose(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forget(h)
	return nil
}

func (m *MemoryProvider) forget(h Handle) {
	delete(m.open, h.ID)
	if m.byAgent[h.AgentID] == h.ID {
		delete(m.byAgent, h.AgentID)
	}
}

// Close simulates the agent's session ending on its own. Registered
// OnClosed callbacks run synchronously.
func (m *MemoryProvider) Close(agentID string) bool {
	m.mu.Lock()
	id, ok := m.byAgent[agentID]
	if ok {
		m.forget(m.open[id])
	}
	callbacks := append([]func(string){}, m.onClosed...)
	m.mu.Unlock()

	if !ok {
		return false
	}
	for _, fn := range callbacks {
		fn(agentID)
	}
	return true
}

// Sent returns the prompts written to agentID's channels.
func (m *MemoryProvider) Sent(agentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[agentID]...)
}

// IsOpen reports whether agentID has a live channel.
func (m *MemoryProvider) IsOpen(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byAgent[agentID]
	return ok
}

// LastConfig returns the config of the most recent successful Create for agentID.
func (m *MemoryProvider) LastConfig(agentID string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[agentID]
	return cfg, ok
}
