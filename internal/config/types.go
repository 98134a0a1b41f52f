// Package config loads the pool configuration: assistant providers, agent
// templates, the agents to spawn at start, and tuning for the scheduler and
// lifecycle retry.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Channel kinds understood by the process provider.
var knownKinds = map[string]bool{"": true, "claude": true, "goose": true, "exec": true}

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from templates -- multiple templates can share one provider.
type ProviderConfig struct {
	Command string   `json:"command" yaml:"command" toml:"command"`                      // CLI binary name (e.g., "claude", "goose")
	Args    []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"` // Default args appended to every invocation
	Kind    string   `json:"kind" yaml:"kind" toml:"kind"`                               // Channel kind: "claude", "goose", "exec"
	Env     []string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`    // Extra KEY=VALUE entries
	LLM     string   `json:"llm,omitempty" yaml:"llm,omitempty" toml:"llm,omitempty"`    // Model backend for goose (e.g., "ollama")
}

// AgentTemplate defines a role: which provider runs it, what it is told up
// front, and which tasks it can take.
type AgentTemplate struct {
	Provider     string   `json:"provider" yaml:"provider" toml:"provider"`                                              // Key into Providers map
	Model        string   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`                         // Model override
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"` // Role prompt sent when the channel opens
	Type         string   `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`                            // Agent type used for matching; defaults to the template name
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty" toml:"capabilities,omitempty"`
}

// PoolAgentConfig asks for Count agents built from Template when the pool starts.
type PoolAgentConfig struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"` // Display name; numbered when Count > 1
	Template string `json:"template" yaml:"template" toml:"template"`
	Count    int    `json:"count,omitempty" yaml:"count,omitempty" toml:"count,omitempty"` // Zero means one
}

// SchedulerConfig tunes assignment.
type SchedulerConfig struct {
	FallbackToAnyIdle bool     `json:"fallback_to_any_idle" yaml:"fallback_to_any_idle" toml:"fallback_to_any_idle"`
	TickInterval      Duration `json:"tick_interval" yaml:"tick_interval" toml:"tick_interval"` // Periodic pass; zero disables
}

// RetryConfig bounds channel creation attempts.
type RetryConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	InitialInterval Duration `json:"initial_interval" yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `json:"max_interval" yaml:"max_interval" toml:"max_interval"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32   `json:"max_failures" yaml:"max_failures" toml:"max_failures"` // Consecutive failures before opening
	OpenTimeout Duration `json:"open_timeout" yaml:"open_timeout" toml:"open_timeout"` // How long the breaker stays open
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

// WorkspaceConfig gives each agent its own git worktree when enabled.
type WorkspaceConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	RepoPath   string `json:"repo_path,omitempty" yaml:"repo_path,omitempty" toml:"repo_path,omitempty"` // Defaults to the working directory
	BaseBranch string `json:"base_branch" yaml:"base_branch" toml:"base_branch"`
	Dir        string `json:"dir" yaml:"dir" toml:"dir"`
}

// Config is the top-level configuration.
type Config struct {
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Templates map[string]AgentTemplate  `json:"templates" yaml:"templates" toml:"templates"`
	Pool      []PoolAgentConfig         `json:"pool" yaml:"pool" toml:"pool"`
	Scheduler SchedulerConfig           `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Retry     RetryConfig               `json:"retry" yaml:"retry" toml:"retry"`
	Breaker   BreakerConfig             `json:"breaker" yaml:"breaker" toml:"breaker"`
	Store     StoreConfig               `json:"store" yaml:"store" toml:"store"`
	Workspace WorkspaceConfig           `json:"workspace" yaml:"workspace" toml:"workspace"`
}

// Template returns the named agent template. The agent type defaults to the
// template name.
func (c *Config) Template(name string) (AgentTemplate, bool) {
	tmpl, ok := c.Templates[name]
	if !ok {
		return AgentTemplate{}, false
	}
	if tmpl.Type == "" {
		tmpl.Type = name
	}
	tmpl.Capabilities = append([]string(nil), tmpl.Capabilities...)
	return tmpl, true
}

// Provider returns the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// Validate checks cross references and ranges. All problems are reported together.
func (c *Config) Validate() error {
	var problems []error
	for name, p := range c.Providers {
		if !knownKinds[p.Kind] {
			problems = append(problems, fmt.Errorf("provider %q: unknown kind %q", name, p.Kind))
		}
		if p.Command == "" && (p.Kind == "" || p.Kind == "exec") {
			problems = append(problems, fmt.Errorf("provider %q: command is required", name))
		}
	}
	for name, tmpl := range c.Templates {
		if _, ok := c.Providers[tmpl.Provider]; !ok {
			problems = append(problems, fmt.Errorf("template %q: unknown provider %q", name, tmpl.Provider))
		}
	}
	for i, p := range c.Pool {
		if _, ok := c.Templates[p.Template]; !ok {
			problems = append(problems, fmt.Errorf("pool[%d]: unknown template %q", i, p.Template))
		}
		if p.Count < 0 {
			problems = append(problems, fmt.Errorf("pool[%d]: negative count", i))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		problems = append(problems, errors.New("retry.max_interval is shorter than retry.initial_interval"))
	}
	if c.Scheduler.TickInterval < 0 {
		problems = append(problems, errors.New("scheduler.tick_interval is negative"))
	}
	if c.Store.Path == "" {
		problems = append(problems, errors.New("store.path is required"))
	}
	if c.Workspace.Enabled && c.Workspace.BaseBranch == "" {
		problems = append(problems, errors.New("workspace.base_branch is required when workspaces are enabled"))
	}
	return errors.Join(problems...)
}

// Duration is a time.Duration written as a string ("30s", "1m30s") in
// every config format.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
