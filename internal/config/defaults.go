package config

import "time"

// DefaultConfig returns the default configuration with built-in providers and templates.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Kind:    "claude",
			},
			"goose": {
				Command: "goose",
				Kind:    "goose",
			},
		},
		Templates: map[string]AgentTemplate{
			"coder": {
				Provider:     "claude",
				SystemPrompt: "You implement features and write production code.",
				Capabilities: []string{"code"},
			},
			"frontend": {
				Provider:     "claude",
				SystemPrompt: "You build user interfaces: components, styling and client-side state.",
				Capabilities: []string{"code", "ui", "css"},
			},
			"backend": {
				Provider:     "claude",
				SystemPrompt: "You build services, APIs and database access.",
				Capabilities: []string{"code", "api", "database"},
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review code for correctness, style, and best practices.",
				Capabilities: []string{"review"},
			},
			"tester": {
				Provider:     "claude",
				SystemPrompt: "You write comprehensive tests and validate functionality.",
				Capabilities: []string{"test"},
			},
		},
		Pool: []PoolAgentConfig{
			{Template: "coder", Count: 1},
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: Duration(500 * time.Millisecond),
			MaxInterval:     Duration(5 * time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: Duration(30 * time.Second),
		},
		Store: StoreConfig{
			Path: ".agentpool/pool.db",
		},
		Workspace: WorkspaceConfig{
			BaseBranch: "main",
			Dir:        ".worktrees",
		},
	}
}
