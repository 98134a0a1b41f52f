package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DirName is the directory holding global (~/DirName) and project (./DirName) config.
const DirName = ".agentpool"

// configNames are tried in order inside a config directory.
var configNames = []string{"config.json", "config.yaml", "config.yml", "config.toml"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error.
//
// A layer is decoded on top of the previous ones, so sections only set the
// keys they name. Entries in providers and templates replace the entry of
// the same name wholesale; a pool list replaces the previous pool.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.agentpool/config.{json,yaml,yml,toml}
// Project: .agentpool/config.{json,yaml,yml,toml} (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(Find(filepath.Join(homeDir, DirName)), Find(DirName))
}

// Find returns the first config file present in dir, or the JSON path when
// there is none.
func Find(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, configNames[0])
}

// mergeConfigFile decodes a config file over base.
// Missing files are silently skipped. On a parse error base is left untouched.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	layered := base.clone()
	if err := decode(path, data, layered); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	*base = *layered
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys: %v", undecoded)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for k, p := range c.Providers {
		p.Args = append([]string(nil), p.Args...)
		p.Env = append([]string(nil), p.Env...)
		cp.Providers[k] = p
	}
	cp.Templates = make(map[string]AgentTemplate, len(c.Templates))
	for k, t := range c.Templates {
		t.Capabilities = append([]string(nil), t.Capabilities...)
		cp.Templates[k] = t
	}
	cp.Pool = append([]PoolAgentConfig(nil), c.Pool...)
	return &cp
}
