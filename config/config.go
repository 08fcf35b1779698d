// Package config loads deep agent configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes a deep agent and its subagents.
type Config struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`

	// Limits
	MaxIterations    int    `yaml:"max_iterations"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	ToolTimeout      string `yaml:"tool_timeout"`
	DispatchTimeout  string `yaml:"dispatch_timeout"`

	// Middleware
	MemoryPath      string   `yaml:"memory_path"`
	EvictTokenLimit *int     `yaml:"evict_token_limit"`
	TokenEncoding   string   `yaml:"token_encoding"` // tiktoken encoding for eviction, e.g. cl100k_base
	BuiltinTools    []string `yaml:"builtin_tools"`
	Stream          bool     `yaml:"stream"`

	Model      ModelConfig       `yaml:"model"`
	Models     []ModelConfig     `yaml:"models"`
	Subagents  []SubagentConfig  `yaml:"subagents"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ModelConfig selects an inference backend.
type ModelConfig struct {
	// Name identifies the entry for subagent model overrides.
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic, openai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	// RequestsPerMinute throttles the backend; zero disables throttling.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// SubagentConfig describes a prompt-defined subagent.
type SubagentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Prompt      string `yaml:"prompt"`
	// Tools selects parent tools by name; omitted means all of them.
	Tools []string `yaml:"tools"`
	// Model references an entry of Config.Models by name.
	Model string `yaml:"model"`
}

// MCPServerConfig launches an MCP server over stdio.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	Prefix  string   `yaml:"prefix"`
	Timeout string   `yaml:"timeout"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text, zap
}

// ValidLogFormats lists the supported logging formats.
var ValidLogFormats = []string{"json", "text", "zap"}

// ValidProviders lists the supported model providers.
var ValidProviders = []string{"anthropic", "openai"}

// DefaultConfig returns a configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "deep-agent",
		MaxIterations: 25,
		Model:         ModelConfig{Provider: "anthropic"},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig, applies environment overrides
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if c.Model.APIKey != "" {
		return
	}
	switch c.Model.Provider {
	case "anthropic":
		c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks the configuration for errors that would otherwise only
// surface when the agent is assembled.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("max_iterations must not be negative"))
	}
	if c.MaxParallelTools < 0 {
		errs = append(errs, fmt.Errorf("max_parallel_tools must not be negative"))
	}
	if c.EvictTokenLimit != nil && *c.EvictTokenLimit < 0 {
		errs = append(errs, fmt.Errorf("evict_token_limit must not be negative"))
	}
	if _, err := parseDuration(c.ToolTimeout); err != nil {
		errs = append(errs, fmt.Errorf("tool_timeout: %w", err))
	}
	if _, err := parseDuration(c.DispatchTimeout); err != nil {
		errs = append(errs, fmt.Errorf("dispatch_timeout: %w", err))
	}

	if err := validateLogFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := validateProvider(c.Model.Provider); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	models := map[string]struct{}{}
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
			continue
		}
		if _, dup := models[m.Name]; dup {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate model %q", i, m.Name))
		}
		models[m.Name] = struct{}{}
		if err := validateProvider(m.Provider); err != nil {
			errs = append(errs, fmt.Errorf("models[%d]: %w", i, err))
		}
	}

	names := map[string]struct{}{}
	for i, s := range c.Subagents {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("subagents[%d]: name is required", i))
			continue
		}
		if _, dup := names[s.Name]; dup {
			errs = append(errs, fmt.Errorf("subagents[%d]: duplicate subagent %q", i, s.Name))
		}
		names[s.Name] = struct{}{}

		for _, t := range s.Tools {
			if t == "task" {
				errs = append(errs, fmt.Errorf("subagents[%d]: subagent %q may not use the task tool", i, s.Name))
			}
		}
		if s.Model != "" {
			if _, ok := models[s.Model]; !ok {
				errs = append(errs, fmt.Errorf("subagents[%d]: unknown model %q", i, s.Model))
			}
		}
	}

	for i, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: name and command are required", i))
		}
		if _, err := parseDuration(s.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("mcp_servers[%d].timeout: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetToolTimeout returns the per tool call timeout, zero when unset.
func (c *Config) GetToolTimeout() time.Duration {
	d, _ := parseDuration(c.ToolTimeout)
	return d
}

// GetDispatchTimeout returns the per dispatch timeout, zero when unset.
func (c *Config) GetDispatchTimeout() time.Duration {
	d, _ := parseDuration(c.DispatchTimeout)
	return d
}

// GetTimeout returns the MCP call timeout, zero when unset.
func (s MCPServerConfig) GetTimeout() time.Duration {
	d, _ := parseDuration(s.Timeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func validateProvider(p string) error {
	for _, v := range ValidProviders {
		if p == v {
			return nil
		}
	}
	return fmt.Errorf("invalid provider %q (valid: %v)", p, ValidProviders)
}

func validateLogFormat(f string) error {
	if f == "" {
		return nil
	}
	for _, v := range ValidLogFormats {
		if f == v {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q (valid: %v)", f, ValidLogFormats)
}
