// Package config loads kernel configuration from
// <workspace>/.cogkernel/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kernel configuration.
type Config struct {
	// Workspace is the repository root the kernel serves. Not read from
	// the file; set by the composition root.
	Workspace string `yaml:"-"`

	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Security   SecurityConfig   `yaml:"security"`
	Worker     WorkerConfig     `yaml:"worker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig configures the artifact store.
type StoreConfig struct {
	// Path of the SQLite store file; relative paths resolve against the
	// workspace kernel directory.
	Path string `yaml:"path"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, openai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
}

// SecurityConfig configures the security kernel.
type SecurityConfig struct {
	// KeyPath of the signing key file; relative paths resolve against the
	// workspace kernel directory.
	KeyPath string `yaml:"key_path"`
	// ForbiddenRoots are workspace-relative directories no path argument
	// may touch, in addition to the built-in ones.
	ForbiddenRoots []string `yaml:"forbidden_roots"`
	// AllowedBinaries extends the sandbox binary allow-list.
	AllowedBinaries []string `yaml:"allowed_binaries"`
	// CommandTimeout bounds untrusted command execution.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// LockTTL and SessionTTL are the coordination lease durations.
	LockTTL    time.Duration `yaml:"lock_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// WorkerConfig configures the embedding queue worker.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SupervisorConfig configures the job supervisor process.
type SupervisorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// StaleAfter is the elapsed heartbeat age past which a worker is
	// reported stale.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// NotifyConfig configures the optional notification sink.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Throttle is the minimum interval between delivered notifications.
	Throttle time.Duration `yaml:"throttle"`
}

// LoggingConfig controls categorized file logging.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "kernel.db",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			OpenAIModel:    "text-embedding-3-small",
		},
		Security: SecurityConfig{
			KeyPath:        "signing.key",
			CommandTimeout: 60 * time.Second,
			LockTTL:        15 * time.Minute,
			SessionTTL:     2 * time.Hour,
		},
		Worker: WorkerConfig{
			PollInterval: 5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			PollInterval:      3 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			StaleAfter:        time.Minute,
		},
		Notify: NotifyConfig{
			Enabled:  false,
			Throttle: 2 * time.Second,
		},
	}
}

// KernelDir returns the kernel working directory for a workspace.
func KernelDir(workspace string) string {
	return filepath.Join(workspace, ".cogkernel")
}

// Load reads configuration for a workspace. A missing file yields defaults;
// a malformed file is an error. Environment variables COGKERNEL_OPENAI_KEY
// and COGKERNEL_EMBED_PROVIDER override the file.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(KernelDir(workspace), "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if v := os.Getenv("COGKERNEL_OPENAI_KEY"); v != "" {
		cfg.Embedding.OpenAIAPIKey = v
	}
	if v := os.Getenv("COGKERNEL_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	cfg.applyFloors()
	return cfg, nil
}

// Save writes the configuration file, creating the kernel directory.
func (c *Config) Save() error {
	dir := KernelDir(c.Workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create kernel directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}

// StorePath resolves the store file location.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(KernelDir(c.Workspace), c.Store.Path)
}

// SigningKeyPath resolves the signing key location.
func (c *Config) SigningKeyPath() string {
	if filepath.IsAbs(c.Security.KeyPath) {
		return c.Security.KeyPath
	}
	return filepath.Join(KernelDir(c.Workspace), c.Security.KeyPath)
}

// applyFloors clamps durations a hand-edited file may have zeroed.
func (c *Config) applyFloors() {
	d := Default()
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = d.Worker.PollInterval
	}
	if c.Supervisor.PollInterval <= 0 {
		c.Supervisor.PollInterval = d.Supervisor.PollInterval
	}
	if c.Supervisor.HeartbeatInterval <= 0 {
		c.Supervisor.HeartbeatInterval = d.Supervisor.HeartbeatInterval
	}
	if c.Supervisor.StaleAfter <= 0 {
		c.Supervisor.StaleAfter = d.Supervisor.StaleAfter
	}
	if c.Security.CommandTimeout <= 0 {
		c.Security.CommandTimeout = d.Security.CommandTimeout
	}
	if c.Security.LockTTL <= 0 {
		c.Security.LockTTL = d.Security.LockTTL
	}
	if c.Security.SessionTTL <= 0 {
		c.Security.SessionTTL = d.Security.SessionTTL
	}
	if c.Notify.Throttle <= 0 {
		c.Notify.Throttle = d.Notify.Throttle
	}
}
