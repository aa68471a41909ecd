package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != ws {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Security.LockTTL != 15*time.Minute {
		t.Errorf("lock ttl = %v", cfg.Security.LockTTL)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()

	cfg, _ := Load(ws)
	cfg.Embedding.Provider = "openai"
	cfg.Security.ForbiddenRoots = []string{"secrets"}
	cfg.Worker.PollInterval = 42 * time.Second
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(ws)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Embedding.Provider != "openai" {
		t.Errorf("provider = %q", got.Embedding.Provider)
	}
	if len(got.Security.ForbiddenRoots) != 1 || got.Security.ForbiddenRoots[0] != "secrets" {
		t.Errorf("forbidden roots = %v", got.Security.ForbiddenRoots)
	}
	if got.Worker.PollInterval != 42*time.Second {
		t.Errorf("poll interval = %v", got.Worker.PollInterval)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	ws := t.TempDir()
	dir := KernelDir(ws)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(ws); err == nil {
		t.Error("malformed config accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("COGKERNEL_OPENAI_KEY", "sk-test")
	t.Setenv("COGKERNEL_EMBED_PROVIDER", "openai")

	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.OpenAIAPIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Embedding.OpenAIAPIKey)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
}

func TestFloorsClampZeroedDurations(t *testing.T) {
	ws := t.TempDir()
	dir := KernelDir(ws)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw := "worker:\n  poll_interval: 0\nsupervisor:\n  heartbeat_interval: 0\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v, want floored default", cfg.Worker.PollInterval)
	}
	if cfg.Supervisor.HeartbeatInterval != 10*time.Second {
		t.Errorf("heartbeat = %v, want floored default", cfg.Supervisor.HeartbeatInterval)
	}
}

func TestPathResolution(t *testing.T) {
	ws := t.TempDir()
	cfg, _ := Load(ws)

	if got := cfg.StorePath(); got != filepath.Join(ws, ".cogkernel", "kernel.db") {
		t.Errorf("store path = %q", got)
	}
	if got := cfg.SigningKeyPath(); got != filepath.Join(ws, ".cogkernel", "signing.key") {
		t.Errorf("key path = %q", got)
	}

	cfg.Store.Path = "/tmp/elsewhere.db"
	if got := cfg.StorePath(); got != "/tmp/elsewhere.db" {
		t.Errorf("absolute store path = %q", got)
	}
}
