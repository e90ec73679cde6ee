package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Discovery.Worker.Instances != 2 || cfg.Discovery.Worker.PoolSize != 4 {
		t.Fatalf("expected default worker pool 2x4, got %dx%d", cfg.Discovery.Worker.Instances, cfg.Discovery.Worker.PoolSize)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	path := writeConfigFile(t, "encryption:\n  key: \"testkey\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing database.url")
	}
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: \"postgres://localhost/discoveryd\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing encryption.key")
	}
}

func TestLoadValid(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: "postgres://localhost/discoveryd"
encryption:
  key: "testkey"
discovery:
  worker:
    instances: 3
    poolSize: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discovery.Worker.Instances != 3 || cfg.Discovery.Worker.PoolSize != 5 {
		t.Fatalf("expected overridden worker pool 3x5, got %dx%d", cfg.Discovery.Worker.Instances, cfg.Discovery.Worker.PoolSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: "postgres://localhost/discoveryd"
encryption:
  key: "testkey"
`)
	t.Setenv("DATABASE_URL", "postgres://override/discoveryd")
	t.Setenv("DISCOVERY_WORKER_INSTANCES", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://override/discoveryd" {
		t.Fatalf("expected env override for database.url, got %s", cfg.Database.URL)
	}
	if cfg.Discovery.Worker.Instances != 7 {
		t.Fatalf("expected env override instances=7, got %d", cfg.Discovery.Worker.Instances)
	}
}

func TestLoadClampsWorkerPoolToAtLeastOne(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: "postgres://localhost/discoveryd"
encryption:
  key: "testkey"
discovery:
  worker:
    instances: 0
    poolSize: -1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discovery.Worker.Instances != 1 || cfg.Discovery.Worker.PoolSize != 1 {
		t.Fatalf("expected clamped worker pool 1x1, got %dx%d", cfg.Discovery.Worker.Instances, cfg.Discovery.Worker.PoolSize)
	}
}
