package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testKey(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "security:\n  encryption_key: "+testKey(t)+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		t.Errorf("sqlite path %q must be absolute after load", cfg.Database.Path)
	}
	if cfg.Intervals.PollSeconds != 90 || cfg.Intervals.Workers != 4 {
		t.Errorf("unexpected interval defaults: %+v", cfg.Intervals)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil || len(key) != 32 {
		t.Errorf("key decode: len=%d err=%v", len(key), err)
	}
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: ':9000'\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing encryption key")
	}
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: postgres\nsecurity:\n  encryption_key: "+testKey(t)+"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for postgres without a URL")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("ENVIROFLOW_DATABASE_URL", "postgres://env/db")
	t.Setenv("ENVIROFLOW_POLL_SECONDS", "30")

	path := writeConfig(t, "security:\n  encryption_key: "+testKey(t)+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://env/db" {
		t.Errorf("env database overlay not applied: %+v", cfg.Database)
	}
	if cfg.Intervals.PollSeconds != 30 {
		t.Errorf("poll seconds = %d, want 30", cfg.Intervals.PollSeconds)
	}
}
