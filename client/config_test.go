package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("VILLAGE_SERVER", "")

	cfg, err := loadConfig(newViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "http://localhost:8080" || cfg.Timeout != 10*time.Second {
		t.Fatalf("defaults %+v", cfg)
	}
	if filepath.Base(cfg.SessionFile) != "session.yaml" || filepath.Base(filepath.Dir(cfg.SessionFile)) != "villagectl" {
		t.Fatalf("session file %q", cfg.SessionFile)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	dir := filepath.Join(home, "villagectl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	body := "server: https://from-file.test\ntimeout: 3s\nsession_file: /tmp/s.yaml\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(newViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "https://from-file.test" || cfg.Timeout != 3*time.Second || cfg.SessionFile != "/tmp/s.yaml" {
		t.Fatalf("from file %+v", cfg)
	}

	t.Setenv("VILLAGE_SERVER", "https://from-env.test")
	cfg, err = loadConfig(newViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "https://from-env.test" {
		t.Fatalf("env should win, got %q", cfg.Server)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("VILLAGE_SERVER", "")
	dir := t.TempDir()

	if _, err := loadConfig(newViper(), filepath.Join(dir, "missing.yaml")); err != nil {
		t.Fatalf("missing explicit file: %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(newViper(), bad); err == nil {
		t.Fatal("expected a parse error")
	}
}
