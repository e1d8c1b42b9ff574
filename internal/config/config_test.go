package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"farehop/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Fare.Base != 10 || cfg.Fare.PerStop != 2 {
		t.Fatalf("fare defaults %+v", cfg.Fare)
	}
	if cfg.Ticket.Validity != 3*time.Hour {
		t.Fatalf("validity default %v", cfg.Ticket.Validity)
	}
	if cfg.Sync.PollInterval != 15*time.Second {
		t.Fatalf("poll interval default %v", cfg.Sync.PollInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
remote:
  base_url: https://store.example.com
  token: tok
fare:
  base: 5
ticket:
  validity: 2h
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Remote.BaseURL != "https://store.example.com" {
		t.Fatalf("remote %+v", cfg.Remote)
	}
	if cfg.Fare.Base != 5 {
		t.Fatalf("base not overridden: %d", cfg.Fare.Base)
	}
	// unset fields keep their defaults
	if cfg.Fare.PerStop != 2 {
		t.Fatalf("per_stop should default: %d", cfg.Fare.PerStop)
	}
	if cfg.Ticket.Validity != 2*time.Hour {
		t.Fatalf("validity %v", cfg.Ticket.Validity)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("fare:\n  base: -1\n")); err == nil {
		t.Fatal("negative fare must be rejected")
	}
	if _, err := config.FromYAML([]byte("ticket:\n  validity: 0s\n")); err == nil {
		t.Fatal("zero validity must be rejected")
	}
	if _, err := config.FromYAML([]byte("{not yaml")); err == nil {
		t.Fatal("garbage must be rejected")
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fare.Base != 10 {
		t.Fatalf("expected defaults, got %+v", cfg.Fare)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "farehop.yml"), []byte("fare:\n  base: 7\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fare.Base != 7 {
		t.Fatalf("file not applied: %d", cfg.Fare.Base)
	}
}
