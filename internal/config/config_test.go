package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crewd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREWD_CONFIG", path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREWD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Backend.Kind != "http" {
		t.Errorf("expected default backend kind http, got %s", cfg.Backend.Kind)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Scheduler.PollInterval)
	}
}

func TestLoadFile(t *testing.T) {
	writeConfig(t, `
backend:
  kind: nats
  model: test-model
web:
  port: 9090
roster:
  agents:
    dev:
      name: Dev
      role: developer
      description: writes code
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.Kind != "nats" {
		t.Errorf("expected backend kind nats, got %s", cfg.Backend.Kind)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	def, ok := cfg.Roster.Agents["dev"]
	if !ok {
		t.Fatal("expected roster agent dev")
	}
	if def.Role != "developer" {
		t.Errorf("expected role developer, got %s", def.Role)
	}
}

func TestEnvExpansionAndOverride(t *testing.T) {
	t.Setenv("TEST_MODEL_NAME", "expanded-model")
	writeConfig(t, `
backend:
  model: ${TEST_MODEL_NAME}
`)
	t.Setenv("CREWD_WEB_PORT", "7070")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.Model != "expanded-model" {
		t.Errorf("expected env-expanded model, got %s", cfg.Backend.Model)
	}
	if cfg.Web.Port != 7070 {
		t.Errorf("expected env override port 7070, got %d", cfg.Web.Port)
	}
	if cfg.Backend.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %s", cfg.Backend.APIKey)
	}
}

func TestCompare(t *testing.T) {
	old := defaults()
	old.Roster.Agents = map[string]AgentDefinition{
		"dev":    {Name: "Dev", Role: "developer"},
		"tester": {Name: "Tester", Role: "tester"},
	}

	next := defaults()
	next.Roster.Agents = map[string]AgentDefinition{
		"dev":    {Name: "Dev", Role: "developer", Description: "changed"},
		"writer": {Name: "Writer", Role: "writer"},
	}
	next.Scheduler.PollInterval = time.Minute
	next.Store.Path = "elsewhere.db"

	d := Compare(&old, &next)
	if !d.HasChanges() {
		t.Fatal("expected changes")
	}
	if len(d.AgentsAdded) != 1 || d.AgentsAdded[0] != "writer" {
		t.Errorf("expected writer added, got %v", d.AgentsAdded)
	}
	if len(d.AgentsRemoved) != 1 || d.AgentsRemoved[0] != "tester" {
		t.Errorf("expected tester removed, got %v", d.AgentsRemoved)
	}
	if len(d.AgentsChanged) != 1 || d.AgentsChanged[0] != "dev" {
		t.Errorf("expected dev changed, got %v", d.AgentsChanged)
	}
	if !d.SchedulerChanged {
		t.Error("expected scheduler change")
	}
	if len(d.NonReloadable) != 1 || d.NonReloadable[0] != "store" {
		t.Errorf("expected store flagged non-reloadable, got %v", d.NonReloadable)
	}
}
