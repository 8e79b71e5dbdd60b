package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_CommandTimeout_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.Execution.CommandTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for commandTimeoutSeconds=0")
	}
}

func TestValidate_Temperature_Range(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.Temperature = 2.5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for temperature=2.5")
	}

	cfg.Provider.Temperature = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("temperature=0 should be valid: %v", err)
	}
}

func TestValidate_RelativeGitDestination(t *testing.T) {
	cfg := Defaults()
	cfg.Install.GitDestination = "src"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative git destination")
	}
}

func TestValidate_EmptyBlacklistPattern(t *testing.T) {
	cfg := Defaults()
	cfg.Security.Blacklist = append(cfg.Security.Blacklist, "  ")
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty blacklist pattern")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.Model = ""
	cfg.Memory.HistoryLimit = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider.model") || !strings.Contains(err.Error(), "memory.historyLimit") {
		t.Fatalf("expected both problems reported, got: %v", err)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("SHELLMATE_TEST_KEY", "sk-123")
	got := ExpandEnvVars(`{"apiKey": "${SHELLMATE_TEST_KEY}"}`)
	if got != `{"apiKey": "sk-123"}` {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	got := ExpandEnvVars(`${SHELLMATE_SURELY_UNSET_VAR:-fallback}`)
	if got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_UnsetKeepsOriginal(t *testing.T) {
	in := `${SHELLMATE_SURELY_UNSET_VAR}`
	if got := ExpandEnvVars(in); got != in {
		t.Fatalf("got %q, want original", got)
	}
}

// --- Load / Save ---

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Provider.Model = "test-model"
	cfg.Memory.DBPath = filepath.Join(dir, "db.sqlite")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Provider.Model != "test-model" {
		t.Fatalf("model: got %q", loaded.Provider.Model)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(map[string]any{
		"execution": map[string]any{"commandTimeoutSeconds": 42},
	})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.CommandTimeoutSeconds != 42 {
		t.Fatalf("timeout: got %d", cfg.Execution.CommandTimeoutSeconds)
	}
	if cfg.Execution.StepOutputLimit != 4000 {
		t.Fatalf("stepOutputLimit should keep default, got %d", cfg.Execution.StepOutputLimit)
	}
	if cfg.Install.GitDestination != "/usr/local/src" {
		t.Fatalf("gitDestination should keep default, got %q", cfg.Install.GitDestination)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandPath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x"); got != filepath.Join(home, "x") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("got %q", got)
	}
}
