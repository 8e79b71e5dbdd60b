package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunSetup_LocalEndpoint(t *testing.T) {
	cfg := testConfig(t)
	ws := filepath.Join(t.TempDir(), "ws")

	in := strings.NewReader(ws + "\n2\n\n")
	if err := runSetup(cfg, in, &bytes.Buffer{}); err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.General.Workspace != ws {
		t.Fatalf("workspace: %q", cfg.General.Workspace)
	}
	if cfg.Provider.APIBase != "http://localhost:11434/v1" || cfg.Provider.Model != "llama3.1:8b" {
		t.Fatalf("provider: %+v", cfg.Provider)
	}
	if cfg.Provider.APIKey != "" {
		t.Fatalf("local endpoint kept a key: %q", cfg.Provider.APIKey)
	}
}

func TestRunSetup_DefaultsOnEmptyInput(t *testing.T) {
	cfg := testConfig(t)
	ws := cfg.General.Workspace

	if err := runSetup(cfg, strings.NewReader(""), &bytes.Buffer{}); err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.General.Workspace != ws || cfg.Provider.Model != "gpt-4o-mini" {
		t.Fatalf("defaults changed: %+v", cfg)
	}
	if cfg.Provider.APIKey != "${OPENAI_API_KEY}" {
		t.Fatalf("key: %q", cfg.Provider.APIKey)
	}
}
