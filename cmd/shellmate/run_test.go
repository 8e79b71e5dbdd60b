package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shellmate/internal/agent"
	"shellmate/internal/intent"
	"shellmate/internal/plan"
	"shellmate/internal/security"
	"shellmate/internal/shell"
)

type stubRunner struct {
	mu    sync.Mutex
	count int
}

func (r *stubRunner) Run(context.Context, string, time.Duration, []byte) *shell.Handle {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return shell.Completed(0)
}

func (r *stubRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type brewProbe struct{}

func (brewProbe) BrewPath() (string, bool)     { return "/opt/homebrew/bin/brew", true }
func (brewProbe) PackageManagerDirs() []string { return []string{"/opt/homebrew/bin"} }

func newTestOneShot(t *testing.T, input string) (*oneShot, *stubRunner, *bytes.Buffer) {
	t.Helper()
	sess, err := agent.NewSession(context.Background(), agent.SessionConfig{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	runner := &stubRunner{}
	gate := security.NewGate(security.GateConfig{Logger: logger})
	t.Cleanup(gate.Close)
	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Session:    sess,
		Classifier: intent.NewClassifier(intent.ClassifierConfig{Home: "/Users/tester"}),
		Builder:    plan.NewBuilder(plan.BuilderConfig{Probe: brewProbe{}, Home: "/Users/tester", Logger: logger}),
		Executor:   agent.NewPlanExecutor(agent.ExecutorConfig{Runner: runner, Gate: gate, Logger: logger}),
		Logger:     logger,
	})
	out := &bytes.Buffer{}
	return newOneShot(orch, gate, strings.NewReader(input), out), runner, out
}

func TestOneShot_ReadOnlyRequest(t *testing.T) {
	r, runner, out := newTestOneShot(t, "")

	if err := r.run(context.Background(), "show me the tree from /var/log with depth 2", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.calls() != 1 {
		t.Fatalf("runner calls: %d", runner.calls())
	}
	if !strings.Contains(out.String(), "Completed: Show the directory tree of /var/log") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestOneShot_DeclinesWithoutTerminal(t *testing.T) {
	r, runner, out := newTestOneShot(t, "y\n")

	if err := r.run(context.Background(), "add homebrew to the PATH system-wide", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.calls() != 0 {
		t.Fatal("privileged step ran without consent")
	}
	if !strings.Contains(out.String(), "Pass --yes to approve.") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestOneShot_YesStillNeedsPassword(t *testing.T) {
	r, runner, out := newTestOneShot(t, "")
	r.yes = true

	if err := r.run(context.Background(), "add homebrew to the PATH system-wide", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Proceed? [y/N] yes (--yes)") {
		t.Fatalf("approval not auto-answered:\n%s", got)
	}
	if !strings.Contains(got, "No terminal to read a password from") {
		t.Fatalf("password not declined:\n%s", got)
	}
	if runner.calls() != 0 {
		t.Fatal("privileged step ran without a password")
	}
}
