//go:build !windows

package shell

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	sh := "/bin/bash"
	if _, err := os.Stat(sh); err != nil {
		sh = "/bin/sh"
	}
	return NewRunner(RunnerConfig{Shell: sh, WorkDir: t.TempDir(), Logger: testLogger()})
}

func TestRun_StdoutAndExitZero(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "echo hello", 5*time.Second, nil).Collect()
	if !res.OK() {
		t.Fatalf("expected success, got exit %d (%q)", res.ExitCode, res.Combined)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout: got %q", res.Stdout)
	}
	if res.Stderr != "" {
		t.Fatalf("stderr should be empty, got %q", res.Stderr)
	}
}

func TestRun_StreamsAreTagged(t *testing.T) {
	r := testRunner(t)
	h := r.Run(context.Background(), "echo out; echo err 1>&2", 5*time.Second, nil)

	var sawOut, sawErr bool
	for c := range h.Output {
		switch {
		case c.Kind == Stdout && strings.Contains(c.Text, "out"):
			sawOut = true
		case c.Kind == Stderr && strings.Contains(c.Text, "err"):
			sawErr = true
		}
	}
	if !sawOut || !sawErr {
		t.Fatalf("expected tagged chunks on both streams (out=%v err=%v)", sawOut, sawErr)
	}
	code, err := h.ExitCode(context.Background())
	if err != nil || code != 0 {
		t.Fatalf("exit: %d, %v", code, err)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "exit 3", 5*time.Second, nil).Collect()
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
	if res.OK() {
		t.Fatal("exit 3 should not be OK")
	}
}

func TestRun_Timeout_KillsAndNotes(t *testing.T) {
	r := testRunner(t)
	start := time.Now()
	res := r.Run(context.Background(), "sleep 5; echo finished", 300*time.Millisecond, nil).Collect()

	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout did not terminate the process early (took %s)", time.Since(start))
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if res.ExitCode == 0 {
		t.Fatal("exit code should reflect termination, got 0")
	}
	if strings.Contains(res.Stdout, "finished") {
		t.Fatal("command should not have completed")
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Fatalf("expected timeout notice on stderr, got %q", res.Stderr)
	}
}

func TestRun_TimeoutKillsChildren(t *testing.T) {
	r := testRunner(t)
	start := time.Now()
	res := r.Run(context.Background(), "sleep 5 & sleep 5; wait", 300*time.Millisecond, nil).Collect()
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("background child kept the pipes open (took %s)", time.Since(start))
	}
}

func TestRun_StdinWrittenThenClosed(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "cat", 5*time.Second, []byte("secret\n")).Collect()
	if strings.TrimSpace(res.Stdout) != "secret" {
		t.Fatalf("stdout: got %q", res.Stdout)
	}
}

func TestRun_NoStdinDoesNotHang(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "cat; echo done", 5*time.Second, nil).Collect()
	if res.TimedOut {
		t.Fatal("cat should see EOF immediately")
	}
	if strings.TrimSpace(res.Stdout) != "done" {
		t.Fatalf("stdout: got %q", res.Stdout)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	r := NewRunner(RunnerConfig{Shell: "/nonexistent/shell-binary", Logger: testLogger()})
	h := r.Run(context.Background(), "echo hi", time.Second, nil)

	var chunks []Chunk
	for c := range h.Output {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || chunks[0].Kind != Stderr {
		t.Fatalf("expected a single stderr chunk, got %+v", chunks)
	}
	code, _ := h.ExitCode(context.Background())
	if code != ExitSpawnFailed {
		t.Fatalf("expected spawn failure code, got %d", code)
	}
}

func TestRun_CommandNotFound(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "definitely-not-a-real-tool-xyz", 5*time.Second, nil).Collect()
	if res.ExitCode != 127 {
		t.Fatalf("expected 127, got %d", res.ExitCode)
	}
	if !strings.Contains(strings.ToLower(res.Combined), "not found") {
		t.Fatalf("expected not found message, got %q", res.Combined)
	}
}

func TestRun_LargeOutputFullyDrained(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background(), "i=0; while [ $i -lt 5000 ]; do echo line$i; i=$((i+1)); done", 10*time.Second, nil).Collect()
	if !res.OK() {
		t.Fatalf("exit %d", res.ExitCode)
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) != 5000 {
		t.Fatalf("expected 5000 lines, got %d", len(lines))
	}
	if lines[4999] != "line4999" {
		t.Fatalf("last line: %q", lines[4999])
	}
}

func TestRun_SkipsStartupFiles(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, "rc.sh")
	if err := os.WriteFile(rc, []byte("echo SOURCED\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BASH_ENV", rc)
	t.Setenv("ENV", rc)

	r := testRunner(t)
	res := r.Run(context.Background(), "echo body", 5*time.Second, nil).Collect()
	if strings.Contains(res.Combined, "SOURCED") {
		t.Fatalf("startup file was sourced: %q", res.Combined)
	}
}

func TestRun_WorkDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(RunnerConfig{Shell: "/bin/sh", WorkDir: dir, Logger: testLogger()})
	res := r.Run(context.Background(), "pwd", 5*time.Second, nil).Collect()
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("pwd: got %q want %q", got, want)
	}
}

func TestRun_ContextCancelKills(t *testing.T) {
	r := testRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := r.Run(ctx, "sleep 5", 10*time.Second, nil)
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan Result, 1)
	go func() { done <- h.Collect() }()
	select {
	case res := <-done:
		if res.ExitCode == 0 {
			t.Fatal("cancelled process should not report success")
		}
	case <-time.After(4 * time.Second):
		t.Fatal("cancel did not terminate the process")
	}
}

func TestCompleted(t *testing.T) {
	h := Completed(2, Chunk{Kind: Stdout, Text: "a"}, Chunk{Kind: Stderr, Text: "b"})
	res := h.Collect()
	if res.ExitCode != 2 || res.Stdout != "a" || res.Stderr != "b" || res.Combined != "ab" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResult_ToolMissing(t *testing.T) {
	res := Result{ExitCode: 127, Combined: "bash: brew: command not found", Spawned: true}
	if !res.ToolMissing() {
		t.Fatal("expected ToolMissing")
	}
	res.ExitCode = 1
	if res.ToolMissing() {
		t.Fatal("exit 1 is not tool missing")
	}
}
