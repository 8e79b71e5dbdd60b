package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultShell   = "/bin/bash"
	defaultTimeout = 300 * time.Second
	chunkBuffer    = 256

	// drainDelay bounds how long Wait keeps copying output after the shell
	// exits while a detached grandchild still holds a pipe open.
	drainDelay = 2 * time.Second

	// ExitSpawnFailed is reported when the shell could not be launched.
	ExitSpawnFailed = -1
)

type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

func (k StreamKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a piece of output from one stream.
type Chunk struct {
	Kind StreamKind
	Text string
}

// Runner spawns commands through a non-interactive, non-login shell.
type Runner struct {
	shell     string
	shellArgs []string
	workDir   string
	env       []string
	logger    *slog.Logger
}

type RunnerConfig struct {
	Shell   string   // interpreter path (default /bin/bash)
	WorkDir string   // working directory (default: current)
	Env     []string // extra KEY=VALUE entries appended to the inherited environment
	Logger  *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		shell:     cfg.Shell,
		shellArgs: startupBypassArgs(cfg.Shell),
		workDir:   cfg.WorkDir,
		env:       cfg.Env,
		logger:    cfg.Logger,
	}
}

// startupBypassArgs returns the flags that keep the interpreter from reading
// profile and rc files.
func startupBypassArgs(shell string) []string {
	switch filepath.Base(shell) {
	case "bash":
		return []string{"--noprofile", "--norc"}
	case "zsh":
		return []string{"-f"}
	default:
		return nil
	}
}

// environ returns the inherited environment minus the variables that make
// non-interactive shells source a file.
func (r *Runner) environ() []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(r.env))
	for _, kv := range base {
		if strings.HasPrefix(kv, "BASH_ENV=") || strings.HasPrefix(kv, "ENV=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, r.env...)
}

// Run starts command and returns immediately. Output arrives on the handle's
// Output channel, which must be drained; the exit code resolves after the
// process has terminated and both pipes are empty. A non-positive timeout
// uses the default. stdin, when non-nil, is written once and then closed;
// otherwise input is closed right away. Cancelling ctx kills the process and
// discards any output not yet read.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration, stdin []byte) *Handle {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	out := make(chan Chunk, chunkBuffer)
	h := newHandle(out)

	args := append(append([]string{}, r.shellArgs...), "-c", command)
	cmd := exec.Command(r.shell, args...)
	cmd.Dir = r.workDir
	cmd.Env = r.environ()
	cmd.Stdout = &streamWriter{kind: Stdout, out: out, stop: ctx.Done()}
	cmd.Stderr = &streamWriter{kind: Stderr, out: out, stop: ctx.Done()}
	cmd.WaitDelay = drainDelay
	setProcessGroup(cmd)

	stdinPipe, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		r.logger.Warn("spawn failed", "shell", r.shell, "err", err)
		out <- Chunk{Kind: Stderr, Text: fmt.Sprintf("failed to launch %s: %v\n", r.shell, err)}
		close(out)
		h.resolve(ExitSpawnFailed, false, false, 0)
		return h
	}

	start := time.Now()
	r.logger.Debug("process started", "pid", cmd.Process.Pid, "timeout", timeout)

	go func() {
		if len(stdin) > 0 {
			_, _ = stdinPipe.Write(stdin)
		}
		_ = stdinPipe.Close()
	}()

	go func() {
		var timedOut atomic.Bool
		exited := make(chan struct{})

		var g errgroup.Group
		g.Go(func() error {
			defer close(exited)
			return cmd.Wait()
		})
		g.Go(func() error {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-exited:
			case <-timer.C:
				timedOut.Store(true)
				killProcessGroup(cmd)
			case <-ctx.Done():
				killProcessGroup(cmd)
			}
			return nil
		})
		waitErr := g.Wait()

		code := exitStatus(cmd.ProcessState, waitErr)
		if timedOut.Load() {
			out <- Chunk{Kind: Stderr, Text: fmt.Sprintf("\n[timed out after %s; process terminated]\n", timeout)}
		}
		close(out)

		elapsed := time.Since(start)
		r.logger.Debug("process finished", "exit", code, "timed_out", timedOut.Load(), "elapsed", elapsed)
		h.resolve(code, timedOut.Load(), true, elapsed)
	}()

	return h
}

// streamWriter forwards each write as a chunk. exec copies each pipe on its
// own goroutine, so ordering holds within a stream only.
type streamWriter struct {
	kind StreamKind
	out  chan<- Chunk
	stop <-chan struct{}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	select {
	case w.out <- Chunk{Kind: w.kind, Text: string(p)}:
	case <-w.stop:
	}
	return len(p), nil
}
