package shell

import (
	"context"
	"strings"
	"time"
)

// Handle is a single command execution. It is consumed once.
type Handle struct {
	Output <-chan Chunk

	done     chan struct{}
	code     int
	timedOut bool
	spawned  bool
	elapsed  time.Duration
}

func newHandle(out <-chan Chunk) *Handle {
	return &Handle{Output: out, done: make(chan struct{})}
}

func (h *Handle) resolve(code int, timedOut, spawned bool, elapsed time.Duration) {
	h.code = code
	h.timedOut = timedOut
	h.spawned = spawned
	h.elapsed = elapsed
	close(h.done)
}

// Done is closed once the exit code is known.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode waits for the process to terminate.
func (h *Handle) ExitCode(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Result is the fully collected output of a Handle.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string // both streams in arrival order
	ExitCode int
	TimedOut bool
	Spawned  bool
	Elapsed  time.Duration
}

// OK reports a zero exit status.
func (r Result) OK() bool { return r.Spawned && r.ExitCode == 0 }

// ToolMissing reports the shell's "command not found" outcome.
func (r Result) ToolMissing() bool {
	return r.ExitCode == 127 && strings.Contains(strings.ToLower(r.Combined), "command not found")
}

// Collect drains Output and waits for the exit code.
func (h *Handle) Collect() Result {
	var stdout, stderr, combined strings.Builder
	for c := range h.Output {
		if c.Kind == Stderr {
			stderr.WriteString(c.Text)
		} else {
			stdout.WriteString(c.Text)
		}
		combined.WriteString(c.Text)
	}
	<-h.done
	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: combined.String(),
		ExitCode: h.code,
		TimedOut: h.timedOut,
		Spawned:  h.spawned,
		Elapsed:  h.elapsed,
	}
}

// Completed returns an already-finished handle replaying chunks. It lets
// callers substitute canned executions for real processes.
func Completed(code int, chunks ...Chunk) *Handle {
	out := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	h := newHandle(out)
	h.resolve(code, false, code != ExitSpawnFailed, 0)
	return h
}
