package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"shellmate/internal/plan"
	"shellmate/internal/shell"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type runCall struct {
	command string
	timeout time.Duration
	stdin   []byte
}

// fakeRunner records commands and replays canned results. respond gets the
// 1-based call number.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	respond func(n int, command string) *shell.Handle
}

func (r *fakeRunner) Run(_ context.Context, command string, timeout time.Duration, stdin []byte) *shell.Handle {
	r.mu.Lock()
	r.calls = append(r.calls, runCall{command: command, timeout: timeout, stdin: stdin})
	n := len(r.calls)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(n, command)
	}
	return shell.Completed(0, shell.Chunk{Kind: shell.Stdout, Text: "ok\n"})
}

func (r *fakeRunner) Calls() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

type fakeGate struct {
	mu              sync.Mutex
	approve         bool
	password        string
	withhold        bool // decline password prompts
	approvals       []string
	passwordPrompts int
}

func (g *fakeGate) RequestApproval(_ context.Context, prompt string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvals = append(g.approvals, prompt)
	return g.approve
}

func (g *fakeGate) RequestPassword(_ context.Context, _ string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.passwordPrompts++
	if g.withhold {
		return "", false
	}
	return g.password, true
}

func testSession(t *testing.T) *Session {
	t.Helper()
	sess, err := NewSession(context.Background(), SessionConfig{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func testExecutor(runner CommandRunner, gate Approver) *PlanExecutor {
	return NewPlanExecutor(ExecutorConfig{Runner: runner, Gate: gate, Logger: testLogger()})
}

func mustExecute(t *testing.T, e *PlanExecutor, sess *Session, p *plan.Plan) Outcome {
	t.Helper()
	out, err := e.Execute(context.Background(), sess, p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return out
}

func contents(sess *Session) []string {
	var out []string
	for _, turn := range sess.Turns() {
		out = append(out, turn.Content)
	}
	return out
}

func lastTurn(t *testing.T, sess *Session) string {
	t.Helper()
	turns := sess.Turns()
	if len(turns) == 0 {
		t.Fatal("session has no turns")
	}
	return turns[len(turns)-1].Content
}

func step(title string, safety plan.Safety, command string) plan.Step {
	return plan.NewStep(title, safety, time.Minute, command)
}

func testPlan(steps ...plan.Step) *plan.Plan {
	return &plan.Plan{Description: "Test plan", Steps: steps}
}

func TestExecute_SafePlanSkipsConsent(t *testing.T) {
	runner := &fakeRunner{}
	gate := &fakeGate{}
	sess := testSession(t)

	out := mustExecute(t, testExecutor(runner, gate), sess,
		testPlan(step("one", plan.Safe, "echo one"), step("two", plan.Safe, "echo two")))

	if out.Status != StatusCompleted || out.StepsRun != 2 {
		t.Fatalf("outcome: %+v", out)
	}
	if len(gate.approvals) != 0 {
		t.Fatalf("safe plan asked for consent: %v", gate.approvals)
	}
	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("runner calls: got %d, want 2", len(calls))
	}
	if calls[0].command != shell.WithPath("echo one") {
		t.Fatalf("command: got %q", calls[0].command)
	}
	if calls[0].timeout != time.Minute || calls[0].stdin != nil {
		t.Fatalf("call: %+v", calls[0])
	}

	want := []string{"Running: one", "Done: one\nok", "Running: two", "Done: two\nok", "Completed: Test plan"}
	got := contents(sess)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("turns:\n got %q\nwant %q", got, want)
	}
}

func TestExecute_ConsentAskedOnceWithSummary(t *testing.T) {
	runner := &fakeRunner{}
	gate := &fakeGate{approve: true}
	p := testPlan(step("one", plan.NeedsConsent, "true"), step("two", plan.NeedsConsent, "true"), step("three", plan.Safe, "true"))

	mustExecute(t, testExecutor(runner, gate), testSession(t), p)

	if len(gate.approvals) != 1 {
		t.Fatalf("approvals: got %d, want 1", len(gate.approvals))
	}
	if gate.approvals[0] != p.Summary() {
		t.Fatalf("prompt: got %q, want %q", gate.approvals[0], p.Summary())
	}
	if len(runner.Calls()) != 3 {
		t.Fatalf("runner calls: %d", len(runner.Calls()))
	}
}

func TestExecute_DeclineRunsNothing(t *testing.T) {
	runner := &fakeRunner{}
	sess := testSession(t)

	out := mustExecute(t, testExecutor(runner, &fakeGate{approve: false}), sess,
		testPlan(step("install", plan.NeedsConsent, "brew install jq")))

	if out.Status != StatusDeclined {
		t.Fatalf("status: %v", out.Status)
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("declined plan ran a command")
	}
	if got := lastTurn(t, sess); got != "Cancelled, no changes made." {
		t.Fatalf("reply: %q", got)
	}
}

func TestExecute_StopsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{respond: func(n int, _ string) *shell.Handle {
		if n == 2 {
			return shell.Completed(1, shell.Chunk{Kind: shell.Stderr, Text: "boom\n"})
		}
		return shell.Completed(0)
	}}
	sess := testSession(t)
	p := testPlan(
		step("one", plan.NeedsConsent, "true"),
		step("two", plan.NeedsConsent, "false"),
		step("three", plan.NeedsConsent, "true"),
		step("four", plan.NeedsConsent, "true"),
	)

	out := mustExecute(t, testExecutor(runner, &fakeGate{approve: true}), sess, p)

	if out.Status != StatusFailed || out.StepsRun != 2 || out.FailedStep != "two" {
		t.Fatalf("outcome: %+v", out)
	}
	if got := len(runner.Calls()); got != 2 {
		t.Fatalf("runner calls: got %d, want 2", got)
	}
	last := lastTurn(t, sess)
	for _, want := range []string{"Step 2 of 4 failed: two (exit code 1)", "boom", "Skipped the remaining 2 step(s)."} {
		if !strings.Contains(last, want) {
			t.Fatalf("failure reply %q missing %q", last, want)
		}
	}
	for _, c := range contents(sess) {
		if strings.HasPrefix(c, "Completed:") {
			t.Fatal("failed plan reported completion")
		}
	}
}

func TestExecute_LastStepFailureSkipsNothing(t *testing.T) {
	runner := &fakeRunner{respond: func(int, string) *shell.Handle {
		return shell.Completed(127, shell.Chunk{Kind: shell.Stderr, Text: "bash: mas: command not found\n"})
	}}
	sess := testSession(t)

	mustExecute(t, testExecutor(runner, &fakeGate{}), sess, testPlan(step("mas", plan.Safe, "mas list")))

	last := lastTurn(t, sess)
	if !strings.Contains(last, "a required command is not installed") {
		t.Fatalf("reply: %q", last)
	}
	if strings.Contains(last, "Skipped") {
		t.Fatalf("nothing was skipped: %q", last)
	}
}

func TestExecute_SudoPasswordCached(t *testing.T) {
	runner := &fakeRunner{}
	gate := &fakeGate{approve: true, password: "hunter2"}
	sess := testSession(t)
	first := step("write paths", plan.NeedsConsent, "tee /etc/paths.d/homebrew").Elevated()
	second := step("fix perms", plan.NeedsConsent, "chmod 644 /etc/paths.d/homebrew").Elevated()

	out := mustExecute(t, testExecutor(runner, gate), sess, testPlan(first, second))

	if out.Status != StatusCompleted {
		t.Fatalf("outcome: %+v", out)
	}
	if gate.passwordPrompts != 1 {
		t.Fatalf("password prompts: got %d, want 1", gate.passwordPrompts)
	}
	calls := runner.Calls()
	if calls[0].command != shell.SudoWrap(first.Command) || calls[1].command != shell.SudoWrap(second.Command) {
		t.Fatalf("commands: %q, %q", calls[0].command, calls[1].command)
	}
	for i, c := range calls {
		if string(c.stdin) != "hunter2\n" {
			t.Fatalf("call %d stdin: %q", i, c.stdin)
		}
	}
	if pw, ok := sess.Sudo.Get(); !ok || pw != "hunter2" {
		t.Fatal("password not cached on the session")
	}
}

func TestExecute_SudoAuthFailureClearsCredential(t *testing.T) {
	runner := &fakeRunner{respond: func(int, string) *shell.Handle {
		return shell.Completed(1, shell.Chunk{Kind: shell.Stderr, Text: "Sorry, try again.\nsudo: 3 incorrect password attempts\n"})
	}}
	gate := &fakeGate{approve: true}
	sess := testSession(t)
	sess.Sudo.Set("wrong")

	out := mustExecute(t, testExecutor(runner, gate), sess,
		testPlan(step("write paths", plan.NeedsConsent, "true").Elevated(), step("after", plan.Safe, "true")))

	if out.Status != StatusFailed || out.StepsRun != 1 {
		t.Fatalf("outcome: %+v", out)
	}
	if gate.passwordPrompts != 0 {
		t.Fatal("cached password should have been used")
	}
	if _, ok := sess.Sudo.Get(); ok {
		t.Fatal("credential still cached after auth failure")
	}
	if last := lastTurn(t, sess); !strings.Contains(last, "sudo rejected the password") {
		t.Fatalf("reply: %q", last)
	}
}

func TestExecute_SudoPasswordWithheld(t *testing.T) {
	runner := &fakeRunner{}
	sess := testSession(t)

	out := mustExecute(t, testExecutor(runner, &fakeGate{approve: true, withhold: true}), sess,
		testPlan(step("write paths", plan.NeedsConsent, "true").Elevated()))

	if out.Status != StatusFailed {
		t.Fatalf("status: %v", out.Status)
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("privileged step ran without a password")
	}
	if last := lastTurn(t, sess); !strings.Contains(last, "administrator password not provided") {
		t.Fatalf("reply: %q", last)
	}
}

func TestExecute_StepStdin(t *testing.T) {
	runner := &fakeRunner{}
	s := step("script", plan.Safe, "/bin/bash")
	s.Stdin = func() ([]byte, error) { return []byte("echo hi\n"), nil }

	mustExecute(t, testExecutor(runner, &fakeGate{}), testSession(t), testPlan(s))

	if got := string(runner.Calls()[0].stdin); got != "echo hi\n" {
		t.Fatalf("stdin: %q", got)
	}
}

func TestExecute_StepStdinError(t *testing.T) {
	runner := &fakeRunner{}
	sess := testSession(t)
	s := step("script", plan.Safe, "/bin/bash")
	s.Stdin = func() ([]byte, error) { return nil, errors.New("download failed") }

	out := mustExecute(t, testExecutor(runner, &fakeGate{}), sess, testPlan(s))

	if out.Status != StatusFailed || len(runner.Calls()) != 0 {
		t.Fatalf("outcome %+v, calls %d", out, len(runner.Calls()))
	}
	if last := lastTurn(t, sess); !strings.Contains(last, "could not prepare input: download failed") {
		t.Fatalf("reply: %q", last)
	}
}

func TestExecute_InvalidPlan(t *testing.T) {
	runner := &fakeRunner{}
	sess := testSession(t)

	out := mustExecute(t, testExecutor(runner, &fakeGate{}), sess, &plan.Plan{Description: "empty"})

	if out.Status != StatusInvalid || len(runner.Calls()) != 0 {
		t.Fatalf("outcome %+v, calls %d", out, len(runner.Calls()))
	}
	if last := lastTurn(t, sess); !strings.Contains(last, plan.ErrEmptyPlan.Error()) {
		t.Fatalf("reply: %q", last)
	}
}

func TestExecute_TruncatesStepOutput(t *testing.T) {
	runner := &fakeRunner{respond: func(int, string) *shell.Handle {
		return shell.Completed(0, shell.Chunk{Kind: shell.Stdout, Text: strings.Repeat("x", 50)})
	}}
	sess := testSession(t)
	e := NewPlanExecutor(ExecutorConfig{Runner: runner, Gate: &fakeGate{}, OutputLimit: 10, Logger: testLogger()})

	mustExecute(t, e, sess, testPlan(step("noisy", plan.Safe, "yes")))

	done := sess.Turns()[1].Content
	want := "Done: noisy\n" + strings.Repeat("x", 10) + "\n... (output truncated, 40 more characters)"
	if done != want {
		t.Fatalf("got %q, want %q", done, want)
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateOutput("anything", 0); got != "anything" {
		t.Fatalf("zero limit: got %q", got)
	}
	// The limit counts characters, not bytes.
	got := truncateOutput("héllo", 2)
	if got != "hé\n... (output truncated, 3 more characters)" {
		t.Fatalf("got %q", got)
	}
	wide := strings.Repeat("日本", 3)
	if got := truncateOutput(wide, 6); got != wide {
		t.Fatalf("six characters fit a limit of six: %q", got)
	}
}

func TestExecute_ReportsRecordingFailure(t *testing.T) {
	store := newMemStore()
	store.failAll = errors.New("disk full")
	sess, err := NewSession(context.Background(), SessionConfig{Store: store, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}

	out, err := testExecutor(runner, &fakeGate{}).Execute(context.Background(), sess,
		testPlan(step("one", plan.Safe, "echo one"), step("two", plan.Safe, "echo two")))

	if !errors.Is(err, store.failAll) {
		t.Fatalf("expected the store error, got %v", err)
	}
	if out.Status != StatusCompleted || len(runner.Calls()) != 2 {
		t.Fatalf("outcome %+v, calls %d", out, len(runner.Calls()))
	}
	if last := lastTurn(t, sess); last != "Completed: Test plan" {
		t.Fatalf("last turn: %q", last)
	}
}

func TestDescribeExit(t *testing.T) {
	tests := []struct {
		name string
		res  shell.Result
		sudo bool
		want string
	}{
		{"not spawned", shell.Result{}, false, "could not start the shell"},
		{"timeout", shell.Result{Spawned: true, TimedOut: true, ExitCode: -1, Elapsed: 3 * time.Second}, false, "timed out after 3s"},
		{"sudo auth", shell.Result{Spawned: true, ExitCode: 1, Combined: "Sorry, try again."}, true, "sudo rejected the password; it will be asked for again"},
		{"auth text without sudo", shell.Result{Spawned: true, ExitCode: 1, Combined: "Sorry, try again."}, false, "exit code 1"},
		{"missing tool", shell.Result{Spawned: true, ExitCode: 127, Combined: "zsh: command not found: mas"}, false, "a required command is not installed"},
		{"exit code", shell.Result{Spawned: true, ExitCode: 2}, false, "exit code 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeExit(tt.res, tt.sudo); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
