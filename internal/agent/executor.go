package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"shellmate/internal/metrics"
	"shellmate/internal/plan"
	"shellmate/internal/security"
	"shellmate/internal/shell"
)

const defaultStepOutputLimit = 4000

// CommandRunner starts shell commands. *shell.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration, stdin []byte) *shell.Handle
}

// Approver obtains consent and the sudo password from the user.
// *security.Gate implements it.
type Approver interface {
	RequestApproval(ctx context.Context, prompt string) bool
	RequestPassword(ctx context.Context, description string) (string, bool)
}

// Status is how an operation ended.
type Status int

const (
	StatusCompleted Status = iota
	StatusDeclined
	StatusFailed
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusDeclined:
		return "declined"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Outcome summarizes one plan execution.
type Outcome struct {
	Status     Status
	StepsRun   int    // steps started, including the failed one
	FailedStep string // title of the step that failed
}

// PlanExecutor runs plans step by step, reporting progress as assistant
// turns on the session.
type PlanExecutor struct {
	runner      CommandRunner
	gate        Approver
	audit       *security.Auditor
	outputLimit int
	logger      *slog.Logger
}

type ExecutorConfig struct {
	Runner      CommandRunner
	Gate        Approver
	Audit       *security.Auditor // optional
	OutputLimit int               // characters of output kept per step (default 4000)
	Logger      *slog.Logger
}

func NewPlanExecutor(cfg ExecutorConfig) *PlanExecutor {
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultStepOutputLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PlanExecutor{
		runner:      cfg.Runner,
		gate:        cfg.Gate,
		audit:       cfg.Audit,
		outputLimit: cfg.OutputLimit,
		logger:      cfg.Logger,
	}
}

// Execute asks for consent once when any step needs it, then runs the steps
// in order and stops at the first failure. Every user-visible result is
// appended to sess. The error reports only a failure to record those turns;
// the plan keeps running since each turn is still shown to observers.
func (e *PlanExecutor) Execute(ctx context.Context, sess *Session, p *plan.Plan) (Outcome, error) {
	var recordErr error
	say := func(msg string) {
		if err := sess.Say(ctx, msg); err != nil && recordErr == nil {
			recordErr = fmt.Errorf("record plan progress: %w", err)
		}
	}

	if err := p.Validate(); err != nil {
		e.logger.Error("refusing invalid plan", "err", err)
		say("I couldn't run that plan: " + err.Error())
		return Outcome{Status: StatusInvalid}, recordErr
	}

	if p.RequiresConsent() {
		if !e.gate.RequestApproval(ctx, p.Summary()) {
			metrics.Consent(metrics.DecisionDeclined).Inc()
			say("Cancelled, no changes made.")
			return Outcome{Status: StatusDeclined}, recordErr
		}
		metrics.Consent(metrics.DecisionApproved).Inc()
	}

	total := len(p.Steps)
	for i, step := range p.Steps {
		say("Running: " + step.Title)
		e.logger.Info("plan step", "n", i+1, "of", total, "step", step.Title, "sudo", step.RequiresSudo)

		res, reason := e.runStep(ctx, sess, step)
		if reason == "" && res.OK() {
			metrics.PlanSteps(metrics.ResultOK).Inc()
			msg := "Done: " + step.Title
			if out := strings.TrimSpace(res.Combined); out != "" {
				msg += "\n" + truncateOutput(out, e.outputLimit)
			}
			say(msg)
			continue
		}

		e.recordFailure(ctx, sess, step, res)
		msg := fmt.Sprintf("Step %d of %d failed: %s", i+1, total, step.Title)
		if reason == "" {
			reason = describeExit(res, step.RequiresSudo)
		}
		msg += " (" + reason + ")"
		if out := strings.TrimSpace(res.Combined); out != "" {
			msg += "\n" + truncateOutput(out, e.outputLimit)
		}
		if skipped := total - i - 1; skipped > 0 {
			msg += fmt.Sprintf("\nSkipped the remaining %d step(s).", skipped)
		}
		say(msg)
		return Outcome{Status: StatusFailed, StepsRun: i + 1, FailedStep: step.Title}, recordErr
	}

	say("Completed: " + p.Description)
	return Outcome{Status: StatusCompleted, StepsRun: total}, recordErr
}

// runStep resolves the step's input and runs it. A non-empty reason means
// the step failed before its command could run.
func (e *PlanExecutor) runStep(ctx context.Context, sess *Session, step plan.Step) (shell.Result, string) {
	command := shell.WithPath(step.Command)
	var stdin []byte

	switch {
	case step.RequiresSudo:
		pw, ok := e.sudoPassword(ctx, sess, step)
		if !ok {
			return shell.Result{}, "administrator password not provided"
		}
		command = shell.SudoWrap(step.Command)
		stdin = []byte(pw + "\n")
	case step.Stdin != nil:
		data, err := step.Stdin()
		if err != nil {
			return shell.Result{}, "could not prepare input: " + err.Error()
		}
		stdin = data
	}

	res := e.runner.Run(ctx, command, step.Timeout, stdin).Collect()
	metrics.CommandSeconds.ObserveDuration(res.Elapsed)
	return res, ""
}

// sudoPassword returns the cached credential or asks for one.
func (e *PlanExecutor) sudoPassword(ctx context.Context, sess *Session, step plan.Step) (string, bool) {
	if pw, ok := sess.Sudo.Get(); ok {
		return pw, true
	}
	pw, ok := e.gate.RequestPassword(ctx, "Administrator password needed for: "+step.Title)
	if !ok {
		return "", false
	}
	sess.Sudo.Set(pw)
	return pw, true
}

// recordFailure counts the failure and drops the cached sudo password when
// a privileged step failed, so the next privileged step asks again.
func (e *PlanExecutor) recordFailure(ctx context.Context, sess *Session, step plan.Step, res shell.Result) {
	result := metrics.ResultFailed
	if res.TimedOut {
		result = metrics.ResultTimeout
	}
	metrics.PlanSteps(result).Inc()

	if !step.RequiresSudo {
		return
	}
	authFailed := security.IsAuthFailure(res.Combined)
	if sess.Sudo.Clear() {
		details := "step failed"
		if authFailed {
			details = "authentication failure"
		}
		e.logger.Warn("cleared cached sudo password", "step", step.Title, "auth_failure", authFailed)
		e.audit.Record(ctx, security.ActionSudoCleared, step.Title, "cleared", details)
	}
}

func describeExit(res shell.Result, sudo bool) string {
	switch {
	case !res.Spawned:
		return "could not start the shell"
	case res.TimedOut:
		return "timed out after " + res.Elapsed.Round(time.Second).String()
	case sudo && security.IsAuthFailure(res.Combined):
		return "sudo rejected the password; it will be asked for again"
	case res.ToolMissing():
		return "a required command is not installed"
	default:
		return fmt.Sprintf("exit code %d", res.ExitCode)
	}
}

// truncateOutput keeps the first limit characters of s.
func truncateOutput(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + fmt.Sprintf("\n... (output truncated, %d more characters)", utf8.RuneCountInString(s[i:]))
		}
		n++
	}
	return s
}
