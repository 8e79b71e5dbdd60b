package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shellmate/internal/domain"
	"shellmate/internal/metrics"
	"shellmate/internal/shell"
)

const (
	defaultCommandTimeout    = 300 * time.Second
	defaultStreamOutputLimit = 8000
	defaultRequestsPerMinute = 20
	defaultTemperature       = 0.2
)

// ErrNoCommand means the model's reply contained no usable command line.
var ErrNoCommand = errors.New("no command in model response")

// CommandPolicy vets a command before the user is asked about it.
// *security.Policy implements it.
type CommandPolicy interface {
	Check(ctx context.Context, command string) string
}

// Synthesizer turns a request the deterministic paths did not handle into
// one shell command, then runs it once the user approves.
type Synthesizer struct {
	client      domain.ChatCompletionClient
	model       string
	temperature float64
	limiter     *rate.Limiter
	policy      CommandPolicy
	gate        Approver
	runner      CommandRunner
	shellName   string
	workRoot    string
	timeout     time.Duration
	outputLimit int
	logger      *slog.Logger
}

type SynthesizerConfig struct {
	Client            domain.ChatCompletionClient
	Model             string
	Temperature       *float64      // nil uses 0.2
	RequestsPerMinute int           // model calls allowed per minute (default 20)
	Policy            CommandPolicy // optional
	Gate              Approver
	Runner            CommandRunner
	Shell             string        // named in the prompt (default /bin/bash)
	WorkRoot          string        // parent of the per-run directories
	Timeout           time.Duration // per command (default 300s)
	OutputLimit       int           // characters kept per stream (default 8000)
	Logger            *slog.Logger
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "shellmate-runs")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultStreamOutputLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	burst := cfg.RequestsPerMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &Synthesizer{
		client:      cfg.Client,
		model:       cfg.Model,
		temperature: temperature,
		limiter:     rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst),
		policy:      cfg.Policy,
		gate:        cfg.Gate,
		runner:      cfg.Runner,
		shellName:   cfg.Shell,
		workRoot:    cfg.WorkRoot,
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimit,
		logger:      cfg.Logger,
	}
}

// SynthesisRequest is the input to Synthesize.
type SynthesisRequest struct {
	Text        string
	History     []domain.Message // earlier turns, oldest first
	Attachments []domain.Attachment
}

// Synthesize asks the model for exactly one command line. It returns
// ErrNoCommand when the reply has none.
func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	msgs := make([]domain.Message, 0, len(req.History)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: s.systemPrompt(req.Attachments)})
	msgs = append(msgs, req.History...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: req.Text})

	var images []domain.Image
	for _, a := range req.Attachments {
		if a.IsImage() {
			images = append(images, domain.Image{Filename: a.Filename, Data: a.Data, MimeType: a.MimeType})
		}
	}

	start := time.Now()
	stream, err := s.client.StreamComplete(ctx, domain.CompletionRequest{
		Model:       s.model,
		Messages:    msgs,
		Temperature: s.temperature,
		Images:      images,
	})
	if err != nil {
		return "", err
	}
	raw, err := stream.Collect(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Debug("model reply", "chars", len(raw), "duration_ms", time.Since(start).Milliseconds())

	cmd := ExtractCommand(raw)
	if cmd == "" {
		return "", ErrNoCommand
	}
	return cmd, nil
}

func (s *Synthesizer) systemPrompt(atts []domain.Attachment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You translate requests into shell commands for %s (%s, shell %s).\n",
		runtime.GOOS, runtime.GOARCH, s.shellName)
	sb.WriteString(`Reply with exactly one non-interactive command line. No markdown, no code fences, no explanation.
Chain steps with && or pipes if needed. Never prompt for input; pass -y or equivalent flags.
Homebrew directories are already on PATH.

The command runs in a fresh scratch directory with these variables set:
  BASH_WORK_DIR  the scratch directory (also the current directory); write output files here
  IMAGE_DIR      directory holding attached images
  FILE_COUNT     number of attached files
  FILE_1..FILE_n absolute paths of the attached files, in order
`)
	if len(atts) > 0 {
		sb.WriteString("\nAttached files:\n")
		for i, a := range atts {
			fmt.Fprintf(&sb, "  FILE_%d: %s (%s)\n", i+1, a.Filename, a.MimeType)
		}
	}
	return sb.String()
}

// CommandResult is the outcome of RunWithConsent.
type CommandResult struct {
	Command     string
	Status      Status
	Reply       string // assistant turn describing the outcome
	ExitCode    int
	OutputFiles []string
}

// RunWithConsent checks the command against the policy, asks the user, and
// runs it in a scratch directory holding the attachments.
func (s *Synthesizer) RunWithConsent(ctx context.Context, command string, atts []domain.Attachment) CommandResult {
	res := CommandResult{Command: command}

	if s.policy != nil {
		if pattern := s.policy.Check(ctx, command); pattern != "" {
			metrics.Commands(metrics.ResultBlocked).Inc()
			res.Status = StatusDeclined
			res.Reply = "I won't run this command because it matches a blocked pattern (" + pattern + "):\n" + command
			return res
		}
	}

	if !s.gate.RequestApproval(ctx, "Run this command?\n"+command) {
		metrics.Consent(metrics.DecisionDeclined).Inc()
		metrics.Commands(metrics.ResultDeclined).Inc()
		res.Status = StatusDeclined
		res.Reply = "Cancelled. This command was not run:\n" + command
		return res
	}
	metrics.Consent(metrics.DecisionApproved).Inc()

	dir, err := newRunDir(s.workRoot, atts, 0)
	if err != nil {
		s.logger.Error("prepare work directory", "err", err)
		metrics.Commands(metrics.ResultFailed).Inc()
		res.Status = StatusFailed
		res.Reply = "Could not prepare a working directory: " + err.Error()
		return res
	}

	var script strings.Builder
	for _, kv := range dir.Env() {
		name, value, _ := strings.Cut(kv, "=")
		script.WriteString(shell.Export(name, value))
	}
	script.WriteString("cd " + shell.Quote(dir.Path) + " || exit 1\n")
	script.WriteString(command)

	s.logger.Info("running synthesized command", "command", command, "dir", dir.Path)
	out := s.runner.Run(ctx, shell.WithPath(script.String()), s.timeout, nil).Collect()
	metrics.CommandSeconds.ObserveDuration(out.Elapsed)

	res.ExitCode = out.ExitCode
	res.OutputFiles = dir.OutputFiles()
	dir.RemoveIfEmpty()

	switch {
	case out.OK():
		res.Status = StatusCompleted
		metrics.Commands(metrics.ResultOK).Inc()
	case out.TimedOut:
		res.Status = StatusFailed
		metrics.Commands(metrics.ResultTimeout).Inc()
	default:
		res.Status = StatusFailed
		metrics.Commands(metrics.ResultFailed).Inc()
	}
	res.Reply = s.formatResult(command, out, res.OutputFiles)
	return res
}

func (s *Synthesizer) formatResult(command string, out shell.Result, files []string) string {
	var sb strings.Builder
	sb.WriteString("$ " + command + "\n")
	switch {
	case !out.Spawned:
		sb.WriteString("The command could not be started.\n")
	case out.TimedOut:
		fmt.Fprintf(&sb, "Timed out after %s (exit code %d).\n", s.timeout, out.ExitCode)
	case out.ToolMissing():
		fmt.Fprintf(&sb, "Exit code %d: a required command is not installed.\n", out.ExitCode)
	default:
		fmt.Fprintf(&sb, "Exit code %d\n", out.ExitCode)
	}
	if o := strings.TrimRight(out.Stdout, "\n"); o != "" {
		sb.WriteString("\nstdout:\n" + truncateOutput(o, s.outputLimit) + "\n")
	}
	if e := strings.TrimRight(out.Stderr, "\n"); e != "" {
		sb.WriteString("\nstderr:\n" + truncateOutput(e, s.outputLimit) + "\n")
	}
	if len(files) > 0 {
		sb.WriteString("\nOutput files:\n")
		for _, f := range files {
			sb.WriteString("  " + f + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ExtractCommand pulls the command line out of a model reply: it drops a
// leaked role prefix and a surrounding code fence, then takes the first
// non-empty line.
func ExtractCommand(raw string) string {
	content := stripRolePrefix(strings.TrimSpace(raw))

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		lines = lines[1:] // opening fence and its language tag
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		content = strings.Join(lines, "\n")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimPrefix(line, "$ ")
		if len(line) > 1 && line[0] == '`' && line[len(line)-1] == '`' {
			line = strings.TrimSpace(line[1 : len(line)-1])
		}
		return line
	}
	return ""
}

// stripRolePrefix removes role names some models leak into their content,
// e.g. "assistant\nls" or "Assistant: ls".
func stripRolePrefix(content string) string {
	prefixes := []string{
		"assistant\n",
		"Assistant\n",
		"assistant:\n",
		"Assistant:\n",
		"assistant: ",
		"Assistant: ",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}
