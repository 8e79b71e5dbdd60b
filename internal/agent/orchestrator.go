package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"shellmate/internal/domain"
	"shellmate/internal/intent"
	"shellmate/internal/metrics"
	"shellmate/internal/plan"
)

// Orchestrator routes each request through the deterministic intents, then
// the install planner, then command synthesis. It runs one operation at a
// time; a new request cancels a model reply still streaming but waits for
// a running plan or command to finish.
type Orchestrator struct {
	session    *Session
	classifier *intent.Classifier
	builder    *plan.Builder
	executor   *PlanExecutor
	synth      *Synthesizer
	logger     *slog.Logger

	opMu sync.Mutex // held for the whole of one request

	streamMu     sync.Mutex
	streamSeq    uint64
	cancelStream context.CancelFunc
}

type OrchestratorConfig struct {
	Session     *Session
	Classifier  *intent.Classifier
	Builder     *plan.Builder
	Executor    *PlanExecutor
	Synthesizer *Synthesizer
	Logger      *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = intent.NewClassifier(intent.ClassifierConfig{})
	}
	return &Orchestrator{
		session:    cfg.Session,
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		executor:   cfg.Executor,
		synth:      cfg.Synthesizer,
		logger:     cfg.Logger,
	}
}

// Session returns the conversation the orchestrator writes to.
func (o *Orchestrator) Session() *Session { return o.session }

// Handle processes one user request. Every outcome, including failures and
// declines, is appended to the session as an assistant turn; the returned
// error is reserved for persistence faults and cancellation of ctx.
func (o *Orchestrator) Handle(ctx context.Context, text string, atts []domain.Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" && len(atts) == 0 {
		return nil
	}

	// Supersede a model reply that is still streaming.
	o.cancelInflightStream()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	if cmd := ParseCommand(text); cmd != nil {
		if res := o.HandleCommand(ctx, cmd); res.Handled {
			o.session.Notice(res.Response)
			return nil
		}
	}

	metrics.RequestsTotal.Inc()
	history := o.session.History()
	if err := o.session.Append(ctx, domain.Turn{Role: domain.RoleUser, Content: text, Attachments: atts}); err != nil {
		return fmt.Errorf("record request: %w", err)
	}

	in := o.classifier.Classify(text)
	o.logger.Info("request classified", "intent", in.Kind, "chars", len(text), "attachments", len(atts))

	switch in.Kind {
	case intent.Time:
		return o.say(ctx, o.classifier.TimeReply())
	case intent.DesktopTree, intent.RootTree:
		if _, err := o.executor.Execute(ctx, o.session, o.classifier.Plan(in)); err != nil {
			return err
		}
		return ctx.Err()
	}

	if o.builder != nil {
		if p, ok := o.builder.Build(text); ok {
			out, err := o.executor.Execute(ctx, o.session, p)
			o.logger.Info("plan finished", "status", out.Status, "steps_run", out.StepsRun)
			if err != nil {
				return err
			}
			return ctx.Err()
		}
	}

	return o.synthesizeAndRun(ctx, text, history, atts)
}

func (o *Orchestrator) synthesizeAndRun(ctx context.Context, text string, history []domain.Message, atts []domain.Attachment) error {
	if o.synth == nil {
		return o.say(ctx, "I can only handle install, tree and time requests without a model configured.")
	}

	streamCtx, seq := o.beginStream(ctx)
	cmd, err := o.synth.Synthesize(streamCtx, SynthesisRequest{Text: text, History: history, Attachments: atts})
	superseded := streamCtx.Err() != nil && ctx.Err() == nil
	o.endStream(seq)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if superseded {
			return o.say(ctx, "Stopped: a newer request replaced this one.")
		}
		o.logger.Warn("synthesis failed", "err", err)
		return o.say(ctx, synthesisFailure(err))
	}

	res := o.synth.RunWithConsent(ctx, cmd, atts)
	o.logger.Info("command finished", "status", res.Status, "exit", res.ExitCode)
	if err := o.say(ctx, res.Reply); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) say(ctx context.Context, content string) error {
	if err := o.session.Say(ctx, content); err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	return nil
}

func (o *Orchestrator) beginStream(ctx context.Context) (context.Context, uint64) {
	streamCtx, cancel := context.WithCancel(ctx)
	o.streamMu.Lock()
	o.streamSeq++
	seq := o.streamSeq
	o.cancelStream = cancel
	o.streamMu.Unlock()
	return streamCtx, seq
}

func (o *Orchestrator) endStream(seq uint64) {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()
	if o.streamSeq == seq && o.cancelStream != nil {
		o.cancelStream()
		o.cancelStream = nil
	}
}

func (o *Orchestrator) cancelInflightStream() {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()
	if o.cancelStream != nil {
		o.logger.Info("cancelling in-flight model reply")
		o.cancelStream()
		o.cancelStream = nil
	}
}

// synthesisFailure explains why no command could be produced.
func synthesisFailure(err error) string {
	var httpErr *domain.HTTPError
	var netErr *domain.NetworkError
	switch {
	case errors.Is(err, ErrNoCommand):
		return "I couldn't derive a shell command from that request. Try rephrasing it."
	case errors.Is(err, domain.ErrMissingCredential):
		return "No API key is configured, so I can't ask the model for a command. Set provider.apiKey or OPENAI_API_KEY."
	case errors.Is(err, domain.ErrInvalidResponse):
		return "The model returned a response I couldn't read: " + err.Error()
	case errors.As(err, &httpErr):
		msg := fmt.Sprintf("The model API returned HTTP %d", httpErr.Status)
		if text := http.StatusText(httpErr.Status); text != "" {
			msg += " (" + text + ")"
		}
		return msg + ". No command was run."
	case errors.As(err, &netErr):
		return "I couldn't reach the model API: " + netErr.Err.Error()
	default:
		return "Command synthesis failed: " + err.Error()
	}
}

// DryRun describes what Handle would do with text without running anything.
func (o *Orchestrator) DryRun(text string) string {
	in := o.classifier.Classify(text)
	switch in.Kind {
	case intent.Time:
		return "Time request. Reply: " + o.classifier.TimeReply()
	case intent.DesktopTree, intent.RootTree:
		p := o.classifier.Plan(in)
		return fmt.Sprintf("Intent: %s (depth %d)\n%s\n\n%s", in.Kind, in.Depth, p.Summary(), stepCommands(p))
	}
	if o.builder != nil {
		if p, ok := o.builder.Build(text); ok {
			var sb strings.Builder
			targets := o.builder.Targets(text)
			if len(targets) > 0 {
				sb.WriteString("Targets:")
				for _, t := range targets {
					sb.WriteString(" " + t.Kind.String() + ":" + t.Value)
				}
				sb.WriteString("\n")
			}
			consent := "no consent needed"
			if p.RequiresConsent() {
				consent = "asks for consent"
			}
			if p.RequiresSudo() {
				consent += ", needs sudo"
			}
			fmt.Fprintf(&sb, "Install plan (%s):\n%s\n\n%s", consent, p.Summary(), stepCommands(p))
			return sb.String()
		}
	}
	return "No deterministic intent or install plan matched; this request would be sent to the model to synthesize a command."
}

func stepCommands(p *plan.Plan) string {
	var sb strings.Builder
	for i, s := range p.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Command)
	}
	return strings.TrimRight(sb.String(), "\n")
}
