package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shellmate/internal/agent"
	"shellmate/internal/channel"
	"shellmate/internal/domain"
	"shellmate/internal/security"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func runCmd() *cobra.Command {
	var (
		yes   bool
		files []string
	)
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Handle a single request and exit",
		Long: `Handles one request the way chat does. Consent prompts are asked on the
terminal; without a terminal they are declined unless --yes is given.
Administrator passwords are only ever read from a terminal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			var atts []domain.Attachment
			for _, f := range files {
				att, err := channel.LoadAttachment(f, 0)
				if err != nil {
					return fmt.Errorf("attach %s: %w", f, err)
				}
				atts = append(atts, att)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer a.Close()

			r := newOneShot(a.orch, a.gate, os.Stdin, os.Stdout)
			r.yes = yes
			return r.run(ctx, strings.Join(args, " "), atts)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every consent prompt")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "attach a file to the request (repeatable)")
	return cmd
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <request>",
		Short: "Show how a request would be handled without running anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Memory.Enabled = false
			a, err := newApp(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Println(a.orch.DryRun(strings.Join(args, " ")))
			return nil
		},
	}
}

// oneShot drives a single request, answering the gate from flags or the
// terminal.
type oneShot struct {
	orch *agent.Orchestrator
	gate *security.Gate
	yes  bool
	in   *bufio.Reader
	inFd int // -1 when input is not a terminal
	out  io.Writer
}

func newOneShot(orch *agent.Orchestrator, gate *security.Gate, in io.Reader, out io.Writer) *oneShot {
	r := &oneShot{orch: orch, gate: gate, in: bufio.NewReader(in), inFd: -1, out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.inFd = int(f.Fd())
	}
	return r
}

func (r *oneShot) run(ctx context.Context, text string, atts []domain.Attachment) error {
	unsubscribe := r.orch.Session().Subscribe(func(turn domain.Turn) {
		if turn.Role == domain.RoleAssistant {
			fmt.Fprintln(r.out, turn.Content)
		}
	})
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- r.orch.Handle(ctx, text, atts) }()
	for {
		select {
		case err := <-done:
			return err
		case req := <-r.gate.Requests():
			r.answer(req)
		}
	}
}

func (r *oneShot) answer(req *security.Request) {
	if req.Kind == security.KindPassword {
		if r.inFd < 0 {
			fmt.Fprintf(r.out, "%s\nNo terminal to read a password from; declining.\n", req.Prompt)
			req.Decline()
			return
		}
		fmt.Fprintf(r.out, "%s\nPassword: ", req.Prompt)
		pw, err := term.ReadPassword(r.inFd)
		fmt.Fprintln(r.out)
		if err != nil || len(pw) == 0 {
			req.Decline()
			return
		}
		req.ProvidePassword(string(pw))
		return
	}

	if r.yes {
		fmt.Fprintf(r.out, "%s\nProceed? [y/N] yes (--yes)\n", req.Prompt)
		req.Approve()
		return
	}
	if r.inFd < 0 {
		fmt.Fprintf(r.out, "%s\nNo terminal to ask for consent; declining. Pass --yes to approve.\n", req.Prompt)
		req.Decline()
		return
	}
	fmt.Fprintf(r.out, "%s\nProceed? [y/N] ", req.Prompt)
	line, _ := r.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		req.Approve()
	default:
		req.Decline()
	}
}
