// Package channel holds the user-facing front ends that drive the
// orchestrator and answer its consent prompts.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"shellmate/internal/agent"
	"shellmate/internal/domain"
	"shellmate/internal/security"
)

const defaultMaxAttachmentBytes = 50 * 1024 * 1024

var errExpired = errors.New("request expired")

// CLI is the interactive terminal chat. Input is read only while idle or
// while a consent or password prompt is open; a request in progress is
// never interrupted by typing.
type CLI struct {
	orch     *agent.Orchestrator
	gate     *security.Gate
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	inFd     int  // terminal descriptor for hidden password entry, or -1
	spinner  bool // output is a terminal
	maxBytes int64

	outMu     sync.Mutex
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	want    chan struct{}
	lines   chan lineResult
	reading bool // a line was requested and not yet consumed
	eof     bool

	pending []domain.Attachment
}

type lineResult struct {
	text string
	err  error
}

type CLIConfig struct {
	Orchestrator       *agent.Orchestrator
	Gate               *security.Gate
	Logger             *slog.Logger
	In                 io.Reader // default os.Stdin
	Out                io.Writer // default os.Stdout
	MaxAttachmentBytes int64
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}
	c := &CLI{
		orch:     cfg.Orchestrator,
		gate:     cfg.Gate,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		inFd:     -1,
		maxBytes: cfg.MaxAttachmentBytes,
		want:     make(chan struct{}, 1),
		lines:    make(chan lineResult, 1),
	}
	if f, ok := cfg.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.inFd = int(f.Fd())
	}
	if f, ok := cfg.Out.(*os.File); ok {
		c.spinner = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return c
}

// Start runs the REPL until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	unsubscribe := c.orch.Session().Subscribe(c.render)
	defer unsubscribe()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	go c.readLoop(scanner)

	c.printf("shellmate %s. Type a request and press Enter. /help lists commands, /quit exits.\n", agent.Version())
	c.prompt()

	for {
		line, err := c.nextLine(ctx, nil)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			c.prompt()
			continue
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case line == "/attach" || strings.HasPrefix(line, "/attach "):
			c.attach(strings.TrimSpace(strings.TrimPrefix(line, "/attach")))
			c.prompt()
			continue
		}

		atts := c.pending
		c.pending = nil
		c.dispatch(ctx, line, atts)
		if ctx.Err() != nil {
			return nil
		}
		c.prompt()
	}
}

// dispatch runs one request and serves the gate until it finishes.
func (c *CLI) dispatch(ctx context.Context, line string, atts []domain.Attachment) {
	done := make(chan error, 1)
	c.startThinking()
	go func() { done <- c.orch.Handle(ctx, line, atts) }()

	for {
		select {
		case err := <-done:
			c.stopThinking()
			if err != nil && ctx.Err() == nil {
				c.logger.Error("request failed", "err", err)
				c.printf("Error: %v\n", err)
			}
			return
		case req := <-c.gate.Requests():
			c.stopThinking()
			c.answer(ctx, req)
		case <-ctx.Done():
			<-done
			c.stopThinking()
			return
		}
	}
}

func (c *CLI) answer(ctx context.Context, req *security.Request) {
	if req.Kind == security.KindPassword {
		c.printf("%s\nPassword: ", req.Prompt)
		pw, err := c.readPassword(ctx, req.Done())
		if err != nil || pw == "" {
			if !req.Decline() || errors.Is(err, errExpired) {
				c.printf("\n(the request expired)\n")
			}
			return
		}
		if !req.ProvidePassword(pw) {
			c.printf("(the request expired)\n")
		}
		return
	}

	c.printf("%s\nProceed? [y/N] ", req.Prompt)
	line, err := c.nextLine(ctx, req.Done())
	if err != nil {
		req.Decline()
		if errors.Is(err, errExpired) {
			c.printf("\n(the request expired)\n")
		}
		return
	}
	var resolved bool
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		resolved = req.Approve()
	default:
		resolved = req.Decline()
	}
	if !resolved {
		c.printf("(the request expired)\n")
	}
}

// readPassword reads without echo from a terminal, otherwise a plain line.
func (c *CLI) readPassword(ctx context.Context, abort <-chan struct{}) (string, error) {
	if c.inFd >= 0 && !c.reading {
		b, err := term.ReadPassword(c.inFd)
		c.printf("\n")
		return string(b), err
	}
	return c.nextLine(ctx, abort)
}

func (c *CLI) readLoop(scanner *bufio.Scanner) {
	for range c.want {
		if scanner.Scan() {
			c.lines <- lineResult{text: scanner.Text()}
			continue
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		c.lines <- lineResult{err: err}
		return
	}
}

// nextLine returns the next input line. A line requested but abandoned
// through abort is delivered to the following call.
func (c *CLI) nextLine(ctx context.Context, abort <-chan struct{}) (string, error) {
	if !c.reading {
		if c.eof {
			return "", io.EOF
		}
		c.want <- struct{}{}
		c.reading = true
	}
	select {
	case l := <-c.lines:
		c.reading = false
		if l.err != nil {
			c.eof = true
		}
		return l.text, l.err
	case <-abort:
		return "", errExpired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// attach queues a file for the next request.
func (c *CLI) attach(arg string) {
	if arg == "" {
		if len(c.pending) == 0 {
			c.printf("Usage: /attach <path>. Nothing is attached yet.\n")
			return
		}
		for _, a := range c.pending {
			c.printf("  %s (%s, %s)\n", a.Filename, a.MimeType, humanize.Bytes(uint64(len(a.Data))))
		}
		return
	}

	a, err := LoadAttachment(arg, c.maxBytes)
	if err != nil {
		c.printf("Cannot attach %s: %v\n", arg, err)
		return
	}
	c.pending = append(c.pending, a)
	c.printf("Attached %s (%s, %s). It goes with your next request.\n", a.Filename, a.MimeType, humanize.Bytes(uint64(len(a.Data))))
}

// LoadAttachment reads a file to send with a request. A leading ~/ is
// expanded; maxBytes <= 0 applies the default limit.
func LoadAttachment(path string, maxBytes int64) (domain.Attachment, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAttachmentBytes
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.Attachment{}, err
	}
	if info.IsDir() {
		return domain.Attachment{}, errors.New("it is a directory")
	}
	if info.Size() > maxBytes {
		return domain.Attachment{}, fmt.Errorf("%s exceeds the %s limit",
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(maxBytes)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, err
	}
	return domain.Attachment{Filename: filepath.Base(path), MimeType: detectMime(path, data), Data: data}, nil
}

func detectMime(path string, data []byte) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if t == "" {
		t = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(t); err == nil {
		return base
	}
	return t
}

// render prints assistant turns and notices. User turns are already on screen.
func (c *CLI) render(turn domain.Turn) {
	if turn.Role != domain.RoleAssistant {
		return
	}
	c.stopThinking()
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.spinner {
		_, _ = fmt.Fprint(c.out, "\r\033[K")
	}
	_, _ = fmt.Fprintln(c.out, turn.Content)
}

func (c *CLI) prompt() { c.printf("You> ") }

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				_, _ = fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				c.outMu.Unlock()
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	c.outMu.Lock()
	_, _ = fmt.Fprint(c.out, "\r\033[K")
	c.outMu.Unlock()
}
