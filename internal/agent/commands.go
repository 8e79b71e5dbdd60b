package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"shellmate/internal/metrics"
)

// ChatCommand is a parsed slash command.
type ChatCommand struct {
	Name string   // without the leading "/"
	Args []string // words after the name
	Raw  string   // original text
}

// CommandResponse is the reply to a slash command.
type CommandResponse struct {
	Response string
	Handled  bool // false: treat the text as an ordinary request
}

var startTime = time.Now()

// version is set by the build.
var version = "0.1.0"

func SetVersion(v string) { version = v }

func Version() string { return version }

// ParseCommand parses text starting with "/", or returns nil.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: name, Args: parts[1:], Raw: text}
}

// HandleCommand runs a slash command. Unknown names are not handled so the
// text goes through the normal request path (a path like /usr/bin/env is
// not a command).
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *ChatCommand) CommandResponse {
	switch cmd.Name {
	case "help":
		return CommandResponse{Response: helpText(), Handled: true}

	case "clear", "new":
		if err := o.session.Reset(ctx); err != nil {
			return CommandResponse{Response: "Could not clear the conversation: " + err.Error(), Handled: true}
		}
		return CommandResponse{Response: "Conversation cleared. Starting fresh.", Handled: true}

	case "forget-sudo":
		if o.session.Sudo.Clear() {
			return CommandResponse{Response: "Forgot the cached administrator password.", Handled: true}
		}
		return CommandResponse{Response: "No administrator password was cached.", Handled: true}

	case "plan":
		rest := strings.Join(cmd.Args, " ")
		if rest == "" {
			return CommandResponse{Response: "Usage: /plan <request>", Handled: true}
		}
		return CommandResponse{Response: o.DryRun(rest), Handled: true}

	case "metrics":
		var sb strings.Builder
		if err := metrics.Collector.WritePrometheus(&sb); err != nil {
			return CommandResponse{Response: "metrics unavailable: " + err.Error(), Handled: true}
		}
		return CommandResponse{Response: strings.TrimRight(sb.String(), "\n"), Handled: true}

	case "status":
		return CommandResponse{Response: o.statusText(), Handled: true}

	case "version":
		return CommandResponse{Response: fmt.Sprintf("shellmate v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	default:
		return CommandResponse{Handled: false}
	}
}

func helpText() string {
	return `shellmate commands

/help          Show this help message
/clear         Start a new conversation (alias /new)
/forget-sudo   Forget the cached administrator password
/plan <text>   Show what a request would do without running it
/metrics       Show counters in Prometheus text format
/status        Show session info
/version       Show version info
/attach <path> Send a file with your next request
/quit          Leave the chat

Anything else is a request, e.g. "install htop and jq", "what time is it",
"make a tree of my projects folder on the desktop" or "find large files in ~/Downloads".`
}

func (o *Orchestrator) statusText() string {
	_, cached := o.session.Sudo.Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "shellmate v%s\n", version)
	fmt.Fprintf(&sb, "Conversation: %s (%d turns)\n", o.session.ID(), len(o.session.Turns()))
	fmt.Fprintf(&sb, "Sudo password cached: %t\n", cached)
	fmt.Fprintf(&sb, "Command synthesis: %t\n", o.synth != nil)
	fmt.Fprintf(&sb, "Uptime: %s", time.Since(startTime).Round(time.Second))
	return sb.String()
}
