// Package plan models multi-step shell operations and builds them from
// free-text install requests.
package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shellmate/internal/shell"
)

// Safety classifies how much approval a step needs before it may run.
type Safety int

const (
	Safe Safety = iota
	NeedsConsent
	Privileged
)

func (s Safety) String() string {
	switch s {
	case Safe:
		return "safe"
	case NeedsConsent:
		return "needs-consent"
	case Privileged:
		return "privileged"
	default:
		return "safety(" + strconv.Itoa(int(s)) + ")"
	}
}

// Badge is the short marker shown next to a step title in a plan summary.
func (s Safety) Badge() string {
	switch s {
	case NeedsConsent:
		return "[consent]"
	case Privileged:
		return "[sudo]"
	default:
		return "[safe]"
	}
}

// Step is one shell command plus the metadata needed to run it.
type Step struct {
	Title        string
	Command      string
	Timeout      time.Duration
	Safety       Safety
	RequiresSudo bool

	// Stdin, when set, produces bytes written to the process before its
	// input is closed. Sudo steps get the credential instead.
	Stdin func() ([]byte, error)
}

// NewStep is the single constructor for generated steps. Every argument is
// shell-quoted into format, so format itself must be a trusted literal.
func NewStep(title string, safety Safety, timeout time.Duration, format string, args ...string) Step {
	return Step{
		Title:   title,
		Command: shell.Format(format, args...),
		Timeout: timeout,
		Safety:  safety,
	}
}

// Elevated marks the step as needing the sudo credential.
func (s Step) Elevated() Step {
	s.RequiresSudo = true
	s.Safety = Privileged
	return s
}

// Plan is an ordered list of steps. Plans are built once, executed once
// and not modified in between.
type Plan struct {
	Description string
	Steps       []Step
}

// RequiresConsent reports whether any step is above Safe.
func (p *Plan) RequiresConsent() bool {
	for _, s := range p.Steps {
		if s.Safety != Safe {
			return true
		}
	}
	return false
}

// RequiresSudo reports whether any step needs the sudo credential.
func (p *Plan) RequiresSudo() bool {
	for _, s := range p.Steps {
		if s.RequiresSudo {
			return true
		}
	}
	return false
}

// Summary renders the numbered step list shown when asking for consent.
func (p *Plan) Summary() string {
	var sb strings.Builder
	sb.WriteString(p.Description)
	sb.WriteString("\n")
	for i, s := range p.Steps {
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, s.Badge(), s.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Badge is a shorthand for s.Safety.Badge().
func (s Step) Badge() string { return s.Safety.Badge() }

var (
	ErrEmptyPlan   = errors.New("plan has no steps")
	ErrUnsafeSudo  = errors.New("step requires sudo but is marked safe")
	ErrEmptyStep   = errors.New("step has no command")
	ErrStepTimeout = errors.New("step has no timeout")
)

// Validate checks structural invariants. Builders only produce valid plans;
// this guards hand-assembled ones.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	for i, s := range p.Steps {
		switch {
		case strings.TrimSpace(s.Command) == "":
			return fmt.Errorf("step %d (%s): %w", i+1, s.Title, ErrEmptyStep)
		case s.Timeout <= 0:
			return fmt.Errorf("step %d (%s): %w", i+1, s.Title, ErrStepTimeout)
		case s.RequiresSudo && s.Safety == Safe:
			return fmt.Errorf("step %d (%s): %w", i+1, s.Title, ErrUnsafeSudo)
		}
	}
	return nil
}

// Single wraps one step into a plan.
func Single(description string, step Step) *Plan {
	return &Plan{Description: description, Steps: []Step{step}}
}
