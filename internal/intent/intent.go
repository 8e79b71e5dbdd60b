// Package intent recognizes requests that have a fixed, deterministic
// answer so they never reach the language model.
package intent

import (
	"os"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind is a recognized request shape.
type Kind int

const (
	None Kind = iota
	Time
	DesktopTree
	RootTree
)

func (k Kind) String() string {
	switch k {
	case Time:
		return "time"
	case DesktopTree:
		return "desktop-tree"
	case RootTree:
		return "root-tree"
	default:
		return "none"
	}
}

// Rule matches when every group has at least one keyword present and no
// Exclude keyword is. A keyword with a space is matched as a phrase,
// otherwise as a whole word.
type Rule struct {
	Kind    Kind
	Groups  [][]string
	Exclude []string
}

// installWords mark a request about getting the tree program itself.
var installWords = []string{"install", "reinstall", "uninstall", "upgrade", "brew", "homebrew", "formula", "cask", "package"}

// Rules is evaluated in order; the first match wins.
var Rules = []Rule{
	{Kind: Time, Groups: [][]string{
		{"what time is it", "what's the time", "what is the time", "what time it is", "current time", "time is it", "time right now", "tell me the time", "today's date", "what's the date", "what day is it", "what is the date"},
	}},
	{Kind: DesktopTree, Groups: [][]string{
		{"create", "make", "build", "generate", "export", "save", "write", "dump"},
		{"tree", "hierarchy", "structure"},
		{"desktop"},
	}, Exclude: installWords},
	{Kind: RootTree, Groups: [][]string{
		{"tree", "hierarchy", "structure"},
		{"from", "root", "rooted"},
	}, Exclude: installWords},
}

// Intent is a classified request.
type Intent struct {
	Kind  Kind
	Depth int
	Root  string // absolute or ~-expanded; empty means the default
	Text  string // normalized input
}

// Classifier applies Rules to free text.
type Classifier struct {
	rules []Rule
	home  string
	now   func() time.Time
}

type ClassifierConfig struct {
	Rules []Rule           // default Rules
	Home  string           // default os.UserHomeDir
	Now   func() time.Time // default time.Now
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Rules == nil {
		cfg.Rules = Rules
	}
	if cfg.Home == "" {
		cfg.Home, _ = os.UserHomeDir()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Classifier{rules: cfg.Rules, home: cfg.Home, now: cfg.Now}
}

// Normalize folds compatibility characters, lower-cases, trims and
// collapses whitespace.
func Normalize(text string) string {
	s := strings.ToLower(norm.NFKC.String(text))
	s = strings.ReplaceAll(s, "’", "'")
	return strings.Join(strings.Fields(s), " ")
}

// Classify returns the first matching intent, or Kind None.
func (c *Classifier) Classify(text string) Intent {
	lower := Normalize(text)
	if lower == "" {
		return Intent{Kind: None}
	}
	words := wordSet(lower)
	for _, r := range c.rules {
		if !r.matches(lower, words) {
			continue
		}
		in := Intent{Kind: r.Kind, Text: lower}
		switch r.Kind {
		case DesktopTree, RootTree:
			in.Depth = ParseDepth(lower)
			in.Root = ParseRoot(norm.NFKC.String(strings.TrimSpace(text)), c.home)
			if r.Kind == RootTree && in.Root == "" {
				// "tree from" with nothing usable after it is not a tree request.
				continue
			}
		}
		return in
	}
	return Intent{Kind: None, Text: lower}
}

func (r Rule) matches(lower string, words map[string]bool) bool {
	if containsAny(lower, words, r.Exclude) {
		return false
	}
	for _, group := range r.Groups {
		if !containsAny(lower, words, group) {
			return false
		}
	}
	return true
}

func containsAny(lower string, words map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") || strings.Contains(kw, "'") {
			if strings.Contains(lower, kw) {
				return true
			}
		} else if words[kw] {
			return true
		}
	}
	return false
}

func wordSet(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
