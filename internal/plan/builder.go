package plan

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	timeoutBootstrap = 1800 * time.Second
	timeoutUpdate    = 600 * time.Second
	timeoutInstall   = 1800 * time.Second
	timeoutVerify    = 60 * time.Second
	timeoutClone     = 900 * time.Second
	timeoutPath      = 60 * time.Second

	DefaultGitDestination = "/usr/local/src"
	PathsFile             = "/etc/paths.d/homebrew"

	homebrewInstallURL = "https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh"
)

var (
	reGitURL  = regexp.MustCompile(`(?i)((?:https?|ssh|git)://[^\s'"<>]+?\.git|git@[\w.-]+:[^\s'"<>]+?\.git)(?:/|\b|$)`)
	reGitDest = regexp.MustCompile(`(?i)\b(?:into|to|under|in)\s+((?:~|/|\./)[^\s,;'"]*)`)
	// A quoted command may appear anywhere; a bare one only follows "run"
	// after the URL and runs to the end of the request.
	reGitCmdQuoted = regexp.MustCompile("(?i)\\b(?:run|install\\s+with|using)\\s+(?:`([^`]+)`|\"([^\"]+)\"|'([^']+)')")
	reGitCmdBare   = regexp.MustCompile(`(?i)\brun\s+(.+)$`)
)

// Builder turns install requests into plans. Build is a pure function of
// its input and the probe's answers.
type Builder struct {
	probe   Probe
	aliases *AliasTable
	gitDest string
	home    string
	logger  *slog.Logger
}

type BuilderConfig struct {
	Probe          Probe       // default FSProbe
	Aliases        *AliasTable // default DefaultAliases()
	GitDestination string      // default /usr/local/src
	Home           string      // for ~ expansion; default os.UserHomeDir
	Logger         *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Probe == nil {
		cfg.Probe = FSProbe{}
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases()
	}
	if cfg.GitDestination == "" {
		cfg.GitDestination = DefaultGitDestination
	}
	if cfg.Home == "" {
		cfg.Home, _ = os.UserHomeDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		probe:   cfg.Probe,
		aliases: cfg.Aliases,
		gitDest: cfg.GitDestination,
		home:    cfg.Home,
		logger:  cfg.Logger,
	}
}

// Build returns a plan when text is an install or system PATH request.
// Target shapes are tried in order: PATH-only, App Store IDs, a git URL,
// then a list of package names.
func (b *Builder) Build(text string) (*Plan, bool) {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	verb := hasVerb(lower)
	systemWide := reSystemWide.MatchString(lower) || reSystemPath.MatchString(lower)
	if !verb && !systemWide {
		return nil, false
	}

	if systemWide && rePMRef.MatchString(lower) && (rePathWord.MatchString(lower) || !verb) {
		return b.pathOnlyPlan(), true
	}
	if !verb {
		return nil, false
	}

	var p *Plan
	if ids := parseMASIDs(lower); len(ids) > 0 {
		targets := make([]InstallTarget, len(ids))
		for i, id := range ids {
			targets[i] = InstallTarget{Kind: MAS, Value: id}
		}
		p = b.packagePlan(targets)
	} else if m := reGitURL.FindStringSubmatchIndex(raw); m != nil {
		p = b.gitPlan(raw[m[2]:m[3]], raw[:m[0]], raw[m[1]:])
	} else if targets, ok := parseList(lower, b.aliases); ok {
		p = b.packagePlan(targets)
	} else {
		return nil, false
	}

	if systemWide {
		p.Steps = append(p.Steps, b.pathStep())
		p.Description += " and add Homebrew to the system PATH"
	}
	b.logger.Debug("install plan built", "description", p.Description, "steps", len(p.Steps))
	return p, true
}

// Targets exposes the parsed package list for a request, mainly for dry
// runs. It does not consider git URLs.
func (b *Builder) Targets(text string) []InstallTarget {
	lower := strings.ToLower(strings.TrimSpace(text))
	if !hasVerb(lower) {
		return nil
	}
	if ids := parseMASIDs(lower); len(ids) > 0 {
		out := make([]InstallTarget, len(ids))
		for i, id := range ids {
			out[i] = InstallTarget{Kind: MAS, Value: id}
		}
		return out
	}
	targets, _ := parseList(lower, b.aliases)
	return targets
}

func (b *Builder) packagePlan(targets []InstallTarget) *Plan {
	var steps []Step
	if _, ok := b.probe.BrewPath(); !ok {
		steps = append(steps, bootstrapBrewStep())
	}
	steps = append(steps, NewStep("Update Homebrew", Safe, timeoutUpdate, "brew update"))

	var names []string
	for _, kind := range []TargetKind{Formula, Cask, MAS} {
		masReady := false
		for _, t := range targets {
			if t.Kind != kind {
				continue
			}
			names = append(names, t.Value)
			switch kind {
			case Formula:
				steps = append(steps, formulaStep(t.Value))
				if t.Verify {
					steps = append(steps, verifyStep(b.aliases.Binary(t.Value)))
				}
			case Cask:
				steps = append(steps, caskStep(t.Value))
			case MAS:
				if !masReady {
					steps = append(steps, masBootstrapStep())
					masReady = true
				}
				steps = append(steps, masStep(t.Value))
			}
		}
	}
	return &Plan{Description: "Install " + strings.Join(names, ", "), Steps: steps}
}

func bootstrapBrewStep() Step {
	return NewStep("Install Homebrew", NeedsConsent, timeoutBootstrap,
		`command -v brew >/dev/null 2>&1 || NONINTERACTIVE=1 /bin/bash -c "$(curl -fsSL %s)"`,
		homebrewInstallURL)
}

func formulaStep(name string) Step {
	return NewStep("Install or upgrade "+name, Safe, timeoutInstall,
		"if brew list --formula %s >/dev/null 2>&1; then brew upgrade %s; else brew install %s; fi",
		name, name, name)
}

func verifyStep(bin string) Step {
	return NewStep("Verify "+bin, Safe, timeoutVerify,
		"command -v %s && %s --version", bin, bin)
}

func caskStep(name string) Step {
	return NewStep("Install or upgrade "+name+" (app)", NeedsConsent, timeoutInstall,
		"if brew list --cask %s >/dev/null 2>&1; then brew upgrade --cask %s; else brew install --cask %s; fi",
		name, name, name)
}

func masBootstrapStep() Step {
	return NewStep("Install the mas App Store CLI", NeedsConsent, timeoutInstall,
		"command -v mas >/dev/null 2>&1 || brew install mas")
}

func masStep(id string) Step {
	return NewStep("Install or upgrade App Store app "+id, NeedsConsent, timeoutInstall,
		"if mas list | awk '{print $1}' | grep -qx %s; then mas upgrade %s; else mas install %s; fi",
		id, id, id)
}

// gitPlan installs from a repository URL. before and after are the request
// text around the URL; they may name a destination and an install command.
func (b *Builder) gitPlan(url, before, after string) *Plan {
	rest := before + " " + after
	dest := b.gitDest
	if m := reGitDest.FindStringSubmatch(rest); m != nil {
		dest = b.expandHome(strings.TrimRight(m[1], ".,;"))
	}
	name := repoName(url)
	repo := filepath.Join(dest, name)

	steps := []Step{
		NewStep("Ensure git is available", NeedsConsent, timeoutBootstrap,
			"command -v git >/dev/null 2>&1 || { xcode-select -p >/dev/null 2>&1 && test -x /usr/bin/git; } || brew install git"),
		NewStep("Clone or update "+name, NeedsConsent, timeoutClone,
			"mkdir -p %s && if [ -d %s/.git ]; then git -C %s fetch --all --prune && git -C %s reset --hard '@{u}'; else git clone %s %s; fi",
			dest, repo, repo, repo, url, repo),
	}

	install := ""
	m := reGitCmdQuoted.FindStringSubmatch(rest)
	if m == nil {
		m = reGitCmdBare.FindStringSubmatch(after)
	}
	if m != nil {
		for _, g := range m[1:] {
			if g = strings.TrimSpace(g); g != "" {
				install = strings.TrimRight(g, ".")
				break
			}
		}
	}
	if install == "" {
		install, _ = b.aliases.GitInstaller(url)
	}
	if install != "" {
		steps = append(steps, NewStep("Run install command for "+name, NeedsConsent, timeoutInstall,
			"cd %s && /bin/sh -c %s", repo, install))
	}
	return &Plan{Description: "Install " + name + " from " + url, Steps: steps}
}

// repoName derives the checkout directory from the URL's last segment.
func repoName(url string) string {
	u := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	if u == "" || u == "." || u == ".." {
		return "repo"
	}
	return u
}

func (b *Builder) expandHome(p string) string {
	if p == "~" {
		return b.home
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return path.Join(b.home, rest)
	}
	return p
}

func (b *Builder) pathOnlyPlan() *Plan {
	var steps []Step
	if _, ok := b.probe.BrewPath(); !ok {
		steps = append(steps, bootstrapBrewStep())
	}
	steps = append(steps, b.pathStep())
	return &Plan{Description: "Add Homebrew to the system PATH", Steps: steps}
}

// pathStep writes the discovered package-manager directories to the
// system paths file. It runs under sudo.
func (b *Builder) pathStep() Step {
	dirs := b.probe.PackageManagerDirs()
	if len(dirs) == 0 {
		dirs = defaultPathDirs()
	}
	format := "mkdir -p /etc/paths.d && printf '%%s\\n'" + strings.Repeat(" %s", len(dirs)) + " > %s"
	args := append(append([]string{}, dirs...), PathsFile)
	return NewStep("Add Homebrew directories to the system PATH", Privileged, timeoutPath, format, args...).Elevated()
}
