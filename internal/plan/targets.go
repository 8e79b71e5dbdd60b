package plan

import (
	"regexp"
	"strings"
)

// TargetKind is the package source an install target comes from.
type TargetKind int

const (
	Formula TargetKind = iota
	Cask
	MAS
	GitURL
)

func (k TargetKind) String() string {
	switch k {
	case Formula:
		return "formula"
	case Cask:
		return "cask"
	case MAS:
		return "mas"
	case GitURL:
		return "git"
	default:
		return "unknown"
	}
}

// InstallTarget is one thing the user asked to install.
type InstallTarget struct {
	Kind   TargetKind
	Value  string
	Verify bool
}

var (
	reVerb       = regexp.MustCompile(`\b(install|set\s+up|setup|add|get)\b`)
	reStrongVerb = regexp.MustCompile(`\b(install|set\s+up|setup)\b`)
	reSystemWide = regexp.MustCompile(`\b(?:system[-\s]?wide|globally|for\s+all\s+users)\b|/etc/paths`)
	reSystemPath = regexp.MustCompile(`\b(?:brew|homebrew|package\s+managers?)(?:'s)?(?:\s+(?:bin|binaries|dirs?|director(?:y|ies)|folders?))?\s+(?:to|on|in|into)\s+(?:the\s+|my\s+)?system\s+path\b`)
	rePMRef      = regexp.MustCompile(`\b(?:brew|homebrew|package\s+managers?)\b|/opt/homebrew|/usr/local`)
	rePathWord   = regexp.MustCompile(`\bpath\b`)

	reVerifyClause = regexp.MustCompile(`(?:\s*,\s*|\s+)(?:and\s+)?(?:then\s+)?(?:verify|confirm|check\s+(?:the\s+|its\s+|their\s+)?versions?)\b.*$`)
	rePathClause   = regexp.MustCompile(`\s*(?:and\s+)?(?:add\s+(?:it|them)\s+)?(?:to|on)\s+(?:the\s+|my\s+)?(?:system\s+)?path\b`)

	reMASLabel  = regexp.MustCompile(`\b(?:(?:mac\s+)?app\s*store|appstore|mas)(?:\s+app)?(?:\s+id)?\s*[:#]?\s*(\d{6,})\b|\bid\s*[:#]?\s*(\d{6,})\b`)
	reStoreWord = regexp.MustCompile(`\b(?:app\s*store|appstore|mas)\b`)
	reLongDigit = regexp.MustCompile(`\b\d{6,}\b`)
	reAllDigits = regexp.MustCompile(`^\d{6,}$`)

	reListSplit   = regexp.MustCompile(`\s*,\s*|\s+and\s+|\s*&\s*|\s+plus\s+`)
	reLeadingFill = regexp.MustCompile(`^(?:(?:also|then|and|please|install|set\s+up|setup|add|get|me|the|a|an|latest|new)\s+)+`)
	reTrailFill   = regexp.MustCompile(`\s+(?:app|application|please|for\s+me|(?:using|with|via|from)\s+(?:home)?brew)$`)
	rePackageTok  = regexp.MustCompile(`^[a-z0-9][a-z0-9+._@/-]*$`)
	reWord        = regexp.MustCompile(`^[a-z0-9]+$`)
)

var multiWordStop = map[string]bool{
	"to": true, "in": true, "on": true, "from": true, "for": true, "with": true,
	"my": true, "into": true, "of": true, "at": true, "by": true, "this": true,
	"that": true, "it": true, "file": true, "files": true, "folder": true,
}

// hasVerb reports whether text contains an install verb.
func hasVerb(lower string) bool { return reVerb.MatchString(lower) }

// afterVerb returns the text following the first install verb.
func afterVerb(lower string) string {
	loc := reVerb.FindStringIndex(lower)
	if loc == nil {
		return ""
	}
	return lower[loc[1]:]
}

// stripVerify removes a trailing "then verify..." clause and reports
// whether one was present.
func stripVerify(s string) (string, bool) {
	loc := reVerifyClause.FindStringIndex(s)
	if loc == nil {
		return s, false
	}
	return s[:loc[0]], true
}

// parseMASIDs finds App Store IDs: labeled IDs anywhere, or bare long
// numbers in a sentence that mentions the App Store.
func parseMASIDs(lower string) []string {
	var ids []string
	for _, m := range reMASLabel.FindAllStringSubmatch(lower, -1) {
		if m[1] != "" {
			ids = append(ids, m[1])
		} else if m[2] != "" {
			ids = append(ids, m[2])
		}
	}
	if len(ids) == 0 && reStoreWord.MatchString(lower) {
		ids = reLongDigit.FindAllString(lower, -1)
	}
	return dedupe(ids)
}

// parseList splits the text after the install verb into targets. It fails
// when any fragment does not look like a package name, so ordinary
// sentences that happen to contain "add" or "get" are left alone.
func parseList(lower string, aliases *AliasTable) ([]InstallTarget, bool) {
	strong := reStrongVerb.MatchString(lower)
	rest, verify := stripVerify(afterVerb(lower))
	rest = reSystemWide.ReplaceAllString(rest, "")
	rest = rePathClause.ReplaceAllString(rest, "")

	var targets []InstallTarget
	seen := map[string]bool{}
	for _, frag := range reListSplit.Split(rest, -1) {
		frag = cleanFragment(frag)
		if frag == "" {
			continue
		}
		t, ok := classifyFragment(frag, strong, aliases)
		if !ok {
			return nil, false
		}
		t.Verify = verify && t.Kind == Formula
		key := t.Kind.String() + ":" + t.Value
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, t)
	}
	return targets, len(targets) > 0
}

func cleanFragment(frag string) string {
	frag = strings.Trim(strings.TrimSpace(frag), ".!?;:\"'`")
	for {
		next := reLeadingFill.ReplaceAllString(frag, "")
		next = strings.TrimSpace(reTrailFill.ReplaceAllString(next, ""))
		if next == frag {
			return frag
		}
		frag = next
	}
}

func classifyFragment(frag string, strong bool, aliases *AliasTable) (InstallTarget, bool) {
	forceCask := false
	if rest, ok := strings.CutPrefix(frag, "cask "); ok {
		forceCask = true
		frag = strings.TrimSpace(rest)
	}
	if !forceCask && reAllDigits.MatchString(frag) {
		return InstallTarget{Kind: MAS, Value: frag}, true
	}

	_, known := aliases.Aliases[frag]
	token, gui := aliases.Resolve(frag)
	if strings.Contains(token, " ") {
		words := strings.Fields(token)
		if (!strong && !known) || len(words) > 4 {
			return InstallTarget{}, false
		}
		for _, w := range words {
			if multiWordStop[w] || !reWord.MatchString(w) {
				return InstallTarget{}, false
			}
		}
		return InstallTarget{Kind: Cask, Value: strings.Join(words, "-")}, true
	}
	if !rePackageTok.MatchString(token) {
		return InstallTarget{}, false
	}
	if forceCask || gui {
		return InstallTarget{Kind: Cask, Value: token}, true
	}
	return InstallTarget{Kind: Formula, Value: token}, true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
