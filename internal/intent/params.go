package intent

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultDepth = 3
	MinDepth     = 1
	MaxDepth     = 8
)

var reDepth = regexp.MustCompile(`(?:\bdepth|\blevels?|-l)\s*(?:of|=|:)?\s*(\d+)|\b(\d+)\s*(?:levels?|deep)\b`)

// ParseDepth extracts a tree depth from lower-cased text, clamped to
// [MinDepth, MaxDepth]. It returns DefaultDepth when none is given.
func ParseDepth(lower string) int {
	m := reDepth.FindStringSubmatch(lower)
	if m == nil {
		return DefaultDepth
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Only overflow gets here; the regex guarantees digits.
		return MaxDepth
	}
	return min(max(n, MinDepth), MaxDepth)
}

var (
	rootKeywords = map[string]bool{"from": true, "root": true, "rooted": true}
	rootStop     = map[string]bool{"to": true, "on": true, "at": true, "with": true, "depth": true, "into": true, "levels": true, "level": true}
	rootLead     = map[string]bool{"at": true, "in": true, "of": true, "the": true, "my": true, "directory": true, "folder": true, "dir": true, "path": true}
)

const rootPunct = "\"'`,.;:!?()"

// ParseRoot finds the directory named after "from" or "root" in text and
// returns it with ~ expanded against home. Bare words after "from" are
// taken relative to home; "root" without a path means "/". It returns ""
// when no directory is named.
func ParseRoot(text, home string) string {
	tokens := strings.Fields(text)
	for i := 0; i < len(tokens); i++ {
		kw := strings.ToLower(strings.Trim(tokens[i], rootPunct))
		if !rootKeywords[kw] {
			continue
		}
		j := i + 1
		for j < len(tokens) && rootLead[strings.ToLower(strings.Trim(tokens[j], rootPunct))] {
			j++
		}
		var parts []string
		for ; j < len(tokens); j++ {
			if rootStop[strings.ToLower(strings.Trim(tokens[j], rootPunct))] {
				break
			}
			parts = append(parts, tokens[j])
		}
		p := strings.Trim(strings.Join(parts, " "), rootPunct)
		switch {
		case p == "" && kw != "from":
			return "/"
		case p == "":
			continue
		case strings.EqualFold(p, "root"):
			return "/"
		case kw != "from" && !strings.ContainsAny(p[:1], "/~."):
			// "root tree", "root directory": the filesystem root.
			return "/"
		}
		return expandPath(p, home)
	}
	return ""
}

func expandPath(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(home, p[2:])
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(home, p)
	}
}
