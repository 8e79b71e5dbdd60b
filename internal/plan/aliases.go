package plan

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var builtinAliases []byte

// AliasTable normalizes user phrasings into package tokens.
type AliasTable struct {
	Aliases       map[string]string `yaml:"aliases"`
	GUI           []string          `yaml:"gui"`
	Binaries      map[string]string `yaml:"binaries"`
	GitInstallers map[string]string `yaml:"gitInstallers"`

	gui map[string]bool
}

// LoadAliases parses the built-in table and, when path is non-empty,
// overlays the user's file on top of it. A missing user file is not an
// error.
func LoadAliases(path string) (*AliasTable, error) {
	t := &AliasTable{}
	if err := yaml.Unmarshal(builtinAliases, t); err != nil {
		return nil, fmt.Errorf("parse builtin aliases: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read alias file: %w", err)
		default:
			var user AliasTable
			if err := yaml.Unmarshal(data, &user); err != nil {
				return nil, fmt.Errorf("parse alias file %s: %w", path, err)
			}
			t.merge(&user)
		}
	}
	t.index()
	return t, nil
}

// DefaultAliases returns the built-in table. It panics only if the embedded
// file is malformed.
func DefaultAliases() *AliasTable {
	t, err := LoadAliases("")
	if err != nil {
		panic(err)
	}
	return t
}

func (t *AliasTable) merge(o *AliasTable) {
	if t.Aliases == nil {
		t.Aliases = map[string]string{}
	}
	if t.Binaries == nil {
		t.Binaries = map[string]string{}
	}
	if t.GitInstallers == nil {
		t.GitInstallers = map[string]string{}
	}
	for k, v := range o.Aliases {
		t.Aliases[strings.ToLower(k)] = v
	}
	for k, v := range o.Binaries {
		t.Binaries[k] = v
	}
	for k, v := range o.GitInstallers {
		t.GitInstallers[k] = v
	}
	t.GUI = append(t.GUI, o.GUI...)
}

func (t *AliasTable) index() {
	t.gui = make(map[string]bool, len(t.GUI))
	for _, g := range t.GUI {
		t.gui[g] = true
	}
}

// Resolve maps a free-text name to a package token and reports whether the
// token is a known GUI application.
func (t *AliasTable) Resolve(name string) (token string, gui bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	token = name
	if v, ok := t.Aliases[name]; ok {
		token = v
	}
	return token, t.gui[token]
}

// Binary returns the executable a formula installs.
func (t *AliasTable) Binary(formula string) string {
	if b, ok := t.Binaries[formula]; ok && b != "" {
		return b
	}
	// Versioned formulae such as python@3.12 install the base name.
	if i := strings.IndexByte(formula, '@'); i > 0 {
		return formula[:i]
	}
	if i := strings.LastIndexByte(formula, '/'); i >= 0 {
		return formula[i+1:]
	}
	return formula
}

// GitInstaller returns the install command registered for a repository URL.
// The longest matching key wins so results do not depend on map order.
func (t *AliasTable) GitInstaller(url string) (string, bool) {
	keys := make([]string, 0, len(t.GitInstallers))
	for k := range t.GitInstallers {
		if strings.Contains(url, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return t.GitInstallers[keys[0]], true
}
