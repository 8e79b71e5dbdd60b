package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toMap round-trips cfg through its JSON form so settings can be addressed
// by their file keys.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath returns a setting by dot path, e.g. "provider.model" or
// "security.blacklist.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown setting: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath replaces one scalar setting. The value string is parsed as a
// bool or number when it looks like one. Unknown paths are rejected, and
// the result must pass Validate.
func SetByPath(cfg *Config, path, value string) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown setting: %s", path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	old, ok := parent[last]
	if !ok {
		return fmt.Errorf("unknown setting: %s", path)
	}
	switch old.(type) {
	case map[string]any, []any:
		return fmt.Errorf("%s is not a single value", path)
	}
	parent[last] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", path, err)
	}
	if err := Validate(&updated); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with the API key masked. An unexpanded
// ${VAR} reference is shown as is.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Security.Blacklist = append([]string(nil), cfg.Security.Blacklist...)
	if k := out.Provider.APIKey; k != "" && !strings.HasPrefix(k, "${") {
		out.Provider.APIKey = maskString(k)
	}
	return &out
}

// maskString shows the first 4 and last 4 characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every setting as "path = value" lines, sorted by path.
func ListPaths(cfg *Config) []string {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	flat := make(map[string]any)
	flattenMap("", m, flat)

	lines := make([]string, 0, len(flat))
	for path, v := range flat {
		b, _ := json.Marshal(v)
		lines = append(lines, path+" = "+string(b))
	}
	sort.Strings(lines)
	return lines
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenMap(path, sub, result)
			continue
		}
		result[path] = v
	}
}
