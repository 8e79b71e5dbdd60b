package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for shellmate.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Provider  ProviderConfig  `json:"provider"`
	Memory    MemoryConfig    `json:"memory"`
	Security  SecurityConfig  `json:"security"`
	Execution ExecutionConfig `json:"execution"`
	Install   InstallConfig   `json:"install"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

// ProviderConfig points at an OpenAI-compatible chat completions endpoint.
type ProviderConfig struct {
	APIBase           string  `json:"apiBase"`
	APIKey            string  `json:"apiKey,omitempty"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	RequestsPerMinute int     `json:"requestsPerMinute"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
}

type MemoryConfig struct {
	Enabled      bool   `json:"enabled"`
	DBPath       string `json:"dbPath"`
	HistoryLimit int    `json:"historyLimit"`
}

type SecurityConfig struct {
	Blacklist             []string `json:"blacklist"`
	AuditLog              bool     `json:"auditLog"`
	ConsentTimeoutSeconds int      `json:"consentTimeoutSeconds"` // 0 = wait forever
}

type ExecutionConfig struct {
	Shell                 string `json:"shell"`
	CommandTimeoutSeconds int    `json:"commandTimeoutSeconds"`
	StepOutputLimit       int    `json:"stepOutputLimit"`
	StreamOutputLimit     int    `json:"streamOutputLimit"`
}

type InstallConfig struct {
	AliasFile      string `json:"aliasFile,omitempty"` // extra YAML alias table merged over the built-in one
	GitDestination string `json:"gitDestination"`
}

// DefaultConfigDir returns the default config directory (~/.shellmate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellmate"
	}
	return filepath.Join(home, ".shellmate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Install.AliasFile = ExpandPath(cfg.Install.AliasFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may hold an API key.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Provider.Model == "" {
		errs = append(errs, "provider.model is required")
	}
	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, "provider.temperature must be between 0 and 2")
	}
	if cfg.Provider.RequestsPerMinute < 1 {
		errs = append(errs, "provider.requestsPerMinute must be >= 1")
	}
	if cfg.Provider.TimeoutSeconds < 1 {
		errs = append(errs, "provider.timeoutSeconds must be >= 1")
	}

	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}
	if cfg.Memory.HistoryLimit < 1 {
		errs = append(errs, "memory.historyLimit must be >= 1")
	}

	if cfg.Security.ConsentTimeoutSeconds < 0 {
		errs = append(errs, "security.consentTimeoutSeconds must be >= 0")
	}
	for _, p := range cfg.Security.Blacklist {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, "security.blacklist must not contain empty patterns")
			break
		}
	}

	if cfg.Execution.CommandTimeoutSeconds < 1 {
		errs = append(errs, "execution.commandTimeoutSeconds must be >= 1")
	}
	if cfg.Execution.StepOutputLimit < 256 {
		errs = append(errs, "execution.stepOutputLimit must be >= 256")
	}
	if cfg.Execution.StreamOutputLimit < 256 {
		errs = append(errs, "execution.streamOutputLimit must be >= 256")
	}

	if !filepath.IsAbs(cfg.Install.GitDestination) {
		errs = append(errs, "install.gitDestination must be an absolute path")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
