package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/.shellmate/workspace",
			LogLevel:  "info",
		},
		Provider: ProviderConfig{
			APIBase:           "https://api.openai.com/v1",
			APIKey:            "${OPENAI_API_KEY}",
			Model:             "gpt-4o-mini",
			Temperature:       0.2,
			RequestsPerMinute: 20,
			TimeoutSeconds:    120,
		},
		Memory: MemoryConfig{
			Enabled:      true,
			DBPath:       "~/.shellmate/shellmate.db",
			HistoryLimit: 50,
		},
		Security: SecurityConfig{
			Blacklist: defaultBlacklist(),
			AuditLog:  true,
		},
		Execution: ExecutionConfig{
			Shell:                 "/bin/bash",
			CommandTimeoutSeconds: 300,
			StepOutputLimit:       4000,
			StreamOutputLimit:     8000,
		},
		Install: InstallConfig{
			GitDestination: "/usr/local/src",
		},
	}
}

// defaultBlacklist holds commands refused outright. Entries without regex
// metacharacters match as case-insensitive substrings.
func defaultBlacklist() []string {
	return []string{
		`rm\s+-[a-zA-Z]*[rR][a-zA-Z]*\s+(?:--no-preserve-root\s+)?/(?:\*|\s|$)`,
		`rm\s+-[a-zA-Z]*[rR][a-zA-Z]*\s+~/?(?:\*|\s|$)`,
		"mkfs",
		`dd\s+.*of=/dev/(?:disk|rdisk|sd|nvme)`,
		`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
		`chmod\s+-R\s+777\s+/(?:\s|$)`,
		`mv\s+/\*?\s+/dev/null`,
		`>\s*/dev/(?:disk|rdisk|sd[a-z]|nvme)`,
		"diskutil eraseDisk",
	}
}
