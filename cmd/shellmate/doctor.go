package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shellmate/internal/config"
	"shellmate/internal/domain"
	"shellmate/internal/plan"
	"shellmate/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your shellmate installation",
		Long: `Verifies that the configuration, database, shell, Homebrew and model
endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("shellmate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'shellmate init' or 'shellmate setup' to create one.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			if info, err := os.Stat(cfg.General.Workspace); err != nil {
				printWarn("Workspace", fmt.Sprintf("not found: %s (created on first run)", cfg.General.Workspace))
				warned++
			} else if !info.IsDir() {
				printFail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
				failed++
			} else {
				printPass("Workspace", cfg.General.Workspace)
				passed++
			}

			if cfg.Memory.Enabled {
				if err := checkDatabase(cfg.Memory.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Memory.DBPath)
					passed++
				}
			} else {
				printWarn("Database", "memory disabled; conversations are not kept")
				warned++
			}

			if err := checkExecutable(cfg.Execution.Shell); err != nil {
				printFail("Shell", err.Error())
				failed++
			} else {
				printPass("Shell", cfg.Execution.Shell)
				passed++
			}

			if brew, ok := (plan.FSProbe{}).BrewPath(); ok {
				printPass("Homebrew", brew)
				passed++
			} else {
				printWarn("Homebrew", "not installed; install plans will bootstrap it")
				warned++
			}

			if _, err := plan.LoadAliases(cfg.Install.AliasFile); err != nil {
				printFail("Alias table", err.Error())
				failed++
			} else if cfg.Install.AliasFile != "" {
				printPass("Alias table", cfg.Install.AliasFile)
				passed++
			}

			switch err := checkProvider(cmd.Context(), cfg, offline); {
			case err == nil && offline:
				printPass("Model endpoint", cfg.Provider.APIBase+" (not contacted)")
				passed++
			case err == nil:
				printPass("Model endpoint", fmt.Sprintf("%s (%s)", cfg.Provider.APIBase, cfg.Provider.Model))
				passed++
			case errors.Is(err, domain.ErrMissingCredential):
				printWarn("Model endpoint", "no API key; only install, tree and time requests will work")
				warned++
			default:
				printWarn("Model endpoint", err.Error())
				warned++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running shellmate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nshellmate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip contacting the model endpoint")
	return cmd
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func checkProvider(ctx context.Context, cfg *config.Config, offline bool) error {
	key := apiKey(cfg.Provider.APIKey)
	llm := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  key,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.Model,
		Timeout: 10 * time.Second,
		Logger:  logger,
	})
	if offline {
		if key == "" && cfg.Provider.APIBase == config.Defaults().Provider.APIBase {
			return domain.ErrMissingCredential
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return llm.Healthy(ctx)
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
