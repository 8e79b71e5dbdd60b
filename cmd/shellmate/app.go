package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shellmate/internal/agent"
	"shellmate/internal/config"
	"shellmate/internal/domain"
	"shellmate/internal/intent"
	"shellmate/internal/memory"
	"shellmate/internal/plan"
	"shellmate/internal/provider"
	"shellmate/internal/security"
	"shellmate/internal/shell"
)

// app holds the wired core for one process.
type app struct {
	cfg   *config.Config
	store *memory.SQLiteStore // nil when memory is disabled
	gate  *security.Gate
	llm   *provider.OpenAI
	orch  *agent.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, resumeID string) (*app, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	a := &app{cfg: cfg}
	var (
		convStore  domain.ConversationStore
		auditStore domain.AuditLogger
	)
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		a.store = store
		convStore, auditStore = store, store
	} else if resumeID != "" {
		return nil, fmt.Errorf("cannot resume %s: memory is disabled", resumeID)
	}

	audit := security.NewAuditor(auditStore, cfg.Security.AuditLog, logger)
	policy, err := security.NewPolicy(cfg.Security, audit, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("security policy: %w", err)
	}
	a.gate = security.NewGate(security.GateConfig{
		Timeout: time.Duration(cfg.Security.ConsentTimeoutSeconds) * time.Second,
		Audit:   audit,
		Logger:  logger,
	})

	aliases, err := plan.LoadAliases(cfg.Install.AliasFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	runner := shell.NewRunner(shell.RunnerConfig{Shell: cfg.Execution.Shell, Logger: logger})
	commandTimeout := time.Duration(cfg.Execution.CommandTimeoutSeconds) * time.Second
	temperature := cfg.Provider.Temperature

	a.llm = provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  apiKey(cfg.Provider.APIKey),
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.Model,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	session, err := agent.NewSession(ctx, agent.SessionConfig{
		ID:           resumeID,
		Store:        convStore,
		Model:        cfg.Provider.Model,
		HistoryLimit: cfg.Memory.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open conversation: %w", err)
	}

	a.orch = agent.NewOrchestrator(agent.OrchestratorConfig{
		Session:    session,
		Classifier: intent.NewClassifier(intent.ClassifierConfig{}),
		Builder: plan.NewBuilder(plan.BuilderConfig{
			Probe:          plan.FSProbe{},
			Aliases:        aliases,
			GitDestination: cfg.Install.GitDestination,
			Logger:         logger,
		}),
		Executor: agent.NewPlanExecutor(agent.ExecutorConfig{
			Runner:      runner,
			Gate:        a.gate,
			Audit:       audit,
			OutputLimit: cfg.Execution.StepOutputLimit,
			Logger:      logger,
		}),
		Synthesizer: agent.NewSynthesizer(agent.SynthesizerConfig{
			Client:            a.llm,
			Model:             cfg.Provider.Model,
			Temperature:       &temperature,
			RequestsPerMinute: cfg.Provider.RequestsPerMinute,
			Policy:            policy,
			Gate:              a.gate,
			Runner:            runner,
			Shell:             cfg.Execution.Shell,
			WorkRoot:          filepath.Join(cfg.General.Workspace, "runs"),
			Timeout:           commandTimeout,
			OutputLimit:       cfg.Execution.StreamOutputLimit,
			Logger:            logger,
		}),
		Logger: logger,
	})
	return a, nil
}

func (a *app) Close() {
	if a.gate != nil {
		a.gate.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close memory store", "err", err)
		}
	}
}

// apiKey treats an unexpanded ${VAR} reference as no key.
func apiKey(raw string) string {
	if strings.HasPrefix(raw, "${") {
		return ""
	}
	return raw
}

// openStore opens the conversation database for the read-only commands.
func openStore(cfg *config.Config) (*memory.SQLiteStore, error) {
	if !cfg.Memory.Enabled {
		return nil, fmt.Errorf("memory is disabled (memory.enabled = false)")
	}
	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		return nil, fmt.Errorf("no conversation database at %s", cfg.Memory.DBPath)
	}
	return memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
}
