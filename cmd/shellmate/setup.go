package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"shellmate/internal/config"

	"github.com/spf13/cobra"
)

// endpointMeta describes an OpenAI-compatible endpoint offered by setup.
type endpointMeta struct {
	Name         string
	NeedsKey     bool
	EnvVar       string
	APIBase      string
	DefaultModel string
}

var knownEndpoints = []endpointMeta{
	{Name: "openai", NeedsKey: true, EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	{Name: "ollama", APIBase: "http://localhost:11434/v1", DefaultModel: "llama3.1:8b"},
	{Name: "lmstudio", APIBase: "http://localhost:1234/v1", DefaultModel: "local-model"},
	{Name: "openrouter", NeedsKey: true, EnvVar: "OPENROUTER_API_KEY", APIBase: "https://openrouter.ai/api/v1", DefaultModel: "openai/gpt-4o-mini"},
	{Name: "groq", NeedsKey: true, EnvVar: "GROQ_API_KEY", APIBase: "https://api.groq.com/openai/v1", DefaultModel: "llama-3.3-70b-versatile"},
	{Name: "deepseek", NeedsKey: true, EnvVar: "DEEPSEEK_API_KEY", APIBase: "https://api.deepseek.com/v1", DefaultModel: "deepseek-chat"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: workspace, model endpoint, API key",
		Long:  "Guides you through the workspace path and the OpenAI-compatible endpoint used for command synthesis, then writes the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'shellmate doctor', then 'shellmate chat'.")
			return nil
		},
	}
}

// runSetup asks the setup questions and updates cfg in place.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Workspace ---")
	fmt.Fprint(out, "Directory for run directories and command output")
	ws, err := prompt(cfg.General.Workspace)
	if err != nil {
		return err
	}
	cfg.General.Workspace = ws
	if err := os.MkdirAll(config.ExpandPath(ws), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Fprintln(out, "\n--- Step 2: Model endpoint ---")
	defNum := "1"
	for i, e := range knownEndpoints {
		fmt.Fprintf(out, "  %d) %s (%s)\n", i+1, e.Name, e.APIBase)
		if e.APIBase == cfg.Provider.APIBase {
			defNum = fmt.Sprint(i + 1)
		}
	}
	fmt.Fprintf(out, "Choose endpoint (1-%d)", len(knownEndpoints))
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownEndpoints) {
		idx = 1
	}
	ep := knownEndpoints[idx-1]
	if cfg.Provider.APIBase != ep.APIBase {
		cfg.Provider.Model = ep.DefaultModel
	}
	cfg.Provider.APIBase = ep.APIBase

	fmt.Fprint(out, "Model")
	model, err := prompt(cfg.Provider.Model)
	if err != nil {
		return err
	}
	cfg.Provider.Model = model

	if ep.NeedsKey {
		fmt.Fprintf(out, "API key: paste the key or an env var reference")
		key, err := prompt("${" + ep.EnvVar + "}")
		if err != nil {
			return err
		}
		cfg.Provider.APIKey = key
	} else {
		cfg.Provider.APIKey = ""
	}
	fmt.Fprintf(out, "  Using %s with model %s\n", ep.Name, cfg.Provider.Model)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
