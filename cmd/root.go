package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/noma/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "noma",
	Short: "A coding agent for the terminal",
	Long: `noma talks to a language model and lets it read, write and run things
in your working directory, asking before anything with side effects.

Examples:
  noma ask "why does the build fail?"
  noma ask -p anthropic "summarise README.md" --markdown
  noma chat                             # interactive session
  noma chat --resume                    # continue the last session

  noma sessions                         # stored conversations
  noma config show                      # effective configuration`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

// Persistent flags
var (
	configFile   string
	providerFlag string
	modelFlag    string
	debugFlag    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/noma/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "Override provider, optionally with model (e.g., gemini:gemini-2.5-pro)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Override model")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Debug logging and a JSONL log of every request")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env files and the config, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	provider, model := parseProviderFlag(providerFlag)
	if modelFlag != "" {
		model = modelFlag
	}
	cfg.ApplyOverrides(provider, model)
	if debugFlag {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseProviderFlag splits "provider:model"; the model part is optional.
func parseProviderFlag(s string) (provider, model string) {
	provider, model, _ = strings.Cut(strings.TrimSpace(s), ":")
	return provider, model
}

// setupLogging installs the default logger: warnings on stderr, or
// everything from debug up when debugging. log_file redirects it.
func setupLogging(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}

	out := stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
