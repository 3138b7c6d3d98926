package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/llm"
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Run one prompt to completion",
	Long: `Send a prompt and let the model work until it stops asking for tools.

Piped input is appended to the prompt. Tool calls that need approval are
denied when stdin is not a terminal, unless --yolo is given.

Examples:
  noma ask "list the TODOs in this repo"
  git diff | noma ask "review this change" --markdown
  noma ask --yolo "run the tests and fix what fails"`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

// Flags shared by ask and chat
type promptFlags struct {
	markdown     bool
	thoughts     bool
	yolo         bool
	approvalMode string
	noSession    bool
	noTools      bool
}

func (f *promptFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.markdown, "markdown", false, "Render model output as markdown")
	cmd.Flags().BoolVar(&f.thoughts, "thoughts", false, "Show model thoughts")
	cmd.Flags().BoolVarP(&f.yolo, "yolo", "y", false, "Run every tool call without asking")
	cmd.Flags().StringVar(&f.approvalMode, "approval-mode", "", "Approval mode: default, auto_edit or yolo")
	cmd.Flags().BoolVar(&f.noSession, "no-session", false, "Do not store this conversation")
	cmd.Flags().BoolVar(&f.noTools, "no-tools", false, "Disable all tools")
}

func (f *promptFlags) agentOptions() (agentOptions, error) {
	opts := agentOptions{
		approvalMode: f.approvalMode,
		noSession:    f.noSession,
		noTools:      f.noTools,
	}
	if f.yolo {
		opts.approvalMode = config.ApprovalYolo
	}
	switch opts.approvalMode {
	case "", config.ApprovalDefault, config.ApprovalAutoEdit, config.ApprovalYolo:
	default:
		return opts, fmt.Errorf("invalid approval mode %q", opts.approvalMode)
	}
	return opts, nil
}

var askFlags promptFlags

func init() {
	askFlags.register(askCmd)
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	if !stdinTTY {
		piped, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		prompt = joinPrompt(prompt, string(piped))
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("nothing to ask: give a prompt or pipe input")
	}

	opts, err := askFlags.agentOptions()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newAgent(ctx, cfg, logger, opts)
	if err != nil {
		return llm.ToFriendlyError(err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	con := newConsole(out, a.scheduler, logger, stdinTTY, askFlags.markdown, askFlags.thoughts)
	err = a.prompt(ctx, prompt, con.handle)
	con.finish()
	if err != nil {
		return llm.ToFriendlyError(err)
	}
	return nil
}

// joinPrompt appends piped input to the prompt.
func joinPrompt(prompt, piped string) string {
	piped = strings.TrimRight(piped, "\n")
	switch {
	case piped == "":
		return prompt
	case prompt == "":
		return piped
	}
	return prompt + "\n\n" + piped
}
