package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/tools"
)

// resumeCurrent is the --resume value when no id is given.
const resumeCurrent = "current"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Chat with the model, one prompt per line. Ctrl-C cancels the running
prompt; Ctrl-D or /exit leaves.

Commands:
  /clear            forget the conversation so far
  /mode <mode>      switch approval mode (default, auto_edit, yolo)
  /exit             leave

Examples:
  noma chat
  noma chat --resume               # continue the last session
  noma chat --resume=<session-id>`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var (
	chatFlags  promptFlags
	chatResume string
)

func init() {
	chatFlags.register(chatCmd)
	chatCmd.Flags().StringVarP(&chatResume, "resume", "r", "", "Resume a session (the last one, or --resume=<id>)")
	chatCmd.Flags().Lookup("resume").NoOptDefVal = resumeCurrent
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	return startChat(cmd, chatResume)
}

// startChat runs the chat loop, resuming resume when it is set.
func startChat(cmd *cobra.Command, resume string) error {
	opts, err := chatFlags.agentOptions()
	if err != nil {
		return err
	}
	if resume != "" {
		opts.resume = true
		if resume != resumeCurrent {
			opts.resumeID = resume
		}
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

	ctx := cmd.Context()
	a, err := newAgent(ctx, cfg, logger, opts)
	if err != nil {
		return llm.ToFriendlyError(err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	con := newConsole(out, a.scheduler, logger, interactive, chatFlags.markdown, chatFlags.thoughts)

	styles := con.renderer.styles
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("%s · %s · session %s", cfg.Provider, cfg.ActiveModel(), shortID(a.session.ID))))
	if n := len(a.client.Chat().History(false)); n > 0 {
		fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("resumed with %d messages", n)))
	}

	return chatLoop(ctx, a, con, cmd.InOrStdin(), out)
}

func chatLoop(ctx context.Context, a *agent, con *console, in io.Reader, out io.Writer) error {
	styles := con.renderer.styles
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, styles.Highlighted.Render("❯ "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := chatCommand(a, line, out)
			if err != nil {
				fmt.Fprintln(out, styles.Error.Render(err.Error()))
			}
			if done {
				return nil
			}
			continue
		}

		promptCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := a.prompt(promptCtx, line, con.handle)
		stop()
		con.finish()
		if err != nil {
			if llm.IsUnauthorized(err) {
				return llm.ToFriendlyError(err)
			}
			fmt.Fprintln(out, styles.Error.Render(llm.ToFriendlyError(err).Error()))
		}
	}
}

// chatCommand handles a slash command; done means leave the loop.
func chatCommand(a *agent, line string, out io.Writer) (done bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/clear":
		if err := a.client.ClearHistory(); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "history cleared")
	case "/mode":
		switch arg {
		case config.ApprovalDefault, config.ApprovalAutoEdit, config.ApprovalYolo:
			a.scheduler.SetApprovalMode(tools.ApprovalMode(arg))
			fmt.Fprintf(out, "approval mode: %s\n", arg)
		default:
			return false, fmt.Errorf("usage: /mode default|auto_edit|yolo")
		}
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}
