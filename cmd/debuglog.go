package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samsaffron/noma/internal/debuglog"
)

var debugLogCmd = &cobra.Command{
	Use:     "debuglog",
	Aliases: []string{"debug-log"},
	Short:   "Inspect the request/response logs written with --debug",
	Long: `Logs are written to $XDG_DATA_HOME/noma/debug, one file per session.

Examples:
  noma debuglog list
  noma debuglog show            # most recent
  noma debuglog show 3 --content
  noma debuglog show <session-id> --raw`,
	RunE: runDebugLogList, // Default to list
}

var debugLogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged sessions, most recent first",
	RunE:  runDebugLogList,
}

var debugLogShowCmd = &cobra.Command{
	Use:   "show [index|session-id]",
	Short: "Show one logged session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDebugLogShow,
}

var (
	debugLogContent    bool
	debugLogRequests   bool
	debugLogTimestamps bool
	debugLogRaw        bool
)

func init() {
	debugLogShowCmd.Flags().BoolVar(&debugLogContent, "content", false, "Show streamed text and response bodies")
	debugLogShowCmd.Flags().BoolVar(&debugLogRequests, "requests", false, "Only show requests")
	debugLogShowCmd.Flags().BoolVar(&debugLogTimestamps, "timestamps", false, "Prefix entries with timestamps")
	debugLogShowCmd.Flags().BoolVar(&debugLogRaw, "raw", false, "Print the JSON lines unchanged")

	debugLogCmd.AddCommand(debugLogListCmd)
	debugLogCmd.AddCommand(debugLogShowCmd)
	rootCmd.AddCommand(debugLogCmd)
}

func runDebugLogList(cmd *cobra.Command, args []string) error {
	dir, err := debuglog.DefaultDir()
	if err != nil {
		return err
	}
	sessions, err := debuglog.ListSessions(dir)
	if err != nil {
		return fmt.Errorf("list debug logs: %w", err)
	}
	debuglog.FormatSessionList(cmd.OutOrStdout(), sessions)
	return nil
}

func runDebugLogShow(cmd *cobra.Command, args []string) error {
	identifier := "1"
	if len(args) > 0 {
		identifier = args[0]
	}
	dir, err := debuglog.DefaultDir()
	if err != nil {
		return err
	}
	summary, err := debuglog.ResolveSession(dir, identifier)
	if err != nil {
		return fmt.Errorf("list debug logs: %w", err)
	}
	if summary == nil {
		return fmt.Errorf("no debug log matches %q (see 'noma debuglog list')", identifier)
	}

	out := cmd.OutOrStdout()
	if debugLogRaw {
		lines, err := debuglog.ParseRawLines(summary.FilePath)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if !json.Valid(line) {
				continue
			}
			fmt.Fprintln(out, string(line))
		}
		return nil
	}

	sess, err := debuglog.ParseSession(summary.FilePath)
	if err != nil {
		return fmt.Errorf("parse %s: %w", summary.FilePath, err)
	}
	debuglog.FormatSession(out, sess, debuglog.FormatOptions{
		ShowContent:   debugLogContent,
		RequestsOnly:  debugLogRequests,
		ShowTimestamp: debugLogTimestamps,
	})
	return nil
}
