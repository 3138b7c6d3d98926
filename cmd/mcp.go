package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/mcp"
	"github.com/samsaffron/noma/internal/ui"
)

const mcpStartTimeout = 30 * time.Second

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP (Model Context Protocol) servers",
	Long: `Inspect the MCP servers configured under mcp.servers.

Examples:
  noma mcp list                    # list configured servers
  noma mcp test filesystem         # start a server and list its tools`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "Start every enabled server and show its status and tools",
	RunE:  mcpList,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test an MCP server connection",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpTest,
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpTestCmd)
	rootCmd.AddCommand(mcpCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cfg.MCP.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Add one under mcp.servers in the config file.")
		return nil
	}

	logger, closeLog, err := setupLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	manager := mcp.NewManager(cfg.MCP.Servers, logger)
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpStartTimeout)
	defer cancel()
	manager.StartAll(ctx)
	defer manager.StopAll()

	printServerStates(out, ui.NewStyles(out), cfg.MCP.Servers, manager.States(), manager.Tools())
	return nil
}

func printServerStates(out io.Writer, styles *ui.Styles, servers map[string]config.MCPServerConfig, states []mcp.ServerState, tools []*mcp.Tool) {
	fmt.Fprintf(out, "Configured MCP servers (%d):\n\n", len(states))
	for _, st := range states {
		line := fmt.Sprintf("  %s  %s", st.Name, st.Status)
		switch st.Status {
		case mcp.StatusReady:
			line = styles.FormatResult(true, fmt.Sprintf("%s  %d tools", st.Name, st.Tools))
		case mcp.StatusFailed:
			line = styles.FormatResult(false, fmt.Sprintf("%s  %s", st.Name, st.Error))
		case mcp.StatusDisabled:
			line = styles.Muted.Render(line)
		}
		fmt.Fprintln(out, line)

		server := servers[st.Name]
		fmt.Fprintf(out, "    command: %s %s\n", server.Command, strings.Join(server.Args, " "))
		if len(server.Env) > 0 {
			fmt.Fprintf(out, "    env: %d variables\n", len(server.Env))
		}
		prefix := st.Name + "__"
		for _, t := range tools {
			if name := t.Declaration().Name; strings.HasPrefix(name, prefix) {
				fmt.Fprintf(out, "    - %s\n", name)
			}
		}
	}
}

func mcpTest(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	serverCfg, ok := cfg.MCP.Servers[name]
	if !ok {
		return fmt.Errorf("server '%s' not found in config", name)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Testing MCP server '%s'...\n", name)
	fmt.Fprintf(out, "  command: %s %s\n\n", serverCfg.Command, strings.Join(serverCfg.Args, " "))

	client := mcp.NewClient(name, serverCfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpStartTimeout)
	defer cancel()

	fmt.Fprint(out, "Starting server...")
	if err := client.Start(ctx); err != nil {
		fmt.Fprintln(out, " FAILED")
		return fmt.Errorf("start server: %w", err)
	}
	fmt.Fprintln(out, " OK")
	defer client.Stop()

	specs := client.Tools()
	fmt.Fprintf(out, "\nAvailable tools (%d):\n", len(specs))
	for _, t := range specs {
		fmt.Fprintf(out, "  - %s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(out, "    %s\n", ui.Truncate(oneLine(t.Description), 60))
		}
	}
	fmt.Fprintf(out, "\nServer '%s' is working correctly.\n", name)
	return nil
}
