// Command ratchet-console is a read-only terminal dashboard (SPEC_FULL.md
// §1 [EXPANSION]): it connects to a running coordinator's streamable-HTTP
// MCP endpoint, lists jobs/executions, and renders live progress via the
// notifications/task/progress SSE stream.
//
// Grounded on the teacher's cmd/ package cobra idiom (cmd/playground.go)
// for the command tree, and playground.go's tea.NewProgram(..., altscreen)
// launch shape.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ratchetdata/ratchet/internal/console"
)

var (
	addr  string
	token string
)

var rootCmd = &cobra.Command{
	Use:   "ratchet-console",
	Short: "Read-only terminal dashboard for a Ratchet coordinator",
	Long:  `ratchet-console connects to a running ratchetd coordinator and displays jobs, executions, and live progress.`,
	RunE:  runConsole,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:7733", "coordinator MCP streamable-HTTP base URL")
	rootCmd.Flags().StringVar(&token, "token", "", "bearer token, if the coordinator requires auth")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	model := console.New(addr, token)
	p := tea.NewProgram(&model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running console: %w", err)
	}
	return nil
}
