// Package commands implements the agentx-subagentctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the client used for every admin API request.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the agentx-subagentd admin endpoint (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for agentx-subagentctl.
var rootCmd = &cobra.Command{
	Use:   "agentx-subagentctl",
	Short: "CLI client for the agentx-subagentd daemon",
	Long:  "agentx-subagentctl queries the agentx-subagentd admin HTTP API to inspect session, region, and SET-transaction state.",
	// Silence cobra's built-in usage/error printing; we report errors ourselves.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"agentx-subagentd admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(regionsCmd())
	rootCmd.AddCommand(setTransactionsCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// getJSON fetches path from the admin API and decodes its JSON body into v.
func getJSON(path string, v any) error {
	resp, err := httpClient.Get("http://" + serverAddr + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %s", path, resp.Status)
	}
	if err := decodeJSON(resp.Body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
