package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"futures-trading-agent/internal/auth"
)

var (
	serverURL string
	token     string
	rawOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Operator console for the futures trading agent",
		Long: `agentctl talks to a running agent over its HTTP API. Read commands
work without a token; control commands need one when auth is enabled.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENT_URL", "http://localhost:8080"), "agent API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("AGENT_TOKEN"), "operator access token")
	rootCmd.PersistentFlags().BoolVar(&rawOutput, "raw", false, "print the response body unformatted")

	rootCmd.AddCommand(
		getCmd("status", "Show scheduler state, flags and account summary", "/api/status"),
		getCmd("positions", "List open positions", "/api/positions"),
		getCmd("messages", "Show recent agent messages", "/api/messages"),
		getCmd("risk", "Show risk gate counters", "/api/risk"),
		getCmd("health", "Check the agent and its backing services", "/api/health"),
		tradesCmd(),
		loginCmd(),
		controlCmd("pause", "Pause new entries; protective exits keep running", "/api/control/pause"),
		controlCmd("resume", "Resume trading", "/api/control/resume"),
		controlCmd("emergency-close", "Close every position on the next cycle", "/api/control/emergency-close"),
		controlCmd("reset-breaker", "Reset the circuit breaker", "/api/control/circuit-breaker/reset"),
		hashPasswordCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient().get(cmd.Context(), path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func tradesCmd() *cobra.Command {
	var (
		symbol string
		limit  int
		fromDB bool
	)
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List closed trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := fmt.Sprintf("/api/trades?limit=%d", limit)
			if symbol != "" {
				q += "&symbol=" + strings.ToUpper(symbol)
			}
			if fromDB {
				q += "&source=db"
			}
			body, err := newClient().get(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "only trades for this symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of trades")
	cmd.Flags().BoolVar(&fromDB, "db", false, "read from the trade database instead of memory")
	return cmd
}

func loginCmd() *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an operator access token",
		Long:  "Prints an access token. Export it as AGENT_TOKEN for control commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("AGENT_PASSWORD")
			}
			resp, err := newClient().login(cmd.Context(), auth.LoginRequest{Username: user, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.AccessToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "operator", "operator user name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "operator password (default $AGENT_PASSWORD)")
	return cmd
}

func controlCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient().post(cmd.Context(), path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for the operator password setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0], cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the default)")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
