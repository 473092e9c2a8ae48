package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionCmd, healthCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
	sessionCmd.PersistentFlags().String("server", "", "server URL (defaults to http.listen)")
	healthCmd.Flags().String("server", "", "server URL (defaults to http.listen)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions on a running server",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := clientFor(cmd).Sessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tCREATED\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				s.SessionID,
				s.MessageCount,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the message history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := clientFor(cmd).Messages(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("show session: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, m := range messages {
			switch {
			case len(m.ToolCalls) > 0:
				for _, tc := range m.ToolCalls {
					fmt.Fprintf(out, "%s: -> %s(%s)\n", m.Role, tc.Function.Name, tc.Function.Arguments)
				}
			case m.ToolCallID != "":
				fmt.Fprintf(out, "%s [%s]: %s\n", m.Role, m.ToolCallID, m.Content)
			default:
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clientFor(cmd).Health(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}
