package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("server", "", "server URL (defaults to http.listen)")
	chatCmd.Flags().String("session", "", "continue an existing session")
	chatCmd.Flags().Bool("stream", false, "stream the reply as it is generated")
	chatCmd.Flags().Bool("tools", false, "print the tools used for each reply")
}

func clientFor(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		addr = loadConfig().HTTP.Listen
	}
	return newAPIClient(serverURL(addr))
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with a running server",
	Long: "Send one message, or start an interactive conversation when no message is given.\n" +
		"The session is kept across lines of the interactive conversation.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := clientFor(cmd)
		sessionID, _ := cmd.Flags().GetString("session")
		stream, _ := cmd.Flags().GetBool("stream")
		showTools, _ := cmd.Flags().GetBool("tools")
		out := cmd.OutOrStdout()

		turn := func(message string) error {
			var err error
			sessionID, err = sendTurn(cmd, client, out, sessionID, message, stream, showTools)
			return err
		}

		if len(args) == 1 {
			if err := turn(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
			return nil
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if err := turn(line); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
		}
	},
}

func sendTurn(cmd *cobra.Command, client *apiClient, out io.Writer, sessionID, message string, stream, showTools bool) (string, error) {
	ctx := cmd.Context()
	if stream {
		sid, err := client.ChatStream(ctx, sessionID, message, func(s string) { fmt.Fprint(out, s) })
		fmt.Fprintln(out)
		if sid == "" {
			sid = sessionID
		}
		return sid, err
	}

	reply, err := client.Chat(ctx, sessionID, message)
	if err != nil {
		return sessionID, err
	}
	if showTools {
		for _, tc := range reply.ToolCalls {
			fmt.Fprintf(out, "[%s] %v\n", tc.ToolName, tc.ToolInput)
		}
	}
	fmt.Fprintln(out, reply.Reply)
	return string(reply.SessionID), nil
}
