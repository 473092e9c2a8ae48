package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/chatagent/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		fmt.Fprintln(out, "chatagent setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		ask := func(label, def string) string { return prompt(out, scanner, label, def) }

		cfg.LLM.Provider = ask("LLM provider (openai, anthropic)", cfg.LLM.Provider)
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.BaseURL = ask("LLM base URL", cfg.LLM.BaseURL)
		}
		cfg.LLM.APIKey = ask("LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask("LLM model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(ask("Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}
		cfg.HTTP.Listen = ask("HTTP listen address", cfg.HTTP.Listen)
		cfg.HTTP.Mode = ask("Default reply mode (sync, stream)", cfg.HTTP.Mode)
		cfg.Brave.APIKey = ask("Brave API key for web search (optional)", cfg.Brave.APIKey)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(w io.Writer, scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(w, "%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
