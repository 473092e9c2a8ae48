package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatagent/internal/config"
	ctxengine "github.com/user/chatagent/internal/context"
	"github.com/user/chatagent/internal/gateway"
	"github.com/user/chatagent/internal/metrics"
	"github.com/user/chatagent/internal/runtime"
	"github.com/user/chatagent/internal/runtime/tools"
	"github.com/user/chatagent/internal/server"
	"github.com/user/chatagent/internal/state"
	"github.com/user/chatagent/internal/tracing"
	"github.com/user/chatagent/internal/turn"
	"github.com/user/chatagent/pkg/llm"
	"github.com/user/chatagent/pkg/llm/anthropic"
	"github.com/user/chatagent/pkg/llm/openai"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "listen address (overrides http.listen)")
	serveCmd.Flags().String("mode", "", "default reply mode for /api/chat: sync or stream")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDFile()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	llmCfg := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		// The OpenAI default base URL is meaningless to the Anthropic SDK.
		if llmCfg.BaseURL == config.Default().LLM.BaseURL {
			llmCfg.BaseURL = ""
		}
		return anthropic.New(llmCfg)
	default:
		return openai.New(llmCfg), nil
	}
}

func newRegistry(cfg *config.Config) (*runtime.Registry, error) {
	registry := runtime.NewRegistry()
	if cfg.Brave.APIKey == "" {
		slog.Warn("no brave.api_key: search tool answers with a placeholder")
	}
	for _, t := range []runtime.Tool{
		tools.NewCalculator(),
		tools.NewSearch(cfg.Brave.APIKey),
		tools.NewReadURL(),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.HTTP.Mode = mode
	}
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "chatagent",
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	provider, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.SystemPromptPath)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	sessions := state.NewSessionStore()
	m := metrics.New(sessions.Len)

	retry := runtime.DefaultRetryPolicy()
	retry.MaxAttempts = max(cfg.LLM.RetryAttempts, 1)

	rt := runtime.New(provider, engine, registry, cfg.MaxToolRounds, retry, m)
	executor := turn.NewExecutor(rt, m, engine.CountTokens)
	gw := gateway.New(sessions, executor, int64(cfg.MaxConcurrent))

	srv := server.NewServer(gw, server.Options{Mode: cfg.HTTP.Mode, Metrics: m.Handler()})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("chatagent started",
		"listen", cfg.HTTP.Listen,
		"mode", cfg.HTTP.Mode,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tools", registry.Names(),
		"tracing", cfg.Tracing.Endpoint != "",
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var restart bool
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
		restart = sig == syscall.SIGHUP
	}

	// Refuse new turns, then let in-flight ones finish.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !gw.Stop(shutdownTimeout) {
		slog.Warn("in-flight turns did not finish before shutdown timeout")
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}

	if restart {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("get executable path: %w", err)
		}
		os.Remove(pidPath)
		slog.Info("re-executing", "path", execPath)
		return syscall.Exec(execPath, os.Args, os.Environ())
	}
	return nil
}
