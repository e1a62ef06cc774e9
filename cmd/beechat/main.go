package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BeeChat/internal/agent"
	"BeeChat/internal/audit"
	"BeeChat/internal/config"
	"BeeChat/internal/gateway"
	"BeeChat/internal/mcp"
	"BeeChat/internal/server"
	"BeeChat/internal/telemetry"
)

func main() {
	var configPath string
	var addr string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.Parse()

	if err := run(configPath, addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	store, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer store.Close()

	toolClient, err := mcp.Dial(cfg.MCP.URL, cfg.MCP.APIKey, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer toolClient.Close()

	gw := gateway.New(toolClient, cfg.Agent.ToolCallLimit, store, logger, tracer)

	// Tool discovery is best-effort: without it the agent still serves chat
	// with only the progress tool available.
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := toolClient.Initialize(initCtx); err != nil {
		logger.Warn("MCP initialize failed, continuing without remote tools", "error", err)
	} else if err := gw.RefreshTools(initCtx); err != nil {
		logger.Warn("failed to list remote tools, continuing without them", "error", err)
	}

	runner, err := agent.New(cfg, gw, logger, tracer, meter)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	srv := server.New(cfg, runner, store, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr, "provider", cfg.Provider.Name, "model", cfg.Provider.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}
