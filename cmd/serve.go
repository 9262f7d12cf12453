package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/gateway"
	"github.com/nextlevelbuilder/sessiond/internal/orchestrator"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/procs"
	"github.com/nextlevelbuilder/sessiond/internal/sink"
	"github.com/nextlevelbuilder/sessiond/internal/stream"
	"github.com/nextlevelbuilder/sessiond/internal/telemetry"
	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session orchestrator gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	agentsRoot := filepath.Join(workspace, "agents")
	for _, dir := range []string{agentsRoot, filepath.Join(workspace, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("cannot create workspace directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	closeLog := setupLogging(workspace)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	eventLog := events.NewLog(agentsRoot)
	defer eventLog.Close()
	catalog := agents.NewCatalog(agentsRoot)
	policies := policy.NewStore(agentsRoot)
	defer policies.Close()
	registry := procs.NewRegistry()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := registry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("process registry shutdown failed", "error", err)
		}
	}()

	exec := tools.NewExecutor(policy.NewAuthorizer(policies), eventLog, catalog, registry, workspace)

	eventSink := openSink(cfg, workspace)
	var orchSink orchestrator.EventSink
	if eventSink != nil {
		orchSink = eventSink
		defer eventSink.Close()
	}

	provider := orchestrator.NewLoopback()
	orch := orchestrator.New(catalog, eventLog, exec, registry, provider, orchSink, orchestrator.Options{
		ProgressChars:    cfg.Stream.ProgressChars,
		ProgressInterval: time.Duration(cfg.Stream.ProgressIntervalMs) * time.Millisecond,
	})

	fanout := stream.NewFanout(eventLog, stream.Options{
		PollInterval: time.Duration(cfg.Stream.PollIntervalMs) * time.Millisecond,
		Heartbeat:    time.Duration(cfg.Stream.HeartbeatSec) * time.Second,
		BufferSize:   cfg.Stream.BufferSize,
	})

	server := gateway.NewServer(cfg, catalog, policies, orch, eventLog, fanout, exec, eventSink)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// openSink connects the best-effort persistence sink. Any failure here only
// disables the sink; the core still runs.
func openSink(cfg *config.Config, workspace string) *sink.Sink {
	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN
	if driver == "sqlite" && dsn == "" {
		dsn = filepath.Join(workspace, "sessiond.db")
	}
	if dsn == "" {
		slog.Info("persistence sink disabled: no DSN configured")
		return nil
	}
	db, err := sink.Open(driver, dsn)
	if err != nil {
		slog.Warn("persistence sink disabled", "error", err)
		return nil
	}
	if err := sink.MigrateUp(db, driver); err != nil {
		slog.Warn("persistence sink disabled: migration failed", "error", err)
		db.Close()
		return nil
	}
	return sink.NewSink(db)
}

// setupLogging writes JSONL records to logs/core-YYYY-MM-DD.log alongside
// stdout.
func setupLogging(workspace string) func() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	name := fmt.Sprintf("core-%s.log", time.Now().UTC().Format("2006-01-02"))
	out := io.Writer(os.Stdout)
	closeFn := func() {}
	f, err := os.OpenFile(filepath.Join(workspace, "logs", name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFn
}
