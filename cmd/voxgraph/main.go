// Command voxgraph runs the Voxgraph audio pipeline engine: it builds the
// configured pipeline graphs, exposes the admin/metrics endpoints, and keeps
// streaming nodes running until shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgraph/voxgraph/internal/config"
	"github.com/voxgraph/voxgraph/internal/health"
	"github.com/voxgraph/voxgraph/internal/observe"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgraph: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgraph: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgraph starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxgraph"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Pipelines ─────────────────────────────────────────────────────────────
	registry := config.Builtins(cfg)
	pipelines, err := config.BuildPipelines(cfg, registry)
	if err != nil {
		slog.Error("failed to build pipelines", "err", err)
		return 1
	}

	metrics := observe.DefaultMetrics()
	recorder := observe.NewRecorder(metrics)
	for _, p := range pipelines {
		recorder.Watch(ctx, p)
		if err := p.Initialize(ctx); err != nil {
			slog.Error("pipeline initialisation failed", "pipeline", p.ID(), "err", err)
			return 1
		}
		slog.Info("pipeline ready",
			"pipeline", p.ID(),
			"nodes", len(p.Nodes()),
			"connections", len(p.Connections()),
			"entries", len(p.EntryPoints()),
			"exits", len(p.ExitPoints()),
		)
	}

	printStartupSummary(cfg, pipelines)

	// ── Admin server ──────────────────────────────────────────────────────────
	var srv *http.Server
	srvErr := make(chan error, 1)
	if cfg.Server.ListenAddr != "" {
		srv = adminServer(cfg.Server.ListenAddr, metrics, pipelines)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
		slog.Info("admin server listening", "addr", cfg.Server.ListenAddr)
	}

	slog.Info("engine ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		slog.Error("admin server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}

	exitCode := 0
	for _, p := range pipelines {
		if err := p.Shutdown(shutdownCtx); err != nil {
			slog.Error("pipeline shutdown error", "pipeline", p.ID(), "err", err)
			exitCode = 1
		}
	}
	if exitCode == 0 {
		slog.Info("goodbye")
	}
	return exitCode
}

// ── Admin endpoints ───────────────────────────────────────────────────────────

// adminServer serves /metrics (Prometheus scrape), /healthz + /readyz, and
// /pipelines (graph snapshots), all behind the observability middleware.
func adminServer(addr string, metrics *observe.Metrics, pipelines []*pipeline.Pipeline) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	checkers := make([]health.Checker, 0, len(pipelines))
	for _, p := range pipelines {
		checkers = append(checkers, health.PipelineChecker(p))
	}
	health.New(checkers...).Register(mux)

	mux.HandleFunc("/pipelines", func(w http.ResponseWriter, _ *http.Request) {
		docs := make([]pipeline.Document, 0, len(pipelines))
		for _, p := range pipelines {
			docs = append(docs, p.Snapshot())
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			slog.Warn("pipeline snapshot encode error", "err", err)
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, pipelines []*pipeline.Pipeline) {
	nodes, conns := 0, 0
	for _, p := range pipelines {
		nodes += len(p.Nodes())
		conns += len(p.Connections())
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxgraph — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Pipelines       : %-19d ║\n", len(pipelines))
	fmt.Printf("║  Nodes           : %-19d ║\n", nodes)
	fmt.Printf("║  Connections     : %-19d ║\n", conns)
	printService("Transcribe", cfg.Services.Transcribe)
	printService("Synthesize", cfg.Services.Synthesize)
	if cfg.Services.Respond.Model != "" {
		printSummaryRow("Respond", cfg.Services.Respond.Model)
	} else {
		printSummaryRow("Respond", "(not configured)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printService(kind string, svc config.SpeechService) {
	switch {
	case svc.ControlPlane != "":
		printSummaryRow(kind, "control plane")
	case svc.URL != "":
		printSummaryRow(kind, "direct")
	default:
		printSummaryRow(kind, "(not configured)")
	}
}

func printSummaryRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
