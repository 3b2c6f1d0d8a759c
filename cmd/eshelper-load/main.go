package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/document"
	"github.com/leonunix/eshelper/internal/loader"
	"github.com/leonunix/eshelper/internal/logging"
	"github.com/leonunix/eshelper/internal/metrics"
)

func main() {
	configPath := flag.String("config", "eshelper.yaml", "path to configuration file")
	once := flag.Bool("once", false, "load once and exit (ignore schedule)")
	flag.Parse()

	if err := run(*configPath, *once, shutdownSignal()); err != nil {
		os.Exit(1)
	}
}

func shutdownSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	return stop
}

// run logs its own failures so they reach the log file before it is
// closed. In scheduled mode it returns once stop fires.
func run(configPath string, once bool, stop <-chan os.Signal) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}

	closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return err
	}
	defer closeLog()

	slog.Info("eshelper-load starting",
		"engine", cfg.Engine.URL,
		"index", cfg.Load.Index,
		"files", cfg.Load.Files,
		"batch_size", cfg.Bulk.BatchSize,
		"checkpoint_dir", cfg.Load.CheckpointDir,
	)

	engine := backend.NewElasticsearch(cfg.Engine.URL, cfg.Client.DocumentType, &http.Client{Timeout: cfg.Engine.Timeout})

	var opts []loader.Option
	if cfg.Load.ReportIndex != "" {
		store := document.New(engine, cfg.Client)
		opts = append(opts, loader.WithReporter(loader.NewDocumentReporter(store, cfg.Load.ReportIndex)))
		slog.Info("load reports enabled", "report_index", cfg.Load.ReportIndex)
	}

	l, err := loader.New(cfg, engine, opts...)
	if err != nil {
		slog.Error("failed to initialize loader", "error", err)
		return err
	}

	metricsServer, err := startMetrics(cfg.Metrics.Listen)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		return err
	}
	defer shutdownMetrics(metricsServer)

	if once {
		if err := l.LoadAll(context.Background()); err != nil {
			slog.Error("load failed", "error", err)
			return err
		}
		slog.Info("load completed, exiting")
		return nil
	}

	// Run on a cron schedule.
	c := cron.New()
	_, err = c.AddFunc(cfg.Load.Schedule, func() {
		slog.Info("scheduled load starting")
		if err := l.LoadAll(context.Background()); err != nil {
			slog.Error("scheduled load failed", "error", err)
			return
		}
		slog.Info("scheduled load completed")
	})
	if err != nil {
		slog.Error("invalid cron schedule", "schedule", cfg.Load.Schedule, "error", err)
		return err
	}

	c.Start()
	slog.Info("load scheduler started", "schedule", cfg.Load.Schedule)

	<-stop

	slog.Info("shutting down...")
	ctx := c.Stop()
	<-ctx.Done()
	slog.Info("eshelper-load stopped")
	return nil
}

// startMetrics serves /metrics on addr. An empty addr disables it.
func startMetrics(addr string) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server, nil
}

func shutdownMetrics(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
}
