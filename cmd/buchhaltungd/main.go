package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/app"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/ingest"
	"github.com/delmenhorst/Buchhaltung/internal/metrics"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
	"github.com/delmenhorst/Buchhaltung/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := common.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("buchhaltungd.failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *common.Config, log *zap.SugaredLogger) error {
	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	health := server.New(log)

	a, err := app.Open(ctx, cfg, log, pipeline.WithObserver(m))
	if err != nil {
		return err
	}
	defer a.Close()

	scanner := ingest.NewScanner(
		ingest.Config{Interval: cfg.Scanner.Interval, SettleAge: cfg.Scanner.SettleAge},
		a.Businesses, a.Documents, a.Processor, log,
		ingest.WithCycleObserver(m),
		ingest.WithLeftoverRemover(a.Renamer),
		ingest.WithStateListener(health.SetScannerRunning),
		ingest.WithStateListener(m.SetScannerRunning),
	)

	if cfg.Scanner.Watch {
		dirs, err := a.IntakeDirs(ctx)
		if err != nil {
			return fmt.Errorf("list intake folders: %w", err)
		}
		if len(dirs) > 0 {
			if err := ingest.StartWatcher(ctx, ingest.WatchConfig{Dirs: dirs, Debounce: cfg.Scanner.Debounce}, scanner.Trigger, log); err != nil {
				// polling still picks everything up
				log.Warnw("watcher.disabled", "error", err)
			}
		}
	}

	// gRPC health
	lis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.HealthAddr, err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Errorw("health.serve.failed", "error", err)
		}
	}()
	go health.WatchStore(ctx, a.Store, 15*time.Second, 3*time.Second)

	// Prometheus
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infow("metrics.serving", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics.serve.failed", "error", err)
		}
	}()

	// SIGUSR1 toggles the scanner.
	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)
	defer signal.Stop(toggle)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-toggle:
				if scanner.Running() {
					scanner.Stop()
				} else {
					scanner.Start()
				}
			}
		}
	}()

	if cfg.Scanner.Autostart {
		scanner.Start()
	}

	done := make(chan struct{})
	go func() {
		scanner.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Infow("buchhaltungd.shutting_down")
	<-done

	health.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("metrics.shutdown_failed", "error", err)
	}
	log.Infow("buchhaltungd.stopped")
	return nil
}
