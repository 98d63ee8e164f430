package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/novadristi/greeter/internal/detection"
	"github.com/novadristi/greeter/internal/greeting"
	"github.com/novadristi/greeter/internal/orchestrator"
	"github.com/novadristi/greeter/internal/orchestrator/board"
	"github.com/novadristi/greeter/internal/orchestrator/sightings"
	"github.com/novadristi/greeter/internal/orchestrator/visits"
	"github.com/novadristi/greeter/internal/profile"
	"github.com/novadristi/greeter/internal/ratelimit"
	"github.com/novadristi/greeter/internal/resilience"
	"github.com/novadristi/greeter/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the greeting loop and the dashboard server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().Bool("no-store", false, "Run without the profile store")
}

func newSource() (detection.Source, func(), error) {
	d := cfg.Detection
	if d.Transport == "grpc" {
		src, err := detection.NewGRPCSource(d.GRPCAddr, d.StreamURL)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}
	return detection.NewHTTPSource(d.URL, d.StreamURL, d.Timeout), func() {}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	noStore, _ := cmd.Flags().GetBool("no-store")

	source, closeSource, err := newSource()
	if err != nil {
		return err
	}
	defer closeSource()

	sched, closeAudio := newScheduler(cfg.Speech)
	defer func() { _ = closeAudio.Close() }()
	defer sched.Close()

	brd := board.New(board.DefaultMaxRecords, 64)
	buf := sightings.NewBuffer(cfg.Greeting.SightingRetention, cfg.Greeting.SightingProximity)

	deps := orchestrator.Deps{
		Source:    source,
		Limiter:   ratelimit.New(),
		Composer:  greeting.NewComposer(cfg.Greeting.Venue, cfg.Greeting.Phrases),
		Speaker:   sched,
		Board:     brd,
		Sightings: buf,
		Breaker:   resilience.New(resilience.DefaultConfig()),
	}
	srvDeps := server.Deps{Board: brd, Sightings: buf, Voices: sched}

	if !noStore {
		store, err := profile.Open(profile.Options{Dir: cfg.Store.DataDir})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		srvDeps.Profiles = store

		if cfg.Store.VisitLogging {
			batcher := visits.NewBatcher(store, visits.DefaultMaxSize, visits.DefaultFlushDelay)
			defer batcher.Stop()
			deps.Visits = batcher
		}
	}

	ctrl := orchestrator.New(deps, orchestrator.Config{
		FastInterval: cfg.Detection.FastInterval,
		SlowInterval: cfg.Detection.SlowInterval,
	})
	srv := server.New(srvDeps)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("greeter starting", "http", cfg.HTTPAddr, "transport", cfg.Detection.Transport, "engine", cfg.Speech.Engine)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err = <-errCh:
		slog.Error("http server error", "error", err)
	}

	slog.Info("shutting down...")
	cancel()
	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return err
}
