package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"pubflow/internal/allocator"
	"pubflow/internal/api"
	"pubflow/internal/config"
	"pubflow/internal/distributor"
	"pubflow/internal/docstore"
	"pubflow/internal/events"
	"pubflow/internal/logging"
	"pubflow/internal/runner"
	"pubflow/internal/scheduler"
	"pubflow/internal/store"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	serveDebug bool
)

var rootCmd = &cobra.Command{
	Use:          "pubflow",
	Short:        "Publication scheduling engine",
	Long:         "pubflow spreads pending content drafts over working days and publishing hours.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the cron planning service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "expose pprof handlers under /debug/pprof")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.Setup(cfg.Environment, cfg.LogLevel)
	return nil
}

// app is the wired planning stack shared by serve and plan.
type app struct {
	repo    store.Repository
	alloc   *allocator.Allocator
	service *scheduler.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context) (*app, error) {
	a := &app{}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	a.closers = append(a.closers, func() { db.Close() })
	if err := store.EnsureSchema(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.repo = store.NewSQLiteRepo(db)

	var sinks []scheduler.Sink
	if cfg.MongoURI != "" {
		m, err := docstore.Connect(ctx, docstore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase, Collection: cfg.MongoCollection}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = m.Close(context.Background()) })
		sinks = append(sinks, m)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.NATSURL, Subject: cfg.NATSSubject}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		publisher = p
	}

	cal := cfg.Calendar()
	a.alloc = allocator.New(logger)
	r := runner.New(a.alloc, distributor.New(cfg.DistributorOptions()), cfg.RunnerOptions(), logger)
	a.service = scheduler.NewService(a.repo, r, cal, publisher, scheduler.Options{
		Cron:         cfg.Cron,
		Location:     cfg.Location,
		MinPerDay:    cfg.MinPerDay,
		MaxPerDay:    cfg.MaxPerDay,
		Budget:       cfg.Budget,
		BatchLimit:   cfg.BatchLimit,
		SinkAttempts: cfg.SinkAttempts,
	}, logger, sinks...)
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	serviceDone := make(chan error, 1)
	go func() { serviceDone <- a.service.Start(ctx) }()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServerWithDebug(a.repo, a.service, cfg.Calendar(), logger, serveDebug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serviceDone:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("shutting down")
	cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
