package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/admin"
	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/db"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/maintenance"
	"github.com/wpmeta/wpmeta/publisher"
	_ "github.com/wpmeta/wpmeta/publisher/sink"
	_ "github.com/wpmeta/wpmeta/publisher/transformer"
	"github.com/wpmeta/wpmeta/replace"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("wpmeta - WordPress post meta search, replace and restore")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx := context.Background()

	store, err := db.Open(cfg.Config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
		return
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create wpmeta tables")
		return
	}

	cacheMgr, err := cache.Open(ctx, cfg.Config.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache")
		return
	}
	defer cacheMgr.Close()

	collector := telemetry.NewMetricsCollector(store.SQL(), 15*time.Second)
	if sizer, ok := cacheMgr.Backend().(telemetry.CacheSizer); ok {
		collector.WithCache(sizer)
	}
	collector.Start()
	defer collector.Stop()

	mirror, closeMirror, err := auditMirror()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit log file")
		return
	}
	defer closeMirror()

	// Change publishing is optional; backup.New must see a nil interface when it is off
	var events backup.EventSink
	if len(cfg.Config.Sinks) > 0 {
		registry, err := publisher.NewRegistry(publisher.RegistryConfig{
			DataDir: cfg.Config.DataDir,
			Sinks:   cfg.Config.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize change publisher")
			return
		}
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start change publisher")
			return
		}
		defer registry.Stop()
		events = registry
	}

	logger := audit.New(store, mirror)
	settingsStore := settings.New(store, cacheMgr)
	backups := backup.New(store, cacheMgr, settingsStore, id.NewClockGenerator(cfg.Config.InstanceID), events)
	searcher := search.New(store, cacheMgr, backups, settingsStore, cfg.Config.Search)
	replacer := replace.New(searcher, backups, settingsStore, cacheMgr, logger, cfg.Config.Replace)

	scheduler := maintenance.New(backups, settingsStore, logger, cfg.Config.Maintenance)
	if cfg.Config.Maintenance.Enabled {
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
			return
		}
		defer scheduler.Stop()
	}

	handlers := admin.NewAdminHandlers(admin.Services{
		Search:      searcher,
		Replace:     replacer,
		Backups:     backups,
		Settings:    settingsStore,
		Logger:      logger,
		Maintenance: scheduler,
	}, admin.NewNonceManager(cfg.Config.Auth.NonceSecret, time.Duration(cfg.Config.Auth.NonceLifetimeSeconds)*time.Second))

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Config.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Config.HTTP.WriteTimeoutSeconds) * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var metricsServer *http.Server
	if h := telemetry.GetMetricsHandler(); h != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", h)
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port),
			Handler: metricsMux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	log.Info().
		Uint64("instance_id", cfg.Config.InstanceID).
		Str("address", server.Addr).
		Str("data_dir", cfg.Config.DataDir).
		Msg("wpmeta is serving")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
}

// auditMirror returns the logger that receives a copy of every operation log
// entry: the process logger, or a JSON file when logging.audit_file is set.
func auditMirror() (zerolog.Logger, func(), error) {
	path := cfg.Config.Logging.AuditFile
	if path == "" {
		return log.Logger, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	l := zerolog.New(f).With().Timestamp().Str("component", "audit").Logger()
	return l, func() { f.Close() }, nil
}
