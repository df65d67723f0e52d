// Command pi runs the SessionEngine: it consumes start/stop session events
// from RabbitMQ, tracks active sessions in a RecordStore, and periodically
// publishes a manifest of eligible sessions back onto the bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pi/internal/clock"
	"github.com/snarg/pi/internal/config"
	"github.com/snarg/pi/internal/engine"
	"github.com/snarg/pi/internal/opshttp"
	"github.com/snarg/pi/internal/store"
	"github.com/snarg/pi/internal/transport"
)

// version and commit are injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.ConfigPath, "config", "", "Path to YAML config (default: ./pi.yaml)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s)\n", version, commit)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	logLevel := overrides.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("log_level", level.String()).
		Msg("pi starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize record store")
	}
	defer st.Close()

	watcher, err := config.NewWatcher(configPathOrDefault(overrides.ConfigPath), log, func(newCfg *config.Config) {
		log.Warn().Msg("config file changed on disk; restart pi to pick up manifest-cycle changes")
	})
	if err != nil {
		log.Warn().Err(err).Msg("config hot-reload watcher unavailable, continuing without it")
	} else {
		defer watcher.Stop()
	}

	transportLog := log.With().Str("component", "transport").Logger()
	tr, err := transport.DialAMQP(transport.AMQPOptions{
		Host:     cfg.RabbitMQHost,
		User:     cfg.RabbitMQUser,
		Password: cfg.RabbitMQPassword,
		Log:      transportLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer tr.Stop()

	eng := engine.New(st, tr, clock.Real{}, engine.Config{
		ConsumerBindings: transport.Bindings{
			Exchange:   cfg.ConsumerBindings.Exchange,
			InputQueue: cfg.ConsumerBindings.InputQueue,
			Keys:       cfg.ConsumerBindings.Keys,
			QueueSize:  cfg.ConsumerBindings.QueueSize,
		},
		RefreshTime:     cfg.RefreshTime,
		ManifestSize:    cfg.ManifestSize,
		CooldownTime:    cfg.CooldownTime,
		ActiveTime:      cfg.ActiveTime,
		PublishExchange: cfg.PublishExchange,
		PublishKey:      cfg.PublishKey,
	}, log)

	opsLog := log.With().Str("component", "opshttp").Logger()
	opsSrv := opshttp.NewServer(opshttp.ServerOptions{
		Addr:           cfg.OpsHTTPAddr,
		Store:          st,
		Transport:      tr,
		Version:        version,
		StartTime:      startTime,
		Log:            opsLog,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- opsSrv.Run(ctx)
	}()
	go func() {
		errCh <- eng.Run(ctx)
	}()

	log.Info().
		Str("ops_addr", cfg.OpsHTTPAddr).
		Dur("startup_ms", time.Since(startTime)).
		Msg("pi ready")

	var fatalErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			fatalErr = err
			log.Error().Err(err).Msg("fatal error, shutting down")
		}
	}

	stop()
	<-errCh

	log.Info().Msg("pi stopped")
	if fatalErr != nil {
		tr.Stop()
		st.Close()
		os.Exit(1)
	}
}

func configPathOrDefault(path string) string {
	if path == "" {
		return "./pi.yaml"
	}
	return path
}
