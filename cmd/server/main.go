package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/wesfu/wesfu/internal/api"
	"github.com/wesfu/wesfu/internal/app"
	"github.com/wesfu/wesfu/internal/config"
	"github.com/wesfu/wesfu/internal/control"
	"github.com/wesfu/wesfu/internal/metrics"
	"github.com/wesfu/wesfu/internal/relay"
)

func main() {
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to yaml config file")
	bind := pflag.String("bind", "", "bind address for both planes (overrides config)")
	controlPort := pflag.Int("control-port", 0, "TCP control port (overrides config)")
	mediaPort := pflag.Int("media-port", 0, "UDP media port (overrides config)")
	logLevel := pflag.String("log-level", "", "log level (overrides config)")
	pflag.Parse()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	if *bind != "" {
		cfg.BindAddress = *bind
	}
	if *controlPort != 0 {
		cfg.ControlPort = *controlPort
	}
	if *mediaPort != 0 {
		cfg.MediaPort = *mediaPort
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Error().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := app.NewRegistry(cfg.MaxSessions, cfg.MaxRooms)
	m := metrics.New(reg)
	engine := relay.NewEngine(cfg, reg, m)
	ctl := control.NewServer(cfg, reg, m)

	if err := engine.Start(ctx); err != nil {
		log.Error().Err(err).Msg("media relay failed to start")
		os.Exit(1)
	}
	if err := ctl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("control server failed to start")
		engine.Stop()
		os.Exit(1)
	}

	var httpSrv *http.Server
	if cfg.HTTPEnabled {
		httpSrv = &http.Server{
			Addr:    cfg.HTTPAddr(),
			Handler: api.SetupRouter(cfg, reg),
		}
		go func() {
			log.Info().Str("addr", httpSrv.Addr).Msg("status API started")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status API error")
			}
		}()
	}

	log.Info().
		Str("control", cfg.ControlAddr()).
		Str("media", cfg.MediaAddr()).
		Msg("WeSFU server started")

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-engine.Fatal():
		log.Error().Err(err).Msg("media plane failed, shutting down")
		exitCode = 1
		cancel()
	}

	ctl.Stop()
	engine.Stop()
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status API forced to shutdown")
		}
	}
	log.Info().Msg("server exited gracefully")
	os.Exit(exitCode)
}
