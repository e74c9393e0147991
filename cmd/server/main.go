// Package main is the control plane's process entry point: load
// configuration, wire the dependency graph, bring the HTTP server and
// the Engine up, then wait for a shutdown signal. Exit codes follow
// spec §6's CLI contract: 0 normal shutdown, 1 fatal init error, 2
// emergency stop requested externally.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsealgo/controller/internal/config"
	"github.com/nsealgo/controller/internal/di"
	"github.com/nsealgo/controller/internal/server"
	"github.com/nsealgo/controller/pkg/logger"
)

const (
	exitNormal      = 0
	exitInitError   = 1
	exitEmergency   = 2
	shutdownTimeout = 10 * time.Second
)

// emergencyStopSignal is SIGUSR1 — the conventional Unix channel an
// external monitoring system or operator script uses to force an urgent
// stop distinct from an ordinary SIGINT/SIGTERM shutdown. Nothing in this
// codebase sends it to itself; it exists for an external caller.
const emergencyStopSignal = syscall.SIGUSR1

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).
			Error().Err(err).Msg("failed to load configuration")
		return exitInitError
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting sentinel controller")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire dependencies")
		return exitInitError
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start engine")
		return exitInitError
	}
	log.Info().Msg("engine started")

	srv := server.New(server.Config{
		Log:       log,
		Container: container,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()
	log.Info().Int("port", cfg.Port).Msg("control-plane server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, emergencyStopSignal)

	exitCode := exitNormal
	select {
	case sig := <-quit:
		if sig == emergencyStopSignal {
			log.Warn().Msg("emergency stop requested externally — closing all positions")
			closed, err := container.Engine.CloseAll(ctx, "emergency stop requested externally")
			if err != nil {
				log.Error().Err(err).Int("closed", closed).Msg("emergency close_all did not fully complete")
			}
			exitCode = exitEmergency
		} else {
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		}
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("control-plane server stopped unexpectedly")
			exitCode = exitInitError
		}
	}

	cancel()
	container.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Int("exit_code", exitCode).Msg("sentinel controller stopped")
	return exitCode
}
