package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/garden/cmd/garden/commands"
	"github.com/openfroyo/garden/pkg/gardenerr"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received interrupt signal, shutting down")
		cancel()
	}()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	os.Exit(exitCode(err))
}

// exitCode maps a command error to spec §6's exit code contract: 0 on
// success, 1 on a handled failure (validation, policy denial, a module
// or entity the user named that doesn't exist), 2 on an internal error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if gardenerr.Is(err, gardenerr.KindInternal) {
		log.Error().Err(err).Msg("internal error")
		return 2
	}
	log.Error().Err(err).Msg("command failed")
	return 1
}

func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch os.Getenv("GARDEN_LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
