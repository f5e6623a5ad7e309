package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrikhermansson/tohnsw/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// main is the entry point of the application.
// The log level is taken from core.LogEnv when the core package initializes.
// A goroutine listens for interrupt signals: the first one cancels the running
// command, a second one exits immediately.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := make(chan os.Signal, 2)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	go listenForInterrupt(stopChan, cancel)

	// Program entry point
	cmd.Execute(ctx)
}

// listenForInterrupt cancels the command on the first signal and exits the
// program on the second.
func listenForInterrupt(stopChan chan os.Signal, cancel context.CancelFunc) {
	<-stopChan
	log.Warn().Msg("Interrupt signal received. Stopping...")
	cancel()
	<-stopChan
	log.Fatal().Msg("Second interrupt signal received. Exiting...")
}
