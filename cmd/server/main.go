package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"chat-rooms/infrastructure/ws"
	"chat-rooms/internal"
	"chat-rooms/moderation"
	"chat-rooms/observability"
	"chat-rooms/repositories"
	"chat-rooms/runtime"
	"chat-rooms/runtime/workers"
)

// Exit codes to provide meaningful status to the operating system or service
// manager (e.g. systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle and
// centralizes error reporting, so every defer (database close included)
// executes before the process exits.
func run() (int, error) {
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := internal.LoggerFromLevel(config.LogLevel)

	censor, err := buildCensor(config, logger)
	if err != nil {
		return exitConfig, fmt.Errorf("moderation dictionary error: %w", err)
	}

	db, err := badger.Open(buildBadgerOpts(config, logger))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	gateway := repositories.NewMessageRepository(db, logger)
	registry := runtime.NewRegistry(gateway, logger,
		config.RoomBufferSize, config.OutboundBufferSize, config.PingInterval)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		runtime.NewReaper(registry, config.ReapInterval, logger),
		observability.NewMonitor(logger, registry, config.MetricInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)

	supDone := make(chan struct{})
	go func() {
		logger.Info("Starting background workers")
		sup.Run(ctx)
		close(supDone)
	}()

	handler := ws.NewHandler(logger, registry, censor, config.WriteTimeout, config.PongTimeout)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", config.Port),
		Handler:     handler.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// The execution blocks here until either a signal is received or the
	// server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	// Tear down live connections so every room drains, flushes its history
	// and closes before the database goes away.
	registry.Shutdown()
	if !registry.AwaitIdle(config.ShutdownTimeout) {
		logger.Warn("Some rooms did not close in time, history may be incomplete")
	}
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

// buildCensor turns the configured dictionary into a censoring function.
// An empty dictionary means no moderation at all.
func buildCensor(config internal.Config, logger *slog.Logger) (func(string) string, error) {
	if config.CensoredWords == "" {
		return nil, nil
	}
	words := lo.Map(strings.Split(config.CensoredWords, ","), func(w string, _ int) string {
		return strings.TrimSpace(w)
	})
	moderator, err := moderation.NewModerator(words, '*')
	if err != nil {
		return nil, err
	}
	logger.Info("Moderation enabled", "dictionary_size", len(words))
	return moderator.Censor, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}
