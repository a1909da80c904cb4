package main

import (
	"chat-gateway/infrastructure/gateway"
	"chat-gateway/infrastructure/queue"
	"chat-gateway/infrastructure/storage"
	"chat-gateway/internal"
	"chat-gateway/moderation"
	"chat-gateway/runtime"
	"chat-gateway/runtime/workers"
	"chat-gateway/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a fatal error.
// Deferred cleanups (database, queue) run before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	rooms := storage.NewRoomRepository(db, log, config.LimitMessages)

	// 3. Push queue, unreachable at startup is fatal
	publisher, err := queue.Connect(config.NatsURL, log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		log.Info("Draining nats connection...")
		_ = publisher.Close()
	}()

	// 4. Runtime: registry, heartbeat monitor, event handler
	registry := runtime.NewRegistry(log)
	monitor := workers.NewHeartbeatMonitor(log, registry, rooms,
		config.HeartbeatInterval, config.HeartbeatTimeout, config.StoreTimeout)
	reporter := workers.NewStatsReporter(log, registry, monitor, config.StatsInterval)

	handler := services.NewRoomEventHandler(log, rooms, publisher, registry, monitor, services.HandlerConfig{
		PushTopic:      config.PushTopic,
		StoreTimeout:   config.StoreTimeout,
		PublishTimeout: config.PublishTimeout,
	})
	if config.CensoredWordsFile != "" {
		moderator, err := loadModerator(config, log)
		if err != nil {
			return exitConfig, err
		}
		handler.WithCensor(moderator)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(monitor, reporter)
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 6. HTTP listener, failing to bind is fatal
	listener, err := net.Listen("tcp", config.Address())
	if err != nil {
		stop()
		<-supDone
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.Address(), err)
	}

	// Handlers keep running on the background context so in-flight store calls
	// are not cut when the signal arrives
	gw := gateway.NewServer(context.Background(), log, registry, monitor, handler, gateway.Options{
		MaxFrameSize: int64(config.MaxFrameSize),
		WriteTimeout: config.WriteTimeout,
	}).WithStats(reporter)
	httpServer := &http.Server{
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting gateway", "address", listener.Addr().String(), "at", time.Now().UTC())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 8. Graceful shutdown: stop accepting, close sockets, stop workers
	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("Gateway shutdown incomplete", "error", err)
	}
	stop()
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return code, runErr
}

func loadModerator(config internal.Config, log *slog.Logger) (moderation.Moderator, error) {
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return moderation.Moderator{}, err
	}
	dir, name := filepath.Split(config.CensoredWordsFile)
	if dir == "" {
		dir = "."
	}
	list, err := moderation.NewWordLoader(os.DirFS(dir)).Load(name)
	if err != nil {
		return moderation.Moderator{}, fmt.Errorf("censored words: %w", err)
	}
	log.Info("Censored words loaded", "words", len(list.Words), "sources", list.Sources)
	return moderation.NewModerator(list.Words, charReplacement, log)
}
