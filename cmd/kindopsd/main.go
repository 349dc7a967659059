package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/audit"
	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/inspect"
	"github.com/BegaDeveloper/kindops/internal/kind"
	"github.com/BegaDeveloper/kindops/internal/logging"
	"github.com/BegaDeveloper/kindops/internal/logstream"
	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
	"github.com/BegaDeveloper/kindops/internal/tasks"
)

const (
	shutdownTimeout   = 10 * time.Second
	taskDrainTimeout  = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	if handleControlCommand(os.Args[1:]) {
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kindopsd failed: %v\n", err)
		os.Exit(1)
	}
}

func handleControlCommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch strings.TrimSpace(args[0]) {
	case "install-service":
		if installErr := installService(); installErr != nil {
			fmt.Fprintf(os.Stderr, "install-service failed: %v\n", installErr)
			os.Exit(1)
		}
		fmt.Println("kindopsd service installed and started.")
		return true
	default:
		return false
	}
}

func run() error {
	config, err := runtimeconfig.Load("")
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{App: "kindopsd", Level: config.LogLevel, Format: config.LogFormat})
	if err != nil {
		return err
	}

	lockPath, err := daemonLockPath()
	if err != nil {
		return err
	}
	lock, err := acquireDaemonLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.release()

	transcript, err := audit.Open(config.AuditDB)
	if err != nil {
		return fmt.Errorf("open command transcript: %w", err)
	}
	defer transcript.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, registry := newDaemon(config, transcript, logger)
	handler := chain(
		recovery(logger),
		requestLogging(logger.With().Str("component", "http").Logger(), server.metrics),
		cors(config.CORSOrigins),
	)(server.routes())

	httpServer := &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", config.Addr).Str("config", config.Path).Msg("kindopsd listening")
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveError := <-serveErrors:
		if serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
			return serveError
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownError := httpServer.Shutdown(shutdownCtx); shutdownError != nil {
		logger.Warn().Err(shutdownError).Msg("http shutdown did not complete")
	}

	drained := make(chan struct{})
	go func() {
		registry.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(taskDrainTimeout):
		logger.Warn().Msg("background tasks still running at exit")
	}
	return nil
}

// newDaemon assembles the runner chain exec -> metrics -> transcript and the
// components that share it.
func newDaemon(config runtimeconfig.Config, transcript *audit.Store, logger zerolog.Logger) (*daemonServer, *tasks.MemoryRegistry) {
	metrics := newMetricsRegistry()
	var runner executor.Runner = executor.NewExecRunner(logger)
	runner = &instrumentedRunner{next: runner, metrics: metrics}
	if transcript != nil {
		runner = audit.NewRecordingRunner(runner, transcript, logger)
	}

	registry := tasks.NewMemoryRegistry(logger, tasks.WithObserver(metrics.observeTask))
	server := &daemonServer{
		clusters:   kind.NewManager(runner, logger, kind.WithBinary(config.KindBinary), kind.WithTempDir(config.TempDir)),
		inspector:  inspect.NewAggregator(runner, config.KubectlBinary, logger),
		logs:       logstream.NewAdapter(config.KubectlBinary, logger),
		tasks:      registry,
		transcript: transcript,
		metrics:    metrics,
		logger:     logger.With().Str("component", "server").Logger(),
	}
	return server, registry
}
