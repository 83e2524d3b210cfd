package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/windlass-dev/windlass/internal/actions"
	"github.com/windlass-dev/windlass/internal/api"
	"github.com/windlass-dev/windlass/internal/approval"
	"github.com/windlass-dev/windlass/internal/definitions"
	"github.com/windlass-dev/windlass/internal/dispatch"
	"github.com/windlass-dev/windlass/internal/engine"
	"github.com/windlass-dev/windlass/internal/expressions"
	"github.com/windlass-dev/windlass/internal/logging"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/internal/streaming"
	"github.com/windlass-dev/windlass/internal/validation"
	"github.com/windlass-dev/windlass/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "windlass:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()
	st := streaming.NewLogFanout(db, hub)
	clk := clock.New()

	notifier := actions.NewNotifierMux(actions.NewLogNotifier(logger))

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.HTTPConfig{}, logger); err != nil {
		return fmt.Errorf("register actions: %w", err)
	}

	exprs, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	validator, err := validation.NewValidator(registry)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	defs := definitions.NewService(st, validator, logger)
	dispatcher := dispatch.NewDispatcher(st, defs, clk, logger)
	scheduler := dispatch.NewScheduler(dispatcher, clk, cfg.schedulerInterval(), logger)
	approvals := approval.NewEngine(st, clk, &approvalNotifier{mux: notifier}, logger)
	interp := engine.NewInterpreter(st, registry, exprs, notifier, logger)

	svc := engine.NewService(st, defs, dispatcher, approvals, interp, clk, engine.Config{
		PoolSize: cfg.PoolSize,
	}, logger)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer svc.Stop()
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(api.Deps{
			Engine:      svc,
			Dispatcher:  dispatcher,
			Definitions: defs,
			Registry:    registry,
			Hub:         hub,
			Logger:      logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("windlass listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}

// approvalNotifier tells an approver their step is up, through whatever
// notification channels are registered on the mux.
type approvalNotifier struct {
	mux *actions.NotifierMux
}

func (n *approvalNotifier) NotifyStep(ctx context.Context, chain *store.ApprovalChain, step *schema.ApprovalStep) error {
	return n.mux.Notify(ctx, actions.Notification{
		Channel:    "email",
		Recipients: []string{step.Approver},
		Subject:    "Approval requested: " + chain.Subject,
		Message:    fmt.Sprintf("You are approver %d for chain %s.", step.Sequence+1, chain.ID),
	})
}
