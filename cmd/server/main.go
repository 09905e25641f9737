package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/ai"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/api"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/app"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/events"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/config"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/database"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           deps.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No read/write timeouts: /api/events holds its connection open.
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// dependencies holds what build opened, for shutdown.
type dependencies struct {
	handler http.Handler
	service *app.Service
	closers []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// build wires the curriculum, store, event sinks and service into the HTTP
// handler.
func build(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{}
	fail := func(err error) (*dependencies, error) {
		deps.close()
		return nil, err
	}

	bank, err := newBank(cfg.Curriculum)
	if err != nil {
		return fail(err)
	}

	var db *database.DB
	if cfg.NeedsDatabase() {
		db, err = database.New(ctx, cfg.Database)
		if err != nil {
			return fail(fmt.Errorf("connecting to database: %w", err))
		}
		deps.closers = append(deps.closers, db.Close)
	}

	store, err := storage.NewByEngine(ctx, cfg, db)
	if err != nil {
		return fail(fmt.Errorf("opening %s store: %w", cfg.Store.Engine, err))
	}
	deps.closers = append(deps.closers, func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing store failed", "error", err)
		}
	})
	slog.Info("progress store ready", "engine", cfg.Store.Engine)

	hub := events.NewHub()
	gateway := events.NewGateway()
	gateway.Register("log", events.SlogNotifier{})
	gateway.Register("websocket", hub)
	if cfg.Events.Postgres {
		gateway.Register("postgres", events.NewPostgresNotifier(db.Pool))
	}

	topics := bank.Topics()
	order := make([]string, 0, len(topics))
	for _, t := range topics {
		order = append(order, t.ID)
	}
	repo := progress.NewRepository(store, order)

	deps.service, _ = app.New(ctx, bank, repo, gateway, app.Options{
		Sessions: app.DefaultSessions(cfg.Session.QuestionTime, cfg.Session.LevelTime),
	})
	deps.handler = api.New(deps.service, hub, store)
	return deps, nil
}

func newBank(c config.CurriculumConfig) (curriculum.Bank, error) {
	fsys := curriculum.Embedded()
	if c.Path != "" {
		fsys = os.DirFS(c.Path)
	}
	loader, err := curriculum.NewLoader(fsys)
	if err != nil {
		return nil, err
	}
	if !c.GeneratorEnabled {
		return loader, nil
	}

	canned, err := ai.NewCannedProvider(c.GeneratorDelay)
	if err != nil {
		return nil, fmt.Errorf("creating question generator: %w", err)
	}
	router := ai.NewRouter()
	router.Register("canned", canned)
	slog.Info("question generator enabled", "delay", c.GeneratorDelay)
	return curriculum.NewGenerativeBank(loader, router), nil
}
