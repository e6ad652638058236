// Package daemon assembles and runs the sync engine: local database,
// gateway client, connectivity monitor and coordinator, with graceful
// shutdown on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/okutins/plansync/internal/config"
	"github.com/okutins/plansync/internal/connectivity"
	"github.com/okutins/plansync/internal/logging"
	"github.com/okutins/plansync/internal/remote"
	"github.com/okutins/plansync/internal/store"
	"github.com/okutins/plansync/internal/syncer"

	_ "modernc.org/sqlite"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	monitor     *connectivity.Monitor
	coordinator *syncer.Coordinator
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := newLogger(c)

	db, err := store.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	gateway := remote.NewHTTPClient(c.BaseURL, c.CallTimeout, tokenProvider(c))
	monitor := connectivity.New(gateway.Ping, c.OnlineCheckInterval, logger)
	coordinator := syncer.New(db, gateway, monitor, syncer.Options{
		Logger:      logger,
		BackoffBase: c.RetryBackoffBase,
	})

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		monitor:     monitor,
		coordinator: coordinator,
	}, nil
}

// newLogger builds the daemon logger: a rotating JSON file when one is
// configured, plain text on stderr otherwise.
func newLogger(c *config.Config) logging.Logger {
	if c.LogFile == "" {
		return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}
	rotating := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(rotating, nil)))
}

func tokenProvider(c *config.Config) remote.TokenProvider {
	if c.AuthToken == "" {
		return nil
	}
	token := c.AuthToken
	return func(context.Context) (string, error) { return token, nil }
}

// Coordinator exposes the sync engine to an embedding UI layer.
func (a *App) Coordinator() *syncer.Coordinator { return a.coordinator }

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the connectivity monitor and the coordinator loop and blocks
// until a signal arrives or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.logger.Info(ctx, "starting sync daemon",
		"gateway", a.config.BaseURL, "database", a.config.DatabasePath)

	a.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.coordinator.Run(ctx) })

	err := g.Wait()
	if closeErr := a.db.Close(); closeErr != nil {
		a.logger.Error(context.Background(), "closing database", "error", closeErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
