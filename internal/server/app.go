// Package server initializes and runs the SafeChat server: it opens storage,
// applies migrations, re-arms pending deletions, and serves the HTTP API,
// the websocket gateway and the gRPC health endpoint until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/auth"
	"github.com/dmitrijs2005/safechat/internal/server/config"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/dmitrijs2005/safechat/internal/server/gateway"
	"github.com/dmitrijs2005/safechat/internal/server/httpapi"
	"github.com/dmitrijs2005/safechat/internal/server/registry"
	"github.com/dmitrijs2005/safechat/internal/server/relay"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/safechat/internal/server/services"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/safechat/internal/server/grpc"
)

// MemoryDSN selects process-local storage instead of PostgreSQL.
const MemoryDSN = "memory://"

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	rdb      *redis.Client
	relay    *relay.Relay
	registry *registry.Registry
	chat     *services.ChatService
	users    *services.UserService
	gateway  *gateway.Gateway
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, rm, err := openStorage(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	reg := registry.New(logger)
	reg.OnOffline(func(userID string) {
		reg.Broadcast(events.UserOffline(userID))
	})

	app := &App{config: c, logger: logger, db: db, registry: reg}

	var notifier services.Notifier = reg
	if c.RedisAddr != "" {
		app.rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.relay = relay.New(app.rdb, reg, logger)
		notifier = app.relay
	}

	app.chat = services.NewChatService(db, rm, notifier, c, logger)
	app.users = services.NewUserService(db, rm, c)
	app.gateway = gateway.New(auth.NewVerifier([]byte(c.SecretKey)), app.chat, reg, c, logger)

	return app, nil
}

// openStorage returns a nil *sql.DB for the memory backend.
func openStorage(ctx context.Context, dsn string) (*sql.DB, repomanager.RepositoryManager, error) {
	if strings.HasPrefix(dsn, MemoryDSN) {
		return nil, repomanager.NewMemoryRepositoryManager(), nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return db, rm, nil
}

// PingContext checks every backend the app depends on.
func (app *App) PingContext(ctx context.Context) error {
	if app.db != nil {
		if err := app.db.PingContext(ctx); err != nil {
			return err
		}
	}
	if app.relay != nil {
		if err := app.relay.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP surface: REST endpoints plus /ws.
func (app *App) Handler() http.Handler {
	h := httpapi.NewHandlers(app.users, app.chat, app, app.logger)
	return httpapi.NewRouter(h, auth.NewVerifier([]byte(app.config.SecretKey)), app.gateway, app.logger)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// hijacked websocket connections are not covered by http.Server.Shutdown
		if err := app.gateway.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "gateway shutdown", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *App) startGRPCServer(ctx context.Context) error {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app)
	return s.Run(ctx)
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if _, err := app.chat.Recover(ctx); err != nil {
		app.logger.Error(ctx, "failed to recover deletion timers", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.startHTTPServer(gctx) })
	g.Go(func() error { return app.startGRPCServer(gctx) })
	if app.relay != nil {
		g.Go(func() error { return app.relay.Run(gctx) })
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, err.Error())
	}

	app.close()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) close() {
	app.chat.Close()
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
