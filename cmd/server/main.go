// Package main is the entry point of the application
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/match-server/internal/auth"
	"github.com/tecu23/match-server/pkg/config"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/manager"
	"github.com/tecu23/match-server/pkg/repository"
	"github.com/tecu23/match-server/pkg/rules"
	"github.com/tecu23/match-server/pkg/server"
)

// application encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger
	Config    *config.Config
	Store     repository.GameStore
	Persister *manager.Persister
	Manager   *manager.Manager
	Publisher *events.Publisher
	Hub       *server.Hub
	Upgrader  *websocket.Upgrader
	Server    *http.Server

	closers   []func() error
	StartTime time.Time
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialize application error", zap.Error(err))
	}

	if err := app.serve(ctx); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:    logger,
		Config:    cfg,
		Publisher: events.NewPublisher(),
		StartTime: time.Now(),
	}

	if !app.Auth.Enabled() {
		logger.Warn("no API keys configured, authentication disabled")
	}

	// Initialize repository
	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		sink, err := events.NewNATSSink(natsCfg, logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sink.Attach(app.Publisher)
		app.closers = append(app.closers, sink.Close)
	}

	clock := clockwork.NewRealClock()

	app.Persister = manager.NewPersister(app.Store, manager.PersisterConfig{
		MaxAttempts: cfg.Persist.MaxAttempts,
		MinBackoff:  cfg.Persist.MinBackoff,
		MaxBackoff:  cfg.Persist.MaxBackoff,
		SaveTimeout: cfg.Persist.SaveTimeout,
	}, clock, logger)

	registry := manager.NewRegistry(app.Store, app.Persister, clock, cfg.EvictAfter, logger)

	// Initialize match manager
	app.Manager = manager.NewManager(
		registry,
		rules.NewChessValidator(),
		app.Publisher,
		clock,
		manager.Config{GracePeriod: cfg.GracePeriod, TickInterval: cfg.TickInterval},
		logger,
	)

	app.Hub = server.NewHub(app.Manager, app.Publisher, server.DefaultConnectionConfig(), logger)
	app.Upgrader = newUpgrader(cfg.FrontendOrigins)

	if lister, ok := app.Store.(repository.LiveLister); ok {
		if _, err := app.Manager.RecoverLive(ctx, lister); err != nil {
			logger.Warn("failed to recover live matches", zap.Error(err))
		}
	}

	return app, nil
}

func (app *application) openStore(ctx context.Context) error {
	cfg := app.Config.Store

	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := repository.NewPostgresStore(ctx, cfg.DB.DSN(), app.Logger)
		if err != nil {
			return err
		}
		app.Store = store
		app.closers = append(app.closers, func() error {
			store.Close()
			return nil
		})

	case config.DriverRedis:
		store, err := repository.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisTTL, app.Logger)
		if err != nil {
			return err
		}
		app.Store = store
		app.closers = append(app.closers, store.Close)

	default:
		app.Store = repository.NewInMemoryStore(app.Logger)
	}

	app.Logger.Info("snapshot store ready", zap.String("driver", cfg.Driver))
	return nil
}

// newUpgrader only accepts the configured frontend origins. Without any it
// falls back to gorilla's same-origin check.
func newUpgrader(origins []string) *websocket.Upgrader {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	if len(origins) > 0 {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}

	return upgrader
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources once the server and background loops stopped
func (app *application) Shutdown() {
	app.Manager.Registry().Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Persister.Close(ctx); err != nil {
		app.Logger.Warn("unsaved snapshots at shutdown", zap.Error(err))
	}

	app.close()
	app.Logger.Info("All components shut down successfully")
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.Logger.Warn("close error", zap.Error(err))
		}
	}
	app.closers = nil
}
