package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/oracle_layer/internal/app"
	"github.com/R3E-Network/oracle_layer/internal/app/httpapi"
	"github.com/R3E-Network/oracle_layer/internal/app/snapshot"
	"github.com/R3E-Network/oracle_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/oracle_layer/internal/config"
	"github.com/R3E-Network/oracle_layer/internal/platform/migrations"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	handler    *httpapi.Handler
	httpServer *http.Server
	db         *sql.DB
	snapshots  snapshot.Store
}

// NewApplication constructs the oracle from cfg.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := logger.New(cfg.Logging)

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		closeDB(db, log)
		return nil, fmt.Errorf("configure snapshots: %w", err)
	}
	stores.Snapshots = snapshots

	application, err := app.New(cfg, stores, log)
	if err != nil {
		closeDB(db, log)
		closeSnapshots(snapshots, log)
		return nil, err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		OperatorTokens: cfg.OperatorTokens,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AuditLogPath:   cfg.Server.AuditLogPath,
		Log:            log,
	})
	if err != nil {
		closeDB(db, log)
		closeSnapshots(snapshots, log)
		return nil, err
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		handler: handler,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		db:        db,
		snapshots: snapshots,
	}, nil
}

// App exposes the wired services, mainly for one-shot CLI commands.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server, blocking until ctx is
// cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background services and
// releases the stores.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.handler.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit log")
	}
	closeSnapshots(a.snapshots, a.log)
	closeDB(a.db, a.log)
	return errors.Join(errs...)
}

// Close releases the stores without touching the HTTP server.
func (a *Application) Close() {
	_ = a.handler.Close()
	closeSnapshots(a.snapshots, a.log)
	closeDB(a.db, a.log)
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		log.Warn("database.dsn not set; feeds and balances are kept in memory")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if cfg.Database.Migrate {
		if err := migrations.Up(db); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
	}

	store := postgres.New(db)
	return app.Stores{Feeds: store, Balances: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openSnapshotStore(cfg *config.Config) (snapshot.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Snapshot.Backend)) {
	case "", config.SnapshotNone:
		return nil, nil
	case config.SnapshotRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := snapshot.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Snapshot.Key)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SnapshotLevelDB:
		store, err := snapshot.OpenLevelDB(cfg.Snapshot.Path, cfg.Snapshot.Key)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}

func closeDB(db *sql.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}

func closeSnapshots(store snapshot.Store, log *logger.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("error closing snapshot store")
	}
}

// Migrate applies the embedded schema to the configured database.
func Migrate(cfg config.DatabaseConfig) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Up(db)
}
