package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"plcgate/internal/config"
	"plcgate/internal/copilot"
	"plcgate/internal/db"
	"plcgate/internal/engine"
	"plcgate/internal/metrics"
	"plcgate/internal/migrate"
	"plcgate/internal/server"
)

// App wires the store, engine, copilot and metrics for one workspace.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Copilot copilot.Copilot
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Open prepares the workspace database, applies migrations and builds the
// engine. Callers must Close the app.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = cfg.Logger()
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", "path", db.Path(cfg.Database.Workspace), "schema_version", version)

	m := metrics.New()
	e := engine.New(conn, cfg, m)
	return &App{
		Config: cfg,
		DB:     conn,
		Engine: e,
		Copilot: copilot.Copilot{
			Backend:           e,
			Metrics:           m,
			Logger:            logger.With("component", "copilot"),
			TraceSummaryChars: cfg.Copilot.TraceSummaryChars,
		},
		Metrics: m,
		Logger:  logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Handler builds the HTTP API for this app.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   a.Engine,
		Copilot:  a.Copilot,
		Metrics:  a.Metrics,
		BasePath: a.Config.Server.BasePath,
		Logger:   a.Logger.With("component", "http"),
	})
}
