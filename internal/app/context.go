package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/migrate"
	"taskpilot/internal/repo"
	"taskpilot/internal/service"
)

// App bundles the storage backend and task service built from a config.
type App struct {
	Config *config.Config
	Tasks  *service.Tasks
	// SQLite is set only when the sqlite driver is in use.
	SQLite *repo.SQLite
	conn   *sql.DB
}

// Open builds the repository selected by cfg, applying migrations for SQLite
// and seeding sample tasks when cfg.Seed is set and the store is empty.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{Config: cfg}
	var r repo.Repository
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		r = repo.NewMemory()
	case config.StorageSQLite:
		conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Storage.Path})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		path := cfg.Storage.Path
		if path == "" {
			path = db.Path(workspace)
		}
		logger.DebugContext(ctx, "database ready", "path", path, "schema_version", version)
		s := repo.NewSQLite(conn)
		a.SQLite = &s
		a.conn = conn
		r = s
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	a.Tasks = service.New(r, logger)
	if cfg.Seed {
		n, err := Seed(ctx, a.Tasks)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		if n > 0 {
			logger.InfoContext(ctx, "seeded sample tasks", "count", n)
		}
	}
	return a, nil
}

func (a *App) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// Seed inserts the sample task set into an empty store and reports how many
// tasks were added. A non-empty store is left untouched.
func Seed(ctx context.Context, tasks *service.Tasks) (int, error) {
	existing, err := tasks.Repo.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	now := tasks.Now
	if now == nil {
		now = time.Now
	}
	day := 24 * time.Hour
	inDays := func(n int) *time.Time {
		t := now().Add(time.Duration(n) * day)
		return &t
	}
	proposal, err := tasks.Create(ctx, service.CreateInput{
		Title:           ptr("Complete project proposal"),
		Description:     ptr("Draft and finalize the Q1 project proposal document"),
		Deadline:        inDays(2),
		EstimatedEffort: ptr(5.0),
		Impact:          ptr(9.0),
	})
	if err != nil {
		return 0, err
	}
	if _, err := tasks.Create(ctx, service.CreateInput{
		Title:           ptr("Review team feedback"),
		Description:     ptr("Analyze and incorporate team feedback from last sprint"),
		Deadline:        inDays(7),
		EstimatedEffort: ptr(3.0),
		Impact:          ptr(6.0),
		Dependencies:    []string{proposal.ID},
	}); err != nil {
		return 1, err
	}
	if _, err := tasks.Create(ctx, service.CreateInput{
		Title:           ptr("Update documentation"),
		Description:     ptr("Update API documentation with new endpoints"),
		Deadline:        inDays(14),
		EstimatedEffort: ptr(4.0),
		Impact:          ptr(5.0),
	}); err != nil {
		return 2, err
	}
	return 3, nil
}

func ptr[T any](v T) *T {
	return &v
}
