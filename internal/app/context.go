package app

import (
	"context"
	"fmt"

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/engine"
	"boardline/internal/migrate"
)

// OpenWorkspace opens the workspace database, applies migrations, loads the
// workspace config and seeds the system templates on first use. Every entry
// point (CLI commands, the server) goes through here so a fresh directory
// behaves the same everywhere.
func OpenWorkspace(ctx context.Context, workspace, actorID string) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, fmt.Errorf("open workspace db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("load config: %w", err)
	}
	eng := engine.New(conn, cfg)
	if actorID == "" {
		actorID = cfg.Workspace.DefaultActor
	}
	if _, err := eng.SeedDefaultTemplates(ctx, actorID); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("seed templates: %w", err)
	}
	return eng, nil
}
