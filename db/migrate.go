package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL DEFAULT '',
			twitch_login TEXT NOT NULL DEFAULT '',
			update_days TEXT NOT NULL DEFAULT '',
			update_time TEXT NOT NULL DEFAULT '',
			notify_role_id TEXT NOT NULL DEFAULT '',
			event_count INTEGER NOT NULL DEFAULT 5,
			weeks_to_show INTEGER NOT NULL DEFAULT 1,
			template_url TEXT NOT NULL DEFAULT '',
			font_url TEXT NOT NULL DEFAULT '',
			log_channel_id TEXT NOT NULL DEFAULT '',
			pinned_message_id TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id SERIAL PRIMARY KEY,
			run_id TEXT,
			guild_id TEXT,
			triggered_by TEXT,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			segments INTEGER,
			messages_posted INTEGER,
			outcome TEXT,
			error TEXT,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_guild ON sync_runs(guild_id, started_at DESC)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
