package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

type migration struct {
	Version int
	Up      string
}

var migrations = []migration{
	{
		Version: 1,
		Up: `
		CREATE TABLE IF NOT EXISTS channels (
			id SERIAL PRIMARY KEY,
			username VARCHAR(64) UNIQUE NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS media_files (
			id SERIAL PRIMARY KEY,
			message_id BIGINT UNIQUE NOT NULL,
			channel_username VARCHAR(64) NOT NULL,
			file_name TEXT NOT NULL,
			file_type VARCHAR(16) NOT NULL CHECK (file_type IN ('audio', 'pdf')),
			s3_key TEXT,
			downloaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			approved BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_media_files_channel ON media_files(channel_username);
		CREATE INDEX IF NOT EXISTS idx_media_files_approved ON media_files(approved);
		`,
	},
	{
		Version: 2,
		Up: `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(255) UNIQUE NOT NULL,
			hashed_password TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
}

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.Db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := p.Db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return err
		}
		slog.Info("Applied migration", slog.Int("version", m.Version))
	}
	return nil
}

func (p *Postgres) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.Db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("run migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
