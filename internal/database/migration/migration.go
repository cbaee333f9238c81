// Package migration applies the embedded schema migrations with goose.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the migration sources.
func Files() (fs.FS, error) {
	return fs.Sub(embedded, "sql")
}

// Up applies every pending migration and logs each applied step.
func Up(ctx context.Context, db *sql.DB, log *zap.Logger, dbHost string) error {
	start := time.Now()
	log = log.With(zap.String("component", "database"), zap.String("db_host", dbHost))
	log.Info("db_migration_start")

	fsys, err := Files()
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		log.Error("db_migration_failed", zap.Error(err))
		return fmt.Errorf("init migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	for _, r := range results {
		fields := []zap.Field{
			zap.String("migration_step", r.Source.Path),
			zap.Int64("version", r.Source.Version),
			zap.Int64("step_duration_ms", r.Duration.Milliseconds()),
		}
		if r.Error != nil {
			log.Error("db_migration_failed", append(fields, zap.Error(r.Error))...)
			continue
		}
		log.Info("db_migration_step", fields...)
	}
	if err != nil {
		log.Error("db_migration_failed", zap.Error(err), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("db_migration_success",
		zap.Int("applied", len(results)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
