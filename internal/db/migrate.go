package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrate applies every *.sql file in dir that schema_migrations has not
// seen yet, in lexical order. It returns the files it applied.
func Migrate(ctx context.Context, pool *Pool, dir string, log zerolog.Logger) ([]string, error) {
	if err := ensureSchemaTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("db.Migrate: ensure schema table: %w", err)
	}
	files, err := listSQLFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("db.Migrate: list %s: %w", dir, err)
	}

	var applied []string
	for _, file := range files {
		name := filepath.Base(file)
		done, err := isApplied(ctx, pool, name)
		if err != nil {
			return applied, fmt.Errorf("db.Migrate: check %s: %w", name, err)
		}
		if done {
			continue
		}
		if err := applyMigration(ctx, pool, file, name); err != nil {
			return applied, fmt.Errorf("db.Migrate: apply %s: %w", name, err)
		}
		log.Info().Str("file", name).Msg("migration applied")
		applied = append(applied, name)
	}
	return applied, nil
}

func ensureSchemaTable(ctx context.Context, pool *Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *Pool, name string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// applyMigration runs the file and records it in one transaction so a
// failed file can be fixed and retried.
func applyMigration(ctx context.Context, pool *Pool, file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if sql := strings.TrimSpace(string(data)); sql != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
