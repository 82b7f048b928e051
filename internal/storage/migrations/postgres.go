package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"crypto-ledger/internal/storage/postgres"
)

const postgresDir = "postgres"

// PostgresFiles lists the embedded migration files in apply order.
func PostgresFiles() ([]string, error) {
	entries, err := fs.ReadDir(PostgresFS, postgresDir)
	if err != nil {
		return nil, fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

// RunPostgresMigrations applies all embedded SQL files in lexical order and
// returns the names of the files it executed. Every file must be idempotent:
// the schema is re-applied on each start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := PostgresFiles()
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, path.Join(postgresDir, file))
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		// No arguments: pgx uses the simple protocol, so a file may hold several statements.
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.Debug("applied migration", zap.String("file", file))
		applied = append(applied, file)
	}

	return applied, nil
}
