package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

type migration struct {
	Version  string
	SQL      string
	Checksum string
}

// loadMigrations reads the *.up.sql files in dir, ordered by version. Each
// file name must start with a numeric sequence ("0001_init.up.sql") that no
// other migration shares.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seqs := make(map[string]string)
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		version := strings.TrimSuffix(e.Name(), ".up.sql")
		seq, _, _ := strings.Cut(version, "_")
		if seq == "" || strings.Trim(seq, "0123456789") != "" {
			return nil, fmt.Errorf("migration %s: name must start with a number", e.Name())
		}
		if other, dup := seqs[seq]; dup {
			return nil, fmt.Errorf("migrations %s and %s share sequence %s", other, version, seq)
		}
		seqs[seq] = version

		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha3.Sum256(body)
		out = append(out, migration{Version: version, SQL: string(body), Checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// RunMigrations applies every migration in migrationsDir that is not yet
// recorded in schema_migrations, one transaction each. A recorded migration
// whose file has changed since it ran is reported, not re-applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string, log *zap.Logger) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ DEFAULT now()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}

	applied, err := appliedChecksums(ctx, pool)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != "" && sum != m.Checksum {
				log.Warn("applied migration has changed on disk",
					zap.String("version", m.Version),
					zap.String("recorded", sum),
					zap.String("current", m.Checksum),
				)
			}
			continue
		}

		start := time.Now()
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		ran++
		log.Info("migration applied", zap.String("version", m.Version), zap.Duration("took", time.Since(start)))
	}

	log.Info("migrations up to date", zap.Int("applied", ran), zap.Int("total", len(migrations)))
	return nil
}

func appliedChecksums(ctx context.Context, pool *pgxpool.Pool) (map[string]string, error) {
	rows, err := pool.Query(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		out[version] = sum
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)", m.Version, m.Checksum); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	return tx.Commit(ctx)
}
