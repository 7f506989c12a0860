package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_index.up.sql":  "CREATE INDEX x ON t (a);",
		"0001_init.up.sql":   "CREATE TABLE t (a INT);",
		"0001_init.down.sql": "DROP TABLE t;",
		"README.md":          "notes",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755))

	got, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0001_init", got[0].Version)
	assert.Equal(t, "CREATE TABLE t (a INT);", got[0].SQL)
	assert.Equal(t, "0002_index", got[1].Version)
	assert.Len(t, got[0].Checksum, 64)
	assert.NotEqual(t, got[0].Checksum, got[1].Checksum)
}

func TestLoadMigrationsChecksumTracksContent(t *testing.T) {
	a, err := loadMigrations(writeFiles(t, map[string]string{"0001_init.up.sql": "SELECT 1;"}))
	require.NoError(t, err)
	b, err := loadMigrations(writeFiles(t, map[string]string{"0001_init.up.sql": "SELECT 1;"}))
	require.NoError(t, err)
	c, err := loadMigrations(writeFiles(t, map[string]string{"0001_init.up.sql": "SELECT 2;"}))
	require.NoError(t, err)

	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.NotEqual(t, a[0].Checksum, c[0].Checksum)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no sequence", map[string]string{"init.up.sql": "SELECT 1;"}},
		{"shared sequence", map[string]string{"0001_a.up.sql": "SELECT 1;", "0001_b.up.sql": "SELECT 2;"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(writeFiles(t, tt.files))
			assert.Error(t, err)
		})
	}
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	_, err := loadMigrations(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	got, err := loadMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "0001_init", got[0].Version)
}
