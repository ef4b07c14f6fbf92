package migrate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationDirIsValid(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
	require.NoError(t, ValidateEmbedded())
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	embedded, err := EmbeddedFiles()
	require.NoError(t, err)

	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	sort.Strings(onDisk)

	require.Len(t, embedded, len(onDisk))
	for i := range onDisk {
		assert.Equal(t, filepath.Base(onDisk[i]), filepath.Base(embedded[i]))
	}
}

func TestLedgerMigrationGuardsBalances(t *testing.T) {
	content := readMigration(t, "*_create_credit_tables.sql")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS user_credits",
		"CHECK (balance >= 0)",
		"CREATE TABLE IF NOT EXISTS credit_transactions",
		"balance_after BIGINT NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_prediction_type",
		"CREATE TABLE IF NOT EXISTS model_pricing",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestGalleryMigrationEnforcesLifecycle(t *testing.T) {
	content := readMigration(t, "*_create_gallery_table.sql")
	for _, sub := range []string{
		"CONSTRAINT gallery_prediction_id_key UNIQUE (prediction_id)",
		"CHECK (status <> 'completed' OR public_url IS NOT NULL)",
		"idx_gallery_expires_at",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Gallery Tags!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_gallery_tags.sql"))
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101000000_broken.sql"), []byte(body), 0o644))
	assert.Error(t, ValidateDir(dir))
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	assert.Error(t, ValidateDir(dir))
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	require.NoError(t, err)
	require.NotEmpty(t, matches, pattern)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}
