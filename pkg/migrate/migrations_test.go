package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
)

func embeddedSQL(t *testing.T) string {
	t.Helper()
	sub, err := fs.Sub(embedded, embeddedDir)
	require.NoError(t, err)

	var sb strings.Builder
	migrations, err := ValidateFS(sub)
	require.NoError(t, err)
	for _, m := range migrations {
		b, err := fs.ReadFile(sub, m.Name)
		require.NoError(t, err)
		sb.Write(b)
	}
	return sb.String()
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	migrations, err := ValidateEmbedded()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}

func TestMigrationsCreateEveryModelTable(t *testing.T) {
	sql := embeddedSQL(t)
	cache := &sync.Map{}
	for _, model := range models.All() {
		s, err := schema.Parse(model, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+s.Table+" (", s.Table)
		for _, field := range s.Fields {
			if field.DBName == "" {
				continue
			}
			assert.Contains(t, sql, "  "+field.DBName+" ", "%s.%s", s.Table, field.DBName)
		}
	}
}

func TestMigrationsKeepConstraints(t *testing.T) {
	sql := embeddedSQL(t)
	for _, sub := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_parameter_versions_kind_key_version",
		"PRIMARY KEY (build_id, table_name, grain_key)",
		"PRIMARY KEY (build_id, mart, grain_key, metric)",
		"cohort_month text PRIMARY KEY",
		"CREATE INDEX IF NOT EXISTS idx_raw_events_source_occurred",
	} {
		assert.Contains(t, sql, sub)
	}
}

func TestValidateFSRejectsBrokenFiles(t *testing.T) {
	ok := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\n"
	cases := map[string]fstest.MapFS{
		"bad name":     {"create.sql": {Data: []byte(ok)}},
		"no down":      {"20260101000000_a.sql": {Data: []byte("-- +goose Up\n")}},
		"unbalanced":   {"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")}},
		"dup versions": {"20260101000000_a.sql": {Data: []byte(ok)}, "20260101000000_b.sql": {Data: []byte(ok)}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateFS(fsys)
			assert.Error(t, err)
		})
	}

	migrations, err := ValidateFS(fstest.MapFS{
		"20260102000000_b.sql": {Data: []byte(ok)},
		"20260101000000_a.sql": {Data: []byte(ok)},
		"README.md":            {Data: []byte("notes")},
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "20260101000000", migrations[0].Version)
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Build Notes!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260301090000_add_build_notes.sql"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "-- add_build_notes")

	_, err = ValidateDir(dir)
	require.NoError(t, err)

	_, err = CreateSQLMigration(dir, "add build notes", now)
	assert.Error(t, err)

	_, err = CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}
