package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	files, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, "0001_init.sql", files[0])

	content, err := fs.ReadFile(migrationsFS, "migrations/"+files[0])
	require.NoError(t, err)
	stmts := statements(string(content))
	require.Contains(t, stmts[0], "CREATE EXTENSION IF NOT EXISTS vector")
	joined := string(content)
	require.Contains(t, joined, "uniq_search_results_session_clip ON search_results (session_id, clip_id)")
	require.Contains(t, joined, "PRIMARY KEY (result_id, tag_id)")
	for _, stmt := range stmts {
		require.NotEmpty(t, stmt)
	}
}
