package dbutil

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalize_RebindsAndSwapsLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM search_results WHERE session_id = ? LIMIT ?, ?", []interface{}{"s1", 10, 20})
	require.Equal(t, "SELECT id FROM search_results WHERE session_id = $1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"s1", 20, 10}, args)
}

func TestFinalize_NoLimit(t *testing.T) {
	query, args := Finalize("DELETE FROM search_result_tags WHERE result_id = ? AND tag_id = ?", []interface{}{"r1", "t1"})
	require.Equal(t, "DELETE FROM search_result_tags WHERE result_id = $1 AND tag_id = $2", query)
	require.Len(t, args, 2)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.True(t, IsConflict(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	require.False(t, IsConflict(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(fmt.Errorf("boom")))
}
