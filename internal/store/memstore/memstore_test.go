package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

func TestCreateResults_RejectsDuplicateClip(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateResults(ctx, []model.SearchResult{{ID: "r1", SessionID: "s1", ClipID: "c1"}}))
	err := s.CreateResults(ctx, []model.SearchResult{{ID: "r2", SessionID: "s1", ClipID: "c1"}})
	require.ErrorIs(t, err, appErr.ErrConflict)
	err = s.CreateResults(ctx, []model.SearchResult{
		{ID: "r3", SessionID: "s1", ClipID: "c2"},
		{ID: "r4", SessionID: "s1", ClipID: "c2"},
	})
	require.ErrorIs(t, err, appErr.ErrConflict)
	require.NoError(t, s.CreateResults(ctx, []model.SearchResult{{ID: "r5", SessionID: "s2", ClipID: "c1"}}))

	ids, err := s.ListClipIDs(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, ids)
}

func TestResultTags(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateResults(ctx, []model.SearchResult{{ID: "r1", SessionID: "s1", ClipID: "c1"}}))
	require.NoError(t, s.AddResultTag(ctx, "s1", "r1", "t1"))
	require.ErrorIs(t, s.AddResultTag(ctx, "s1", "r1", "t1"), appErr.ErrDuplicateLabel)
	require.ErrorIs(t, s.AddResultTag(ctx, "s1", "missing", "t1"), appErr.ErrNotFound)

	r, err := s.GetResult(ctx, "s1", "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, r.TagIDs)

	require.NoError(t, s.RemoveResultTag(ctx, "s1", "r1", "t1"))
	require.ErrorIs(t, s.RemoveResultTag(ctx, "s1", "r1", "t1"), appErr.ErrNotFound)
	r, err = s.GetResult(ctx, "s1", "r1")
	require.NoError(t, err)
	require.Empty(t, r.TagIDs)
}

func TestScanPool_ScopeAndBatches(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, ds := range []string{"a", "b", "a", "a", "b"} {
		s.PutEmbedding(model.ClipEmbedding{ClipID: string(rune('0' + i)), ModelRunID: "run", DatasetID: ds, Vector: []float32{1}})
	}
	s.PutEmbedding(model.ClipEmbedding{ClipID: "other", ModelRunID: "run2", DatasetID: "a", Vector: []float32{1}})

	var sizes []int
	total := 0
	err := s.ScanPool(ctx, model.DatasetScope{DatasetIDs: []string{"a"}}, "run", 2, func(batch []model.ClipEmbedding) error {
		sizes = append(sizes, len(batch))
		total += len(batch)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, sizes)
	require.Equal(t, 3, total)

	total = 0
	err = s.ScanPool(ctx, model.DatasetScope{All: true}, "run", 10, func(batch []model.ClipEmbedding) error {
		total += len(batch)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, total)
}

func TestDistributionsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := &model.IterationScoreDistribution{ID: "d1", SessionID: "s1", TagID: "t1", Iteration: 1}
	require.NoError(t, s.AppendDistribution(ctx, d))
	require.ErrorIs(t, s.AppendDistribution(ctx, &model.IterationScoreDistribution{ID: "d2", SessionID: "s1", TagID: "t1", Iteration: 1}), appErr.ErrConflict)
	list, err := s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, &model.SearchSession{ID: "s1"}))
	require.NoError(t, s.CreateResults(ctx, []model.SearchResult{{ID: "r1", SessionID: "s1", ClipID: "c1"}}))
	require.NoError(t, s.AddResultTag(ctx, "s1", "r1", "t1"))
	require.NoError(t, s.AppendDistribution(ctx, &model.IterationScoreDistribution{ID: "d1", SessionID: "s1", TagID: "t1", Iteration: 1}))

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err := s.GetSession(ctx, "s1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	ids, err := s.ListClipIDs(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, ids)
	dists, err := s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, dists)
	require.ErrorIs(t, s.DeleteSession(ctx, "s1"), appErr.ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, &model.SearchSession{ID: "s1"}))
	require.NoError(t, s.CreateResults(ctx, []model.SearchResult{{ID: "r1", SessionID: "s1", ClipID: "c1"}}))
}
