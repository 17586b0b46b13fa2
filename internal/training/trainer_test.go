package training

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/store/memstore"
)

// seedClusters stores n clips near (+1, +1, +1) and n near (-1, -1, -1).
func seedClusters(s *memstore.Store, n int) {
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 2*n; i++ {
		sign := float32(1)
		prefix := "pos"
		if i >= n {
			sign, prefix = -1, "neg"
		}
		vec := make([]float32, 3)
		for j := range vec {
			vec[j] = sign + float32(rng.NormFloat64()*0.3)
		}
		s.PutEmbedding(model.ClipEmbedding{ClipID: fmt.Sprintf("%s%02d", prefix, i%n), ModelRunID: "run", DatasetID: "ds", Vector: vec})
	}
}

func labeledResults(pos, neg int) []model.SearchResult {
	var out []model.SearchResult
	for i := 0; i < pos; i++ {
		out = append(out, model.SearchResult{ID: fmt.Sprintf("rp%d", i), SessionID: "s1", ClipID: fmt.Sprintf("pos%02d", i), TagIDs: []string{"owl"}})
	}
	for i := 0; i < neg; i++ {
		out = append(out, model.SearchResult{ID: fmt.Sprintf("rn%d", i), SessionID: "s1", ClipID: fmt.Sprintf("neg%02d", i), IsNegative: true})
	}
	return out
}

func testSession() *model.SearchSession {
	return &model.SearchSession{
		ID:         "s1",
		Tags:       []model.TargetTag{{TagID: "owl", Name: "Owl", Shortcut: 1}},
		ModelRunID: "run",
		Scope:      model.DatasetScope{All: true},
	}
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func TestTrainIteration_RecordsDistribution(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedClusters(s, 20)
	cache := modelcache.NewInterimCache(4, time.Minute)
	tr := NewTrainer(s, s, cache, DefaultOptions())

	out, err := tr.TrainIteration(ctx, testSession(), labeledResults(4, 4), 1)
	require.NoError(t, err)
	require.Equal(t, 4, out.Positives)
	require.Equal(t, 4, out.Negatives)
	require.Equal(t, 1, out.Iteration)

	dist := out.Distribution
	require.Equal(t, 1, dist.Iteration)
	require.Equal(t, "owl", dist.TagID)
	require.Len(t, dist.BinEdges, 21)
	require.Len(t, dist.BinCounts, 20)
	total := 0
	for _, c := range dist.BinCounts {
		total += c
	}
	require.Equal(t, 32, total)
	require.Len(t, dist.PositiveScores, 4)
	require.Len(t, dist.NegativeScores, 4)
	require.Greater(t, mean(dist.PositiveScores), mean(dist.NegativeScores))

	stored, err := s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, stored)
	_, ok := cache.Get("s1")
	require.False(t, ok)

	require.NoError(t, tr.Record(ctx, "s1", out))
	stored, err = s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	entry, ok := cache.Get("s1")
	require.True(t, ok)
	require.Equal(t, 1, entry.Iteration)
	require.Greater(t, entry.Classifier.Score([]float32{1, 1, 1}), entry.Classifier.Score([]float32{-1, -1, -1}))
}

func TestRecord_KeepsEarlierRowForSameIteration(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedClusters(s, 20)
	cache := modelcache.NewInterimCache(4, time.Minute)
	tr := NewTrainer(s, s, cache, DefaultOptions())

	first, err := tr.TrainIteration(ctx, testSession(), labeledResults(4, 4), 1)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, "s1", first))

	again, err := tr.TrainIteration(ctx, testSession(), labeledResults(4, 4), 1)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, "s1", again))

	stored, err := s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, first.Distribution.ID, stored[0].ID)
	entry, ok := cache.Get("s1")
	require.True(t, ok)
	require.Equal(t, 1, entry.Iteration)
}

func TestInterim_MatchesCurrentIteration(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedClusters(s, 20)
	cache := modelcache.NewInterimCache(4, time.Minute)
	tr := NewTrainer(s, s, cache, DefaultOptions())

	sess := testSession()
	_, ok := tr.Interim(sess)
	require.False(t, ok)

	out, err := tr.TrainIteration(ctx, sess, labeledResults(4, 4), 1)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, sess.ID, out))
	_, ok = tr.Interim(sess)
	require.False(t, ok, "session has not committed iteration 1 yet")

	sess.CurrentIteration = 1
	clf, ok := tr.Interim(sess)
	require.True(t, ok)
	require.Greater(t, clf.Score([]float32{1, 1, 1}), clf.Score([]float32{-1, -1, -1}))

	sess.IsFinalized = true
	_, ok = tr.Interim(sess)
	require.False(t, ok)
}

func TestTrainIteration_InsufficientData(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedClusters(s, 10)
	tr := NewTrainer(s, s, nil, DefaultOptions())

	_, err := tr.TrainIteration(ctx, testSession(), labeledResults(3, 1), 1)
	require.ErrorIs(t, err, appErr.ErrInsufficientTrainingData)
	var insufficient *appErr.InsufficientTrainingDataError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 3, insufficient.Positives)
	require.Equal(t, 1, insufficient.Negatives)
	require.Equal(t, 0, insufficient.MorePositives())
	require.Equal(t, 2, insufficient.MoreNegatives())
	stored, err := s.ListDistributions(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, stored)
}
