package sampler

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/ranker"
	"github.com/xxxsen/birdsearch/internal/store/memstore"
)

// seedArc places n unit vectors on a quarter circle; c000 sits on (1, 0).
func seedArc(s *memstore.Store, n int) {
	for i := 0; i < n; i++ {
		theta := float64(i) / float64(n) * math.Pi / 2
		s.PutEmbedding(model.ClipEmbedding{
			ClipID:     fmt.Sprintf("c%03d", i),
			ModelRunID: "run",
			DatasetID:  "ds",
			Vector:     []float32{float32(math.Cos(theta)), float32(math.Sin(theta))},
		})
	}
}

func newSession(k, n, m, p int) *model.SearchSession {
	return &model.SearchSession{
		ID:             "sess",
		Tags:           []model.TargetTag{{TagID: "tag", Shortcut: 1}},
		References:     []model.ReferenceSound{{TagID: "tag", Embedding: []float32{1, 0}}},
		Params:         model.SamplingParams{EasyPositiveK: k, BoundaryN: n, BoundaryM: m, OthersP: p},
		DistanceMetric: model.DistanceCosine,
		ModelRunID:     "run",
		Scope:          model.DatasetScope{All: true},
	}
}

func newSampler(s *memstore.Store) *Sampler {
	opts := DefaultOptions()
	opts.ScanBatchSize = 16
	return New(ranker.New(s, ranker.WithBatchSize(16)), s, opts)
}

func byType(round *Round, t model.SampleType) []model.SearchResult {
	var out []model.SearchResult
	for _, r := range round.Results {
		if r.SampleType == t {
			out = append(out, r)
		}
	}
	return out
}

func TestInitial_EasyPositivesOrdered(t *testing.T) {
	s := memstore.New()
	seedArc(s, 100)
	sess := newSession(5, 0, 0, 0)

	round, err := newSampler(s).Initial(context.Background(), sess, sess.References, nil)
	require.NoError(t, err)
	easy := byType(round, model.SampleEasyPositive)
	require.Len(t, easy, 5)
	for i, r := range easy {
		require.Equal(t, fmt.Sprintf("c%03d", i), r.ClipID)
		require.Equal(t, i+1, r.Rank)
		require.Equal(t, "tag", r.SourceTagID)
		if i > 0 {
			require.LessOrEqual(t, r.Similarity, easy[i-1].Similarity)
		}
	}
	require.False(t, round.Exhausted)
}

func TestInitial_StrategiesDisjoint(t *testing.T) {
	s := memstore.New()
	seedArc(s, 100)
	sess := newSession(5, 20, 6, 4)

	round, err := newSampler(s).Initial(context.Background(), sess, sess.References, nil)
	require.NoError(t, err)
	require.Len(t, byType(round, model.SampleEasyPositive), 5)
	boundary := byType(round, model.SampleBoundary)
	require.Len(t, boundary, 6)
	require.Len(t, byType(round, model.SampleOthers), 4)
	require.Equal(t, 15, round.Requested)

	seen := make(map[string]struct{})
	for _, r := range round.Results {
		_, dup := seen[r.ClipID]
		require.False(t, dup, r.ClipID)
		seen[r.ClipID] = struct{}{}
	}
	// easy positives are excluded before the band skips another K ranks
	for _, r := range boundary {
		var idx int
		_, err := fmt.Sscanf(r.ClipID, "c%03d", &idx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 10)
		require.Less(t, idx, 30)
	}
}

func TestInitial_SkipsExistingClips(t *testing.T) {
	s := memstore.New()
	seedArc(s, 30)
	sess := newSession(3, 0, 0, 0)

	round, err := newSampler(s).Initial(context.Background(), sess, sess.References, []string{"c000", "c001"})
	require.NoError(t, err)
	easy := byType(round, model.SampleEasyPositive)
	require.Len(t, easy, 3)
	require.Equal(t, "c002", easy[0].ClipID)
}

func TestInitial_ExhaustedPool(t *testing.T) {
	s := memstore.New()
	seedArc(s, 6)
	sess := newSession(3, 10, 5, 5)

	round, err := newSampler(s).Initial(context.Background(), sess, sess.References, nil)
	require.NoError(t, err)
	require.True(t, round.Exhausted)
	require.Len(t, round.Results, 6)
}

func TestInitial_NoUsableReference(t *testing.T) {
	s := memstore.New()
	seedArc(s, 6)
	sess := newSession(3, 0, 0, 0)
	sess.References[0].Embedding = []float32{0, 0}

	_, err := newSampler(s).Initial(context.Background(), sess, sess.References, nil)
	require.Error(t, err)
}

// angleScorer scores clips by their angle, crossing 0.5 halfway along the arc.
type angleScorer struct{}

func (angleScorer) Score(x []float32) float64 {
	return 1 - math.Atan2(float64(x[1]), float64(x[0]))/(math.Pi/2)
}

func TestActiveLearning_NearestBoundary(t *testing.T) {
	s := memstore.New()
	seedArc(s, 100)
	sess := newSession(5, 20, 4, 8)

	round, err := newSampler(s).ActiveLearning(context.Background(), sess, angleScorer{}, sess.References, []string{"c050"}, 2)
	require.NoError(t, err)
	require.Equal(t, 6, round.Requested)
	require.Len(t, round.Results, 6)

	for i, r := range round.Results[:4] {
		require.NotNil(t, r.ModelScore)
		require.Equal(t, 2, r.IterationAdded)
		require.Equal(t, model.SampleActiveLearning, r.SampleType)
		require.NotEqual(t, "c050", r.ClipID)
		require.Less(t, math.Abs(*r.ModelScore-0.5), 0.031)
		if i > 0 {
			prev := math.Abs(*round.Results[i-1].ModelScore - 0.5)
			require.GreaterOrEqual(t, math.Abs(*r.ModelScore-0.5), prev)
		}
	}
	seen := map[string]struct{}{"c050": {}}
	for _, r := range round.Results {
		_, dup := seen[r.ClipID]
		require.False(t, dup)
		seen[r.ClipID] = struct{}{}
		require.NotNil(t, r.ModelScore)
	}
}

func TestFarthestFirst(t *testing.T) {
	candidates := []model.ClipEmbedding{
		{ClipID: "near", Vector: []float32{1, 0.01}},
		{ClipID: "far", Vector: []float32{0, 1}},
		{ClipID: "mid", Vector: []float32{1, 1}},
	}
	out := farthestFirst(candidates, [][]float32{{1, 0}}, 2, model.DistanceCosine)
	require.Len(t, out, 2)
	require.Equal(t, "far", out[0].ClipID)
	require.Equal(t, "mid", out[1].ClipID)

	require.Len(t, farthestFirst(candidates, nil, 10, model.DistanceEuclidean), 3)
	require.Empty(t, farthestFirst(candidates, nil, 0, model.DistanceCosine))
}

func TestBoundaryHeap(t *testing.T) {
	h := &boundaryHeap{k: 2}
	for i, score := range []float64{0.1, 0.45, 0.9, 0.52, 0.5} {
		h.offer(scoredEmbedding{emb: model.ClipEmbedding{ClipID: fmt.Sprintf("c%d", i)}, score: score})
	}
	out := h.sorted()
	require.Len(t, out, 2)
	require.Equal(t, "c4", out[0].emb.ClipID)
	require.Equal(t, "c3", out[1].emb.ClipID)
}
