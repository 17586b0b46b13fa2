package training

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

func TestLabelFor(t *testing.T) {
	tests := []struct {
		name   string
		result model.SearchResult
		label  int
		ok     bool
	}{
		{name: "negative without tags", result: model.SearchResult{IsNegative: true}, label: 0, ok: true},
		{name: "target tag", result: model.SearchResult{TagIDs: []string{"owl"}}, label: 1, ok: true},
		{name: "uncertain with target tag", result: model.SearchResult{TagIDs: []string{"owl"}, IsUncertain: true}, ok: false},
		{name: "skipped", result: model.SearchResult{IsNegative: true, IsSkipped: true}, ok: false},
		{name: "negative wins over tag", result: model.SearchResult{TagIDs: []string{"owl"}, IsNegative: true}, label: 0, ok: true},
		{name: "other target tag only", result: model.SearchResult{TagIDs: []string{"wren"}}, label: 0, ok: true},
		{name: "target among several", result: model.SearchResult{TagIDs: []string{"wren", "owl"}}, label: 1, ok: true},
		{name: "unlabeled", result: model.SearchResult{}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, ok := LabelFor(&tt.result, "owl")
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.label, label)
			}
		})
	}
}

func TestBuildDataset(t *testing.T) {
	results := []model.SearchResult{
		{ID: "r1", ClipID: "c1", TagIDs: []string{"owl"}},
		{ID: "r2", ClipID: "c2", IsNegative: true},
		{ID: "r3", ClipID: "c3", TagIDs: []string{"owl"}, IsUncertain: true},
		{ID: "r4", ClipID: "c4", TagIDs: []string{"owl"}},
		{ID: "r5", ClipID: "c5", TagIDs: []string{"owl"}},
		{ID: "r6", ClipID: "c6"},
	}
	embeddings := map[string][]float32{
		"c1": {1, 0},
		"c2": {0, 1},
		"c3": {1, 1},
		"c4": {0, 0},
		"c6": {1, 1},
	}
	ds := BuildDataset(results, embeddings, "owl")
	require.Equal(t, 1, ds.Positives)
	require.Equal(t, 1, ds.Negatives)
	X, y := ds.XY()
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, X)
	require.Equal(t, []int{1, 0}, y)

	pos, neg := CountLabels(results, "owl")
	require.Equal(t, 3, pos)
	require.Equal(t, 1, neg)
}

func TestCheckMinimums(t *testing.T) {
	ds := &Dataset{TagID: "owl", Positives: 3, Negatives: 1}
	err := CheckMinimums(ds, 3, 3)
	require.ErrorIs(t, err, appErr.ErrInsufficientTrainingData)
	var insufficient *appErr.InsufficientTrainingDataError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 0, insufficient.MorePositives())
	require.Equal(t, 2, insufficient.MoreNegatives())
	require.Contains(t, err.Error(), "2 more negative")

	require.NoError(t, CheckMinimums(&Dataset{Positives: 3, Negatives: 3}, 3, 3))
}

func TestHistogram(t *testing.T) {
	h := NewHistogram()
	for _, s := range []float64{0, 0.04, 0.05, 0.5, 0.999, 1, 1.2, -0.1} {
		h.Add(s)
	}
	edges := h.Edges()
	require.Len(t, edges, 21)
	require.Equal(t, 0.0, edges[0])
	require.Equal(t, 1.0, edges[20])
	counts := h.Counts()
	require.Len(t, counts, model.HistogramBins)
	require.Equal(t, 3, counts[0])
	require.Equal(t, 1, counts[1])
	require.Equal(t, 1, counts[10])
	require.Equal(t, 3, counts[19])
	require.Equal(t, 8, h.Total())
}
