package training

import (
	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type Sample struct {
	ResultID string
	ClipID   string
	Vector   []float32
	Label    int
}

type Dataset struct {
	TagID     string
	Samples   []Sample
	Positives int
	Negatives int
}

// LabelFor maps a result to a binary label for tagID. A negative flag wins
// over any assigned tag; uncertain, skipped and unlabeled results are
// excluded.
func LabelFor(r *model.SearchResult, tagID string) (int, bool) {
	if r.IsUncertain || r.IsSkipped {
		return 0, false
	}
	if r.IsNegative {
		return 0, true
	}
	if r.HasTag(tagID) {
		return 1, true
	}
	if len(r.TagIDs) > 0 {
		return 0, true
	}
	return 0, false
}

// CountLabels counts positives and negatives for tagID without embeddings.
func CountLabels(results []model.SearchResult, tagID string) (int, int) {
	var pos, neg int
	for i := range results {
		label, ok := LabelFor(&results[i], tagID)
		if !ok {
			continue
		}
		if label == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

// BuildDataset assembles the training pairs for tagID. Results whose
// embedding is missing or degenerate are dropped.
func BuildDataset(results []model.SearchResult, embeddings map[string][]float32, tagID string) *Dataset {
	ds := &Dataset{TagID: tagID}
	for i := range results {
		r := &results[i]
		label, ok := LabelFor(r, tagID)
		if !ok {
			continue
		}
		vec, ok := embeddings[r.ClipID]
		if !ok || vecmath.IsDegenerate(vec) {
			continue
		}
		ds.Samples = append(ds.Samples, Sample{ResultID: r.ID, ClipID: r.ClipID, Vector: vec, Label: label})
		if label == 1 {
			ds.Positives++
		} else {
			ds.Negatives++
		}
	}
	return ds
}

func (d *Dataset) XY() ([][]float32, []int) {
	X := make([][]float32, 0, len(d.Samples))
	y := make([]int, 0, len(d.Samples))
	for _, s := range d.Samples {
		X = append(X, s.Vector)
		y = append(y, s.Label)
	}
	return X, y
}

func CheckMinimums(d *Dataset, minPositive, minNegative int) error {
	if d.Positives >= minPositive && d.Negatives >= minNegative {
		return nil
	}
	return &appErr.InsufficientTrainingDataError{
		TagID:        d.TagID,
		Positives:    d.Positives,
		Negatives:    d.Negatives,
		MinPositives: minPositive,
		MinNegatives: minNegative,
	}
}
