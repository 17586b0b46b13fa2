// Package pool streams candidate embeddings for a session, skipping clips
// already in the session and degenerate vectors.
package pool

import (
	"context"
	"math/rand"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type Source struct {
	Store      store.EmbeddingStore
	Scope      model.DatasetScope
	ModelRunID string
	BatchSize  int
}

// Each calls fn for every usable clip not in exclude.
func (s Source) Each(ctx context.Context, exclude map[string]struct{}, fn func(model.ClipEmbedding) error) error {
	return s.Store.ScanPool(ctx, s.Scope, s.ModelRunID, s.BatchSize, func(batch []model.ClipEmbedding) error {
		for _, item := range batch {
			if _, skip := exclude[item.ClipID]; skip {
				continue
			}
			if vecmath.IsDegenerate(item.Vector) {
				continue
			}
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reservoir returns a uniform sample of at most size usable clips.
func (s Source) Reservoir(ctx context.Context, exclude map[string]struct{}, size int, rng *rand.Rand) ([]model.ClipEmbedding, error) {
	if size <= 0 {
		return nil, nil
	}
	out := make([]model.ClipEmbedding, 0, size)
	seen := 0
	err := s.Each(ctx, exclude, func(item model.ClipEmbedding) error {
		seen++
		if len(out) < size {
			out = append(out, item)
			return nil
		}
		if j := rng.Intn(seen); j < size {
			out[j] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func Set(ids ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, group := range ids {
		for _, id := range group {
			out[id] = struct{}{}
		}
	}
	return out
}
