// Package store declares the persistence contracts consumed by the
// active-learning services. Records reference each other by id only.
package store

import (
	"context"

	"github.com/xxxsen/birdsearch/internal/model"
)

type EmbeddingStore interface {
	GetEmbedding(ctx context.Context, clipID, modelRunID string) ([]float32, bool, error)
	GetEmbeddings(ctx context.Context, modelRunID string, clipIDs []string) (map[string][]float32, error)
	// ScanPool streams every embedding in scope in batches of at most batchSize.
	ScanPool(ctx context.Context, scope model.DatasetScope, modelRunID string, batchSize int, fn func([]model.ClipEmbedding) error) error
}

// EmbeddingWriter loads clip embeddings into a backend. Existing
// (model run, clip) pairs are replaced.
type EmbeddingWriter interface {
	PutEmbeddings(ctx context.Context, items []model.ClipEmbedding) error
}

// VectorSearcher is implemented by stores that can run top-K queries in the
// index. Degenerate rows must never be returned.
type VectorSearcher interface {
	NearestClips(ctx context.Context, scope model.DatasetScope, modelRunID string, query []float32, metric model.DistanceMetric, limit int, exclude []string) ([]model.ScoredClip, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, sess *model.SearchSession) error
	GetSession(ctx context.Context, sessionID string) (*model.SearchSession, error)
	UpdateProgress(ctx context.Context, sess *model.SearchSession) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type ResultStore interface {
	// CreateResults fails with ErrConflict if any (session, clip) pair exists.
	CreateResults(ctx context.Context, results []model.SearchResult) error
	GetResult(ctx context.Context, sessionID, resultID string) (*model.SearchResult, error)
	ListResults(ctx context.Context, sessionID string, filter model.ResultFilter) ([]model.SearchResult, error)
	ListClipIDs(ctx context.Context, sessionID string) ([]string, error)
	UpdateLabelState(ctx context.Context, sessionID, resultID string, state model.LabelState) error
}

type ResultTagStore interface {
	// AddResultTag fails with ErrDuplicateLabel if the tag is already assigned.
	AddResultTag(ctx context.Context, sessionID, resultID, tagID string) error
	RemoveResultTag(ctx context.Context, sessionID, resultID, tagID string) error
	ListResultTags(ctx context.Context, sessionID string) (map[string][]string, error)
}

type DistributionStore interface {
	AppendDistribution(ctx context.Context, dist *model.IterationScoreDistribution) error
	ListDistributions(ctx context.Context, sessionID string) ([]model.IterationScoreDistribution, error)
}

type CustomModelStore interface {
	CreateCustomModel(ctx context.Context, m *model.CustomModel) error
	GetCustomModel(ctx context.Context, modelID string) (*model.CustomModel, error)
	UpdateCustomModel(ctx context.Context, m *model.CustomModel) error
	ListCustomModelsBySession(ctx context.Context, sessionID string) ([]model.CustomModel, error)
}

// Store bundles every contract a backend must satisfy.
type Store interface {
	EmbeddingStore
	SessionStore
	ResultStore
	ResultTagStore
	DistributionStore
	CustomModelStore
}
