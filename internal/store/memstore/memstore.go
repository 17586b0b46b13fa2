// Package memstore is a goroutine-safe in-memory implementation of
// store.Store, used for tests and single-process deployments.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type embeddingKey struct {
	modelRunID string
	clipID     string
}

type Store struct {
	mu            sync.RWMutex
	embeddings    map[embeddingKey]model.ClipEmbedding
	embeddingKeys []embeddingKey
	sessions      map[string]model.SearchSession
	results       map[string][]model.SearchResult
	resultTags    map[string]map[string][]string
	distributions map[string][]model.IterationScoreDistribution
	models        map[string]model.CustomModel
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.EmbeddingWriter = (*Store)(nil)
)

func New() *Store {
	return &Store{
		embeddings:    make(map[embeddingKey]model.ClipEmbedding),
		sessions:      make(map[string]model.SearchSession),
		results:       make(map[string][]model.SearchResult),
		resultTags:    make(map[string]map[string][]string),
		distributions: make(map[string][]model.IterationScoreDistribution),
		models:        make(map[string]model.CustomModel),
	}
}

// PutEmbedding inserts or replaces a clip embedding. Pool order follows
// first insertion.
func (s *Store) PutEmbedding(emb model.ClipEmbedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := embeddingKey{modelRunID: emb.ModelRunID, clipID: emb.ClipID}
	if _, ok := s.embeddings[key]; !ok {
		s.embeddingKeys = append(s.embeddingKeys, key)
	}
	emb.Vector = vecmath.Clone(emb.Vector)
	s.embeddings[key] = emb
}

func (s *Store) PutEmbeddings(ctx context.Context, items []model.ClipEmbedding) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.PutEmbedding(item)
	}
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, clipID, modelRunID string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[embeddingKey{modelRunID: modelRunID, clipID: clipID}]
	if !ok {
		return nil, false, nil
	}
	return vecmath.Clone(emb.Vector), true, nil
}

func (s *Store) GetEmbeddings(ctx context.Context, modelRunID string, clipIDs []string) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float32, len(clipIDs))
	for _, id := range clipIDs {
		if emb, ok := s.embeddings[embeddingKey{modelRunID: modelRunID, clipID: id}]; ok {
			out[id] = vecmath.Clone(emb.Vector)
		}
	}
	return out, nil
}

func (s *Store) ScanPool(ctx context.Context, scope model.DatasetScope, modelRunID string, batchSize int, fn func([]model.ClipEmbedding) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	s.mu.RLock()
	keys := make([]embeddingKey, len(s.embeddingKeys))
	copy(keys, s.embeddingKeys)
	s.mu.RUnlock()

	datasets := make(map[string]struct{}, len(scope.DatasetIDs))
	for _, id := range scope.DatasetIDs {
		datasets[id] = struct{}{}
	}
	batch := make([]model.ClipEmbedding, 0, batchSize)
	for _, key := range keys {
		if key.modelRunID != modelRunID {
			continue
		}
		s.mu.RLock()
		emb, ok := s.embeddings[key]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if !scope.All {
			if _, ok := datasets[emb.DatasetID]; !ok {
				continue
			}
		}
		batch = append(batch, emb)
		if len(batch) == batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]model.ClipEmbedding, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *model.SearchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return appErr.ErrConflict
	}
	s.sessions[sess.ID] = cloneSession(*sess)
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.SearchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, sess *model.SearchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return appErr.ErrNotFound
	}
	cur.CurrentIteration = sess.CurrentIteration
	cur.IsSearchComplete = sess.IsSearchComplete
	cur.IsLabelingComplete = sess.IsLabelingComplete
	cur.IsFinalized = sess.IsFinalized
	cur.FinalizedModelID = sess.FinalizedModelID
	cur.Mtime = sess.Mtime
	s.sessions[sess.ID] = cur
	return nil
}

// DeleteSession drops the session with its results, tags and distributions.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return appErr.ErrNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.results, sessionID)
	delete(s.resultTags, sessionID)
	delete(s.distributions, sessionID)
	return nil
}

func (s *Store) CreateResults(ctx context.Context, results []model.SearchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]map[string]struct{})
	for _, r := range results {
		clips, ok := seen[r.SessionID]
		if !ok {
			clips = make(map[string]struct{})
			for _, existing := range s.results[r.SessionID] {
				clips[existing.ClipID] = struct{}{}
			}
			seen[r.SessionID] = clips
		}
		if _, dup := clips[r.ClipID]; dup {
			return appErr.ErrConflict
		}
		clips[r.ClipID] = struct{}{}
	}
	for _, r := range results {
		r.TagIDs = nil
		s.results[r.SessionID] = append(s.results[r.SessionID], r)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, sessionID, resultID string) (*model.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results[sessionID] {
		if r.ID == resultID {
			out := s.withTagsLocked(r)
			return &out, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (s *Store) ListResults(ctx context.Context, sessionID string, filter model.ResultFilter) ([]model.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SearchResult, 0, len(s.results[sessionID]))
	for _, r := range s.results[sessionID] {
		r = s.withTagsLocked(r)
		if filter.Iteration != nil && r.IterationAdded != *filter.Iteration {
			continue
		}
		if filter.SampleType != "" && r.SampleType != filter.SampleType {
			continue
		}
		if filter.Labeled != nil && r.IsLabeled() != *filter.Labeled {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IterationAdded != out[j].IterationAdded {
			return out[i].IterationAdded < out[j].IterationAdded
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

func (s *Store) ListClipIDs(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.results[sessionID]))
	for _, r := range s.results[sessionID] {
		ids = append(ids, r.ClipID)
	}
	return ids, nil
}

func (s *Store) UpdateLabelState(ctx context.Context, sessionID, resultID string, state model.LabelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.results[sessionID]
	for i := range items {
		if items[i].ID != resultID {
			continue
		}
		items[i].IsNegative = state.IsNegative
		items[i].IsUncertain = state.IsUncertain
		items[i].IsSkipped = state.IsSkipped
		items[i].LabeledBy = state.LabeledBy
		items[i].LabeledOn = state.LabeledOn
		return nil
	}
	return appErr.ErrNotFound
}

func (s *Store) AddResultTag(ctx context.Context, sessionID, resultID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasResultLocked(sessionID, resultID) {
		return appErr.ErrNotFound
	}
	tags, ok := s.resultTags[sessionID]
	if !ok {
		tags = make(map[string][]string)
		s.resultTags[sessionID] = tags
	}
	for _, id := range tags[resultID] {
		if id == tagID {
			return appErr.ErrDuplicateLabel
		}
	}
	tags[resultID] = append(tags[resultID], tagID)
	return nil
}

func (s *Store) RemoveResultTag(ctx context.Context, sessionID, resultID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := s.resultTags[sessionID][resultID]
	for i, id := range tags {
		if id == tagID {
			s.resultTags[sessionID][resultID] = append(tags[:i:i], tags[i+1:]...)
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (s *Store) ListResultTags(ctx context.Context, sessionID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.resultTags[sessionID]))
	for resultID, tags := range s.resultTags[sessionID] {
		if len(tags) == 0 {
			continue
		}
		out[resultID] = append([]string(nil), tags...)
	}
	return out, nil
}

func (s *Store) AppendDistribution(ctx context.Context, dist *model.IterationScoreDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.distributions[dist.SessionID] {
		if d.TagID == dist.TagID && d.Iteration == dist.Iteration {
			return appErr.ErrConflict
		}
	}
	s.distributions[dist.SessionID] = append(s.distributions[dist.SessionID], *dist)
	return nil
}

func (s *Store) ListDistributions(ctx context.Context, sessionID string) ([]model.IterationScoreDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.IterationScoreDistribution(nil), s.distributions[sessionID]...), nil
}

func (s *Store) CreateCustomModel(ctx context.Context, m *model.CustomModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m.ID]; ok {
		return appErr.ErrConflict
	}
	s.models[m.ID] = *m
	return nil
}

func (s *Store) GetCustomModel(ctx context.Context, modelID string) (*model.CustomModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[modelID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &m, nil
}

func (s *Store) UpdateCustomModel(ctx context.Context, m *model.CustomModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m.ID]; !ok {
		return appErr.ErrNotFound
	}
	s.models[m.ID] = *m
	return nil
}

func (s *Store) ListCustomModelsBySession(ctx context.Context, sessionID string) ([]model.CustomModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CustomModel, 0)
	for _, m := range s.models {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ctime != out[j].Ctime {
			return out[i].Ctime < out[j].Ctime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) hasResultLocked(sessionID, resultID string) bool {
	for _, r := range s.results[sessionID] {
		if r.ID == resultID {
			return true
		}
	}
	return false
}

func (s *Store) withTagsLocked(r model.SearchResult) model.SearchResult {
	if r.ModelScore != nil {
		score := *r.ModelScore
		r.ModelScore = &score
	}
	r.TagIDs = append([]string(nil), s.resultTags[r.SessionID][r.ID]...)
	return r
}

func cloneSession(sess model.SearchSession) model.SearchSession {
	sess.Tags = append([]model.TargetTag(nil), sess.Tags...)
	refs := make([]model.ReferenceSound, len(sess.References))
	for i, ref := range sess.References {
		ref.Embedding = vecmath.Clone(ref.Embedding)
		refs[i] = ref
	}
	sess.References = refs
	sess.Scope.DatasetIDs = append([]string(nil), sess.Scope.DatasetIDs...)
	return sess
}
