package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/birdsearch/internal/classifier"
	"github.com/xxxsen/birdsearch/internal/filestore"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

// CustomModelService exposes finalized models to their consumers.
type CustomModelService struct {
	store  store.Store
	files  filestore.Store
	loader *modelcache.Loader
}

func NewCustomModelService(st store.Store, files filestore.Store, cacheSize int) (*CustomModelService, error) {
	s := &CustomModelService{store: st, files: files}
	loader, err := modelcache.NewLoader(cacheSize, s.loadArtifact)
	if err != nil {
		return nil, err
	}
	s.loader = loader
	return s, nil
}

func (s *CustomModelService) loadArtifact(ctx context.Context, modelID string) (classifier.Classifier, error) {
	cm, err := s.store.GetCustomModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if cm.ArtifactPath == "" {
		return nil, fmt.Errorf("model %s has no artifact: %w", modelID, appErr.ErrNotFound)
	}
	rc, err := s.files.Open(ctx, cm.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer rc.Close()
	return classifier.Load(rc)
}

func (s *CustomModelService) Get(ctx context.Context, modelID string) (*model.CustomModel, error) {
	return s.store.GetCustomModel(ctx, modelID)
}

func (s *CustomModelService) ListBySession(ctx context.Context, sessionID string) ([]model.CustomModel, error) {
	return s.store.ListCustomModelsBySession(ctx, sessionID)
}

// Archive retires a deployed model; archived models no longer score.
func (s *CustomModelService) Archive(ctx context.Context, modelID string) (*model.CustomModel, error) {
	cm, err := s.store.GetCustomModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if cm.Status != model.CustomModelDeployed {
		return nil, fmt.Errorf("model %s is %s, not deployed: %w", modelID, cm.Status, appErr.ErrInvalid)
	}
	cm.Status = model.CustomModelArchived
	cm.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateCustomModel(ctx, cm); err != nil {
		return nil, err
	}
	s.loader.Forget(modelID)
	return cm, nil
}

type ClipScore struct {
	ClipID string  `json:"clip_id"`
	Score  float64 `json:"score"`
}

type ScoreResult struct {
	ModelID string      `json:"model_id"`
	Scores  []ClipScore `json:"scores"`
	// Missing lists clips without a usable embedding for the model's run.
	Missing []string `json:"missing"`
}

func (s *CustomModelService) ScoreClips(ctx context.Context, modelID string, clipIDs []string) (*ScoreResult, error) {
	cm, err := s.store.GetCustomModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if cm.Status != model.CustomModelDeployed {
		return nil, fmt.Errorf("model %s is %s, not deployed: %w", modelID, cm.Status, appErr.ErrInvalid)
	}
	sess, err := s.store.GetSession(ctx, cm.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load model session: %w", err)
	}
	clf, err := s.loader.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	vecs, err := s.store.GetEmbeddings(ctx, sess.ModelRunID, clipIDs)
	if err != nil {
		return nil, err
	}
	out := &ScoreResult{ModelID: modelID, Scores: make([]ClipScore, 0, len(clipIDs)), Missing: []string{}}
	for _, id := range clipIDs {
		vec, ok := vecs[id]
		if !ok || vecmath.IsDegenerate(vec) {
			out.Missing = append(out.Missing, id)
			continue
		}
		out.Scores = append(out.Scores, ClipScore{ClipID: id, Score: clf.Score(vec)})
	}
	return out, nil
}
