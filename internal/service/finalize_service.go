package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/classifier"
	"github.com/xxxsen/birdsearch/internal/filestore"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/training"
)

type FinalizeRequest struct {
	Name           string `json:"name"`
	ExportSnapshot bool   `json:"export_snapshot"`
}

type FinalizeService struct {
	store    store.Store
	trainer  *training.Trainer
	files    filestore.Store
	exporter SnapshotExporter
	cache    *modelcache.InterimCache
	locker   *SessionLocker
}

func NewFinalizeService(st store.Store, trainer *training.Trainer, files filestore.Store, exporter SnapshotExporter, cache *modelcache.InterimCache, locker *SessionLocker) *FinalizeService {
	return &FinalizeService{store: st, trainer: trainer, files: files, exporter: exporter, cache: cache, locker: locker}
}

func artifactKey(modelID string) string {
	return "models/" + modelID + ".msgpack"
}

// Finalize trains the deployable classifier on every trainable label of the
// session's primary tag and marks the session finalized. No model record is
// created when the session is already finalized or lacks training data.
func (s *FinalizeService) Finalize(ctx context.Context, userID, sessionID string, req FinalizeRequest) (*model.CustomModel, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsFinalized {
		return nil, fmt.Errorf("session %s already finalized: %w", sessionID, appErr.ErrInvalidSessionState)
	}
	existing, err := s.store.ListCustomModelsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if m.Status == model.CustomModelDeployed {
			return nil, fmt.Errorf("session %s already has deployed model %s: %w", sessionID, m.ID, appErr.ErrInvalidSessionState)
		}
	}
	tag, ok := sess.PrimaryTag()
	if !ok {
		return nil, fmt.Errorf("session has no target tags: %w", appErr.ErrInvalidSessionState)
	}
	results, err := s.store.ListResults(ctx, sessionID, model.ResultFilter{})
	if err != nil {
		return nil, err
	}
	ds, err := s.trainer.LoadDataset(ctx, sess, results, tag.TagID)
	if err != nil {
		return nil, err
	}
	opts := s.trainer.Options()
	if err := training.CheckMinimums(ds, opts.MinPositive, opts.MinNegative); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = sess.Name
	}
	now := timeutil.NowUnix()
	cm := &model.CustomModel{
		ID:            uuid.NewString(),
		ProjectID:     sess.ProjectID,
		SessionID:     sess.ID,
		Name:          name,
		TagID:         tag.TagID,
		Kind:          classifier.KindLinearSVM,
		PositiveCount: ds.Positives,
		NegativeCount: ds.Negatives,
		Status:        model.CustomModelPending,
		Ctime:         now,
		Mtime:         now,
	}
	if err := s.store.CreateCustomModel(ctx, cm); err != nil {
		return nil, fmt.Errorf("create custom model: %w", err)
	}
	logger = logger.With(zap.String("model_id", cm.ID))
	if err := s.setStatus(ctx, cm, model.CustomModelTraining, ""); err != nil {
		return nil, err
	}

	clf, err := classifier.New(classifier.KindLinearSVM, opts.Classifier)
	if err != nil {
		return nil, s.fail(ctx, cm, err)
	}
	X, y := ds.XY()
	if err := clf.Fit(X, y); err != nil {
		logger.Error("final classifier fit failed", zap.Error(err))
		return nil, s.fail(ctx, cm, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, cm, err)
	}
	data, err := classifier.Marshal(clf)
	if err != nil {
		return nil, s.fail(ctx, cm, err)
	}
	key := artifactKey(cm.ID)
	if err := s.files.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, s.fail(ctx, cm, fmt.Errorf("save artifact: %w", err))
	}
	cm.ArtifactPath = key
	if err := s.setStatus(ctx, cm, model.CustomModelTrained, ""); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, cm, model.CustomModelDeployed, ""); err != nil {
		return nil, err
	}

	sess.IsFinalized = true
	sess.IsSearchComplete = true
	sess.FinalizedModelID = cm.ID
	sess.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateProgress(ctx, sess); err != nil {
		logger.Error("mark session finalized failed", zap.Error(err))
		return nil, s.fail(ctx, cm, fmt.Errorf("mark session finalized: %w", err))
	}
	if req.ExportSnapshot && s.exporter != nil {
		if loc, err := s.exporter.Export(ctx, sess, cm, results); err != nil {
			logger.Warn("snapshot export failed", zap.Error(err))
		} else {
			logger.Info("snapshot exported", zap.String("location", loc))
		}
	}
	if s.cache != nil {
		s.cache.Evict(sess.ID)
	}
	logger.Info("session finalized",
		zap.String("user_id", userID),
		zap.Int("positives", cm.PositiveCount),
		zap.Int("negatives", cm.NegativeCount),
	)
	return cm, nil
}

func (s *FinalizeService) setStatus(ctx context.Context, cm *model.CustomModel, status model.CustomModelStatus, msg string) error {
	cm.Status = status
	cm.ErrorMessage = msg
	cm.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateCustomModel(ctx, cm); err != nil {
		return fmt.Errorf("update custom model status to %s: %w", status, err)
	}
	return nil
}

// fail records the failure on the model and returns a training failure.
// The record update uses a fresh context so cancellation is still persisted.
func (s *FinalizeService) fail(ctx context.Context, cm *model.CustomModel, cause error) error {
	if err := s.setStatus(context.WithoutCancel(ctx), cm, model.CustomModelFailed, cause.Error()); err != nil {
		logutil.GetLogger(ctx).Error("record model failure", zap.String("model_id", cm.ID), zap.Error(err))
	}
	return fmt.Errorf("%w: %w", appErr.ErrTrainingFailure, cause)
}
