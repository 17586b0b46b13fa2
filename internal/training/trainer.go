package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/classifier"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/pool"
	"github.com/xxxsen/birdsearch/internal/store"
)

type Options struct {
	MinPositive         int
	MinNegative         int
	PseudoLabelPoolSize int
	ScanBatchSize       int
	Seed                int64
	Classifier          classifier.Options
}

func DefaultOptions() Options {
	return Options{
		MinPositive:         3,
		MinNegative:         3,
		PseudoLabelPoolSize: 500,
		ScanBatchSize:       2000,
		Seed:                42,
		Classifier:          classifier.DefaultOptions(),
	}
}

type Trainer struct {
	embeddings store.EmbeddingStore
	dists      store.DistributionStore
	cache      *modelcache.InterimCache
	opts       Options
}

func NewTrainer(embeddings store.EmbeddingStore, dists store.DistributionStore, cache *modelcache.InterimCache, opts Options) *Trainer {
	return &Trainer{embeddings: embeddings, dists: dists, cache: cache, opts: opts}
}

func (t *Trainer) Options() Options {
	return t.opts
}

type IterationOutcome struct {
	Classifier   classifier.Classifier
	Iteration    int
	Positives    int
	Negatives    int
	Distribution *model.IterationScoreDistribution
}

// LoadDataset resolves embeddings for the trainable results and builds the
// dataset for tagID.
func (t *Trainer) LoadDataset(ctx context.Context, sess *model.SearchSession, results []model.SearchResult, tagID string) (*Dataset, error) {
	clipIDs := make([]string, 0, len(results))
	for i := range results {
		if _, ok := LabelFor(&results[i], tagID); ok {
			clipIDs = append(clipIDs, results[i].ClipID)
		}
	}
	embeddings, err := t.embeddings.GetEmbeddings(ctx, sess.ModelRunID, clipIDs)
	if err != nil {
		return nil, fmt.Errorf("load training embeddings: %w", err)
	}
	return BuildDataset(results, embeddings, tagID), nil
}

// TrainIteration fits the interim classifier for the session's primary tag
// and computes its score distribution over the unlabeled pool. Nothing is
// persisted; Record commits the outcome once the iteration's results are saved.
func (t *Trainer) TrainIteration(ctx context.Context, sess *model.SearchSession, results []model.SearchResult, iteration int) (*IterationOutcome, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.ID), zap.Int("iteration", iteration))
	tag, ok := sess.PrimaryTag()
	if !ok {
		return nil, fmt.Errorf("session has no target tags: %w", appErr.ErrInvalidSessionState)
	}
	ds, err := t.LoadDataset(ctx, sess, results, tag.TagID)
	if err != nil {
		return nil, err
	}
	if err := CheckMinimums(ds, t.opts.MinPositive, t.opts.MinNegative); err != nil {
		return nil, err
	}

	src := pool.Source{Store: t.embeddings, Scope: sess.Scope, ModelRunID: sess.ModelRunID, BatchSize: t.opts.ScanBatchSize}
	labeled := make([]string, 0, len(ds.Samples))
	for _, s := range ds.Samples {
		labeled = append(labeled, s.ClipID)
	}
	exclude := pool.Set(labeled, referenceClipIDs(sess))
	rng := rand.New(rand.NewSource(t.opts.Seed + int64(iteration)))
	unlabeled, err := src.Reservoir(ctx, exclude, t.opts.PseudoLabelPoolSize, rng)
	if err != nil {
		return nil, fmt.Errorf("sample unlabeled pool: %w", err)
	}

	X, y := ds.XY()
	for _, item := range unlabeled {
		X = append(X, item.Vector)
		y = append(y, classifier.Unlabeled)
	}
	clf, err := classifier.New(classifier.KindSelfTrainingSVM, t.opts.Classifier)
	if err != nil {
		return nil, err
	}
	if err := clf.Fit(X, y); err != nil {
		logger.Warn("interim classifier fit failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", appErr.ErrTrainingFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hist := NewHistogram()
	err = src.Each(ctx, exclude, func(item model.ClipEmbedding) error {
		hist.Add(clf.Score(item.Vector))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("score unlabeled pool: %w", err)
	}
	dist := &model.IterationScoreDistribution{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		TagID:          tag.TagID,
		Iteration:      iteration,
		BinEdges:       hist.Edges(),
		BinCounts:      hist.Counts(),
		PositiveCount:  ds.Positives,
		NegativeCount:  ds.Negatives,
		MeanScore:      hist.Mean(),
		PositiveScores: make([]float64, 0, ds.Positives),
		NegativeScores: make([]float64, 0, ds.Negatives),
		Ctime:          timeutil.NowUnix(),
	}
	for _, s := range ds.Samples {
		score := clf.Score(s.Vector)
		if s.Label == 1 {
			dist.PositiveScores = append(dist.PositiveScores, score)
		} else {
			dist.NegativeScores = append(dist.NegativeScores, score)
		}
	}
	logger.Info("interim classifier trained",
		zap.Int("positives", ds.Positives),
		zap.Int("negatives", ds.Negatives),
		zap.Int("unlabeled_sampled", len(unlabeled)),
		zap.Int("pool_scored", hist.Total()),
		zap.Float64("mean_score", dist.MeanScore),
	)
	return &IterationOutcome{Classifier: clf, Iteration: iteration, Positives: ds.Positives, Negatives: ds.Negatives, Distribution: dist}, nil
}

// Record appends the outcome's distribution and caches its classifier. A row
// already stored for the same iteration is left in place: it can only come
// from an earlier attempt whose progress update never landed.
func (t *Trainer) Record(ctx context.Context, sessionID string, out *IterationOutcome) error {
	if err := t.dists.AppendDistribution(ctx, out.Distribution); err != nil {
		if !errors.Is(err, appErr.ErrConflict) {
			return fmt.Errorf("save score distribution: %w", err)
		}
		logutil.GetLogger(ctx).Warn("score distribution already recorded",
			zap.String("session_id", sessionID),
			zap.Int("iteration", out.Iteration),
		)
	}
	if t.cache != nil {
		t.cache.Put(sessionID, out.Iteration, out.Classifier)
	}
	return nil
}

// Interim returns the cached classifier trained at the session's current
// iteration.
func (t *Trainer) Interim(sess *model.SearchSession) (classifier.Classifier, bool) {
	if t.cache == nil || sess.IsFinalized || sess.CurrentIteration == 0 {
		return nil, false
	}
	entry, ok := t.cache.Get(sess.ID)
	if !ok || entry.Iteration != sess.CurrentIteration {
		return nil, false
	}
	return entry.Classifier, true
}

func referenceClipIDs(sess *model.SearchSession) []string {
	ids := make([]string, 0, len(sess.References))
	for _, ref := range sess.References {
		if ref.ClipID != "" {
			ids = append(ids, ref.ClipID)
		}
	}
	return ids
}
