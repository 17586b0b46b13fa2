package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/sampler"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/training"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type SessionOptions struct {
	DefaultParams           model.SamplingParams
	SearchCompleteThreshold int
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		DefaultParams:           model.SamplingParams{EasyPositiveK: 5, BoundaryN: 200, BoundaryM: 10, OthersP: 20},
		SearchCompleteThreshold: 2,
	}
}

type SessionService struct {
	store   store.Store
	sampler *sampler.Sampler
	trainer *training.Trainer
	locker  *SessionLocker
	opts    SessionOptions
}

func NewSessionService(st store.Store, smp *sampler.Sampler, trainer *training.Trainer, locker *SessionLocker, opts SessionOptions) *SessionService {
	return &SessionService{store: st, sampler: smp, trainer: trainer, locker: locker, opts: opts}
}

type ReferenceInput struct {
	TagID     string    `json:"tag_id"`
	ClipID    string    `json:"clip_id"`
	Embedding []float32 `json:"embedding"`
}

// SeedLabel is a label the user already holds for a clip; it enters the
// session as a labeled result.
type SeedLabel struct {
	ClipID     string `json:"clip_id"`
	TagID      string `json:"tag_id"`
	IsNegative bool   `json:"is_negative"`
}

type CreateSessionRequest struct {
	ProjectID      string                `json:"project_id"`
	Name           string                `json:"name"`
	Tags           []model.TargetTag     `json:"tags"`
	References     []ReferenceInput      `json:"references"`
	Seeds          []SeedLabel           `json:"seeds"`
	Params         *model.SamplingParams `json:"params"`
	DistanceMetric model.DistanceMetric  `json:"distance_metric"`
	ModelRunID     string                `json:"model_run_id"`
	Scope          model.DatasetScope    `json:"scope"`
}

func (s *SessionService) CreateSession(ctx context.Context, userID string, req CreateSessionRequest) (*model.SearchSession, error) {
	now := timeutil.NowUnix()
	sess := &model.SearchSession{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		Name:           strings.TrimSpace(req.Name),
		Tags:           req.Tags,
		DistanceMetric: req.DistanceMetric,
		ModelRunID:     strings.TrimSpace(req.ModelRunID),
		Scope:          req.Scope,
		CreatedBy:      userID,
		Ctime:          now,
		Mtime:          now,
	}
	if err := s.validateSession(sess, req.Params); err != nil {
		return nil, err
	}
	refs, err := s.resolveReferences(ctx, sess, req.References)
	if err != nil {
		return nil, err
	}
	sess.References = refs
	seeds, err := s.buildSeeds(sess, userID, req.Seeds, now)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 && len(seeds) == 0 {
		return nil, fmt.Errorf("session needs a reference sound or seed labels: %w", appErr.ErrInvalidSessionState)
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.saveSeeds(ctx, sess.ID, req.Seeds, seeds); err != nil {
		if derr := s.store.DeleteSession(context.WithoutCancel(ctx), sess.ID); derr != nil {
			logutil.GetLogger(ctx).Error("remove partially created session", zap.String("session_id", sess.ID), zap.Error(derr))
		}
		return nil, err
	}
	logutil.GetLogger(ctx).Info("search session created",
		zap.String("session_id", sess.ID),
		zap.Int("tags", len(sess.Tags)),
		zap.Int("references", len(refs)),
		zap.Int("seeds", len(seeds)),
	)
	return sess, nil
}

func (s *SessionService) saveSeeds(ctx context.Context, sessionID string, req []SeedLabel, seeds []model.SearchResult) error {
	if len(seeds) == 0 {
		return nil
	}
	if err := s.store.CreateResults(ctx, seeds); err != nil {
		return fmt.Errorf("save seed labels: %w", err)
	}
	for i, seed := range req {
		if seed.IsNegative || seed.TagID == "" {
			continue
		}
		if err := s.store.AddResultTag(ctx, sessionID, seeds[i].ID, seed.TagID); err != nil {
			return fmt.Errorf("save seed tag: %w", err)
		}
	}
	return nil
}

func (s *SessionService) validateSession(sess *model.SearchSession, params *model.SamplingParams) error {
	if sess.Name == "" {
		return fmt.Errorf("session name is required: %w", appErr.ErrInvalid)
	}
	if sess.ModelRunID == "" {
		return fmt.Errorf("model_run_id is required: %w", appErr.ErrInvalid)
	}
	if len(sess.Tags) == 0 {
		return fmt.Errorf("at least one target tag is required: %w", appErr.ErrInvalid)
	}
	shortcuts := make(map[int]struct{}, len(sess.Tags))
	tagIDs := make(map[string]struct{}, len(sess.Tags))
	for _, tag := range sess.Tags {
		if tag.TagID == "" {
			return fmt.Errorf("target tag id is required: %w", appErr.ErrInvalid)
		}
		if tag.Shortcut < 1 || tag.Shortcut > 9 {
			return fmt.Errorf("shortcut %d out of range 1-9: %w", tag.Shortcut, appErr.ErrInvalid)
		}
		if _, dup := shortcuts[tag.Shortcut]; dup {
			return fmt.Errorf("shortcut %d used twice: %w", tag.Shortcut, appErr.ErrInvalid)
		}
		if _, dup := tagIDs[tag.TagID]; dup {
			return fmt.Errorf("tag %s listed twice: %w", tag.TagID, appErr.ErrInvalid)
		}
		shortcuts[tag.Shortcut] = struct{}{}
		tagIDs[tag.TagID] = struct{}{}
	}
	if sess.DistanceMetric == "" {
		sess.DistanceMetric = model.DistanceCosine
	}
	if !sess.DistanceMetric.Valid() {
		return fmt.Errorf("unsupported distance metric %q: %w", sess.DistanceMetric, appErr.ErrInvalid)
	}
	sess.Params = s.opts.DefaultParams
	if params != nil {
		if params.EasyPositiveK < 0 || params.BoundaryN < 0 || params.BoundaryM < 0 || params.OthersP < 0 {
			return fmt.Errorf("sampling params must not be negative: %w", appErr.ErrInvalid)
		}
		sess.Params = *params
	}
	if !sess.Scope.All && len(sess.Scope.DatasetIDs) == 0 {
		sess.Scope.All = true
	}
	return nil
}

func (s *SessionService) resolveReferences(ctx context.Context, sess *model.SearchSession, inputs []ReferenceInput) ([]model.ReferenceSound, error) {
	refs := make([]model.ReferenceSound, 0, len(inputs))
	for _, in := range inputs {
		if !sess.HasTag(in.TagID) {
			return nil, fmt.Errorf("reference tag %s is not a target tag: %w", in.TagID, appErr.ErrInvalid)
		}
		vec := in.Embedding
		if len(vec) == 0 {
			if in.ClipID == "" {
				return nil, fmt.Errorf("reference needs clip_id or embedding: %w", appErr.ErrInvalid)
			}
			found, ok, err := s.store.GetEmbedding(ctx, in.ClipID, sess.ModelRunID)
			if err != nil {
				return nil, fmt.Errorf("load reference embedding: %w", err)
			}
			if !ok {
				return nil, fmt.Errorf("reference clip %s has no embedding: %w", in.ClipID, appErr.ErrInvalid)
			}
			vec = found
		}
		if vecmath.IsDegenerate(vec) {
			return nil, fmt.Errorf("reference embedding is degenerate: %w", appErr.ErrInvalid)
		}
		refs = append(refs, model.ReferenceSound{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			TagID:     in.TagID,
			ClipID:    in.ClipID,
			Embedding: vecmath.Clone(vec),
		})
	}
	return refs, nil
}

func (s *SessionService) buildSeeds(sess *model.SearchSession, userID string, seeds []SeedLabel, now int64) ([]model.SearchResult, error) {
	out := make([]model.SearchResult, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for i, seed := range seeds {
		if seed.ClipID == "" {
			return nil, fmt.Errorf("seed clip_id is required: %w", appErr.ErrInvalid)
		}
		if _, dup := seen[seed.ClipID]; dup {
			return nil, fmt.Errorf("seed clip %s listed twice: %w", seed.ClipID, appErr.ErrInvalid)
		}
		seen[seed.ClipID] = struct{}{}
		if !seed.IsNegative && !sess.HasTag(seed.TagID) {
			return nil, fmt.Errorf("seed tag %s is not a target tag: %w", seed.TagID, appErr.ErrInvalid)
		}
		out = append(out, model.SearchResult{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			ClipID:     seed.ClipID,
			Rank:       i + 1,
			SampleType: model.SampleSeed,
			IsNegative: seed.IsNegative,
			LabeledBy:  userID,
			LabeledOn:  now,
			Ctime:      now,
		})
	}
	return out, nil
}

type SampleOutcome struct {
	Session   *model.SearchSession `json:"session"`
	Results   []model.SearchResult `json:"results"`
	Requested int                  `json:"requested"`
	Exhausted bool                 `json:"exhausted"`
}

// RunInitialSampling populates iteration 0 with the easy-positive, boundary
// and others strategies.
func (s *SessionService) RunInitialSampling(ctx context.Context, sessionID string) (*SampleOutcome, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))

	sess, err := s.mutableSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentIteration != 0 {
		return nil, fmt.Errorf("initial sampling only runs at iteration 0: %w", appErr.ErrInvalidSessionState)
	}
	existing, err := s.store.ListResults(ctx, sessionID, model.ResultFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.SampleType != model.SampleSeed {
			return nil, fmt.Errorf("initial sampling already ran: %w", appErr.ErrInvalidSessionState)
		}
	}
	refs, err := s.samplingReferences(ctx, sess, existing)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no usable reference or positive seed: %w", appErr.ErrInvalidSessionState)
	}
	round, err := s.sampler.Initial(ctx, sess, refs, clipIDs(existing))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(round.Results) > 0 {
		if err := s.store.CreateResults(ctx, round.Results); err != nil {
			return nil, fmt.Errorf("save sampled results: %w", err)
		}
	}
	if round.Exhausted && !sess.IsSearchComplete {
		logger.Warn("candidate pool exhausted during initial sampling",
			zap.Int("requested", round.Requested), zap.Int("returned", len(round.Results)))
		sess.IsSearchComplete = true
		sess.Mtime = timeutil.NowUnix()
		if err := s.store.UpdateProgress(ctx, sess); err != nil {
			return nil, err
		}
	}
	logger.Info("initial sampling finished", zap.Int("results", len(round.Results)))
	return &SampleOutcome{Session: sess, Results: round.Results, Requested: round.Requested, Exhausted: round.Exhausted}, nil
}

type AdvanceOutcome struct {
	Session      *model.SearchSession              `json:"session"`
	Results      []model.SearchResult              `json:"results"`
	Distribution *model.IterationScoreDistribution `json:"distribution"`
	Sampled      bool                              `json:"sampled"`
}

// AdvanceIteration retrains the interim classifier, samples an
// active-learning round unless the search is complete, and moves the session
// to the next iteration.
func (s *SessionService) AdvanceIteration(ctx context.Context, sessionID string) (*AdvanceOutcome, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()

	sess, err := s.mutableSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next := sess.CurrentIteration + 1
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID), zap.Int("iteration", next))
	results, err := s.store.ListResults(ctx, sessionID, model.ResultFilter{})
	if err != nil {
		return nil, err
	}
	outcome, err := s.trainer.TrainIteration(ctx, sess, results, next)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &AdvanceOutcome{Session: sess, Distribution: outcome.Distribution, Results: []model.SearchResult{}}
	if !sess.IsSearchComplete {
		refs, err := s.samplingReferences(ctx, sess, results)
		if err != nil {
			return nil, err
		}
		round, err := s.sampler.ActiveLearning(ctx, sess, outcome.Classifier, refs, clipIDs(results), next)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(round.Results) > 0 {
			if err := s.store.CreateResults(ctx, round.Results); err != nil {
				return nil, fmt.Errorf("save active learning results: %w", err)
			}
		}
		out.Results = round.Results
		out.Sampled = true
		if round.Exhausted || len(round.Results) <= s.opts.SearchCompleteThreshold {
			logger.Info("search marked complete",
				zap.Int("new_results", len(round.Results)), zap.Bool("exhausted", round.Exhausted))
			sess.IsSearchComplete = true
		}
	}
	if err := s.trainer.Record(ctx, sess.ID, outcome); err != nil {
		return nil, err
	}
	sess.CurrentIteration = next
	sess.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateProgress(ctx, sess); err != nil {
		return nil, err
	}
	logger.Info("iteration advanced", zap.Int("new_results", len(out.Results)))
	return out, nil
}

func (s *SessionService) StopSearch(ctx context.Context, sessionID string) (*model.SearchSession, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()
	sess, err := s.mutableSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.IsSearchComplete = true
	sess.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateProgress(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) SetLabelingComplete(ctx context.Context, sessionID string, complete bool) (*model.SearchSession, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()
	sess, err := s.mutableSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.IsLabelingComplete = complete
	sess.Mtime = timeutil.NowUnix()
	if err := s.store.UpdateProgress(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.SearchSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListResults returns the session's results. Rows sampled before the current
// iteration's classifier existed get their model_score from it while it is
// still cached.
func (s *SessionService) ListResults(ctx context.Context, sessionID string, filter model.ResultFilter) ([]model.SearchResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, sessionID, filter)
	if err != nil {
		return nil, err
	}
	clf, ok := s.trainer.Interim(sess)
	if !ok {
		return results, nil
	}
	missing := make([]string, 0, len(results))
	for i := range results {
		if results[i].ModelScore == nil {
			missing = append(missing, results[i].ClipID)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}
	embeddings, err := s.store.GetEmbeddings(ctx, sess.ModelRunID, missing)
	if err != nil {
		return nil, fmt.Errorf("load result embeddings: %w", err)
	}
	for i := range results {
		if results[i].ModelScore != nil {
			continue
		}
		if vec, ok := embeddings[results[i].ClipID]; ok {
			score := clf.Score(vec)
			results[i].ModelScore = &score
		}
	}
	return results, nil
}

func (s *SessionService) Distributions(ctx context.Context, sessionID string) ([]model.IterationScoreDistribution, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListDistributions(ctx, sessionID)
}

type TagProgress struct {
	TagID string `json:"tag_id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Progress struct {
	SessionID          string        `json:"session_id"`
	Iteration          int           `json:"iteration"`
	Total              int           `json:"total"`
	Labeled            int           `json:"labeled"`
	Unlabeled          int           `json:"unlabeled"`
	Negative           int           `json:"negative"`
	Uncertain          int           `json:"uncertain"`
	Skipped            int           `json:"skipped"`
	Tags               []TagProgress `json:"tags"`
	PrimaryTagID       string        `json:"primary_tag_id"`
	TrainPositives     int           `json:"train_positives"`
	TrainNegatives     int           `json:"train_negatives"`
	MorePositives      int           `json:"more_positives"`
	MoreNegatives      int           `json:"more_negatives"`
	CanTrain           bool          `json:"can_train"`
	IsSearchComplete   bool          `json:"is_search_complete"`
	IsLabelingComplete bool          `json:"is_labeling_complete"`
	IsFinalized        bool          `json:"is_finalized"`
}

func (s *SessionService) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, sessionID, model.ResultFilter{})
	if err != nil {
		return nil, err
	}
	p := &Progress{
		SessionID:          sess.ID,
		Iteration:          sess.CurrentIteration,
		Total:              len(results),
		IsSearchComplete:   sess.IsSearchComplete,
		IsLabelingComplete: sess.IsLabelingComplete,
		IsFinalized:        sess.IsFinalized,
	}
	perTag := make(map[string]int, len(sess.Tags))
	for i := range results {
		r := &results[i]
		if r.IsLabeled() {
			p.Labeled++
		}
		if r.IsNegative {
			p.Negative++
		}
		if r.IsUncertain {
			p.Uncertain++
		}
		if r.IsSkipped {
			p.Skipped++
		}
		for _, tagID := range r.TagIDs {
			perTag[tagID]++
		}
	}
	p.Unlabeled = p.Total - p.Labeled
	for _, tag := range sess.Tags {
		p.Tags = append(p.Tags, TagProgress{TagID: tag.TagID, Name: tag.Name, Count: perTag[tag.TagID]})
	}
	if tag, ok := sess.PrimaryTag(); ok {
		opts := s.trainer.Options()
		p.PrimaryTagID = tag.TagID
		p.TrainPositives, p.TrainNegatives = training.CountLabels(results, tag.TagID)
		p.MorePositives = max(0, opts.MinPositive-p.TrainPositives)
		p.MoreNegatives = max(0, opts.MinNegative-p.TrainNegatives)
		p.CanTrain = p.MorePositives == 0 && p.MoreNegatives == 0
	}
	return p, nil
}

// CheckTrainable reports whether the session can be trained now: it must not
// be finalized and its primary tag must meet the label minimums.
func (s *SessionService) CheckTrainable(ctx context.Context, sessionID string) error {
	p, err := s.Progress(ctx, sessionID)
	if err != nil {
		return err
	}
	if p.IsFinalized {
		return fmt.Errorf("session %s is finalized: %w", sessionID, appErr.ErrInvalidSessionState)
	}
	if p.PrimaryTagID == "" {
		return fmt.Errorf("session has no target tags: %w", appErr.ErrInvalidSessionState)
	}
	if p.CanTrain {
		return nil
	}
	opts := s.trainer.Options()
	return &appErr.InsufficientTrainingDataError{
		TagID:        p.PrimaryTagID,
		Positives:    p.TrainPositives,
		Negatives:    p.TrainNegatives,
		MinPositives: opts.MinPositive,
		MinNegatives: opts.MinNegative,
	}
}

func (s *SessionService) mutableSession(ctx context.Context, sessionID string) (*model.SearchSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsFinalized {
		return nil, fmt.Errorf("session %s is finalized: %w", sessionID, appErr.ErrInvalidSessionState)
	}
	return sess, nil
}

// samplingReferences returns the session references, or the embeddings of
// positive seed labels when the session was created without references.
func (s *SessionService) samplingReferences(ctx context.Context, sess *model.SearchSession, results []model.SearchResult) ([]model.ReferenceSound, error) {
	if len(sess.References) > 0 {
		return sess.References, nil
	}
	var seeds []model.SearchResult
	for _, r := range results {
		if r.SampleType == model.SampleSeed && !r.IsNegative && len(r.TagIDs) > 0 {
			seeds = append(seeds, r)
		}
	}
	vecs, err := s.store.GetEmbeddings(ctx, sess.ModelRunID, clipIDs(seeds))
	if err != nil {
		return nil, fmt.Errorf("load seed embeddings: %w", err)
	}
	refs := make([]model.ReferenceSound, 0, len(seeds))
	for _, r := range seeds {
		vec, ok := vecs[r.ClipID]
		if !ok || vecmath.IsDegenerate(vec) {
			continue
		}
		refs = append(refs, model.ReferenceSound{SessionID: sess.ID, TagID: r.TagIDs[0], ClipID: r.ClipID, Embedding: vec})
	}
	return refs, nil
}

func clipIDs(results []model.SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ClipID)
	}
	return ids
}
