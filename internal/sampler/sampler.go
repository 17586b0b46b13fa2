// Package sampler selects the clips a search session asks users to label.
package sampler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/pool"
	"github.com/xxxsen/birdsearch/internal/ranker"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type Options struct {
	// BoundarySkip is how many top-ranked clips the boundary band skips;
	// negative means EasyPositiveK.
	BoundarySkip             int
	Combine                  ranker.Combine
	DiversityCandidateCap    int
	ActiveLearningDiversityP int
	ScanBatchSize            int
	Seed                     int64
}

func DefaultOptions() Options {
	return Options{
		BoundarySkip:          -1,
		Combine:               ranker.CombineMean,
		DiversityCandidateCap: 2000,
		ScanBatchSize:         2000,
		Seed:                  42,
	}
}

type Sampler struct {
	ranker     *ranker.Ranker
	embeddings store.EmbeddingStore
	opts       Options

	mu  sync.Mutex
	rng *rand.Rand
}

func New(r *ranker.Ranker, embeddings store.EmbeddingStore, opts Options) *Sampler {
	if opts.DiversityCandidateCap <= 0 {
		opts.DiversityCandidateCap = 2000
	}
	if opts.Combine == "" {
		opts.Combine = ranker.CombineMean
	}
	return &Sampler{ranker: r, embeddings: embeddings, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

// Round is one sampling pass. Exhausted is set when the pool could not
// supply every requested clip.
type Round struct {
	Results   []model.SearchResult
	Requested int
	Exhausted bool
}

// Initial runs the easy-positive, boundary and others strategies.
// references must carry resolved embeddings; existing lists clips already in
// the session.
func (s *Sampler) Initial(ctx context.Context, sess *model.SearchSession, references []model.ReferenceSound, existing []string) (*Round, error) {
	refs := usable(references)
	if len(refs) == 0 {
		return nil, fmt.Errorf("no usable reference embeddings")
	}
	params := sess.Params
	exclude := pool.Set(existing, refClipIDs(references))
	round := &Round{}
	now := timeutil.NowUnix()

	easy, short, err := s.easyPositives(ctx, sess, refs, exclude, params.EasyPositiveK)
	if err != nil {
		return nil, fmt.Errorf("easy positive sampling: %w", err)
	}
	round.Requested += params.EasyPositiveK * len(refs)
	round.Exhausted = round.Exhausted || short
	for i, c := range easy {
		round.Results = append(round.Results, newResult(sess.ID, c.clip, model.SampleEasyPositive, i+1, 0, now, c.tagID))
		exclude[c.clip.ClipID] = struct{}{}
	}

	band, err := s.boundary(ctx, sess, refs, exclude)
	if err != nil {
		return nil, fmt.Errorf("boundary sampling: %w", err)
	}
	round.Requested += params.BoundaryM
	round.Exhausted = round.Exhausted || len(band) < params.BoundaryM
	for i, c := range band {
		round.Results = append(round.Results, newResult(sess.ID, c, model.SampleBoundary, i+1, 0, now, ""))
		exclude[c.ClipID] = struct{}{}
	}

	anchors, err := s.anchorVectors(ctx, sess, existing, refs, round.Results)
	if err != nil {
		return nil, err
	}
	candidates, err := s.source(sess).Reservoir(ctx, exclude, s.opts.DiversityCandidateCap, s.childRand())
	if err != nil {
		return nil, fmt.Errorf("others sampling: %w", err)
	}
	others := farthestFirst(candidates, anchors, params.OthersP, sess.DistanceMetric)
	round.Requested += params.OthersP
	round.Exhausted = round.Exhausted || len(others) < params.OthersP
	for i, c := range others {
		_, raw := referenceScore(refs, c.Vector, sess.DistanceMetric)
		round.Results = append(round.Results, newResult(sess.ID, model.ScoredClip{ClipID: c.ClipID, Raw: raw}, model.SampleOthers, i+1, 0, now, ""))
	}
	return round, nil
}

type easyCandidate struct {
	clip  model.ScoredClip
	tagID string
}

func (s *Sampler) easyPositives(ctx context.Context, sess *model.SearchSession, refs []model.ReferenceSound, exclude map[string]struct{}, k int) ([]easyCandidate, bool, error) {
	if k <= 0 {
		return nil, false, nil
	}
	best := make(map[string]easyCandidate)
	short := false
	for _, ref := range refs {
		items, err := s.ranker.Rank(ctx, ranker.Query{
			References: [][]float32{ref.Embedding},
			Metric:     sess.DistanceMetric,
			Scope:      sess.Scope,
			ModelRunID: sess.ModelRunID,
			Limit:      k,
			Exclude:    exclude,
		})
		if err != nil {
			return nil, false, err
		}
		if len(items) < k {
			short = true
		}
		for _, item := range items {
			if cur, ok := best[item.ClipID]; ok && cur.clip.Score >= item.Score {
				continue
			}
			best[item.ClipID] = easyCandidate{clip: item, tagID: ref.TagID}
		}
	}
	out := make([]easyCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].clip.Score != out[j].clip.Score {
			return out[i].clip.Score > out[j].clip.Score
		}
		return out[i].clip.ClipID < out[j].clip.ClipID
	})
	return out, short, nil
}

// boundary takes the BoundaryN clips ranked just below the skipped top band
// and draws BoundaryM of them without replacement.
func (s *Sampler) boundary(ctx context.Context, sess *model.SearchSession, refs []model.ReferenceSound, exclude map[string]struct{}) ([]model.ScoredClip, error) {
	params := sess.Params
	if params.BoundaryN <= 0 || params.BoundaryM <= 0 {
		return nil, nil
	}
	skip := s.opts.BoundarySkip
	if skip < 0 {
		skip = params.EasyPositiveK
	}
	vectors := make([][]float32, 0, len(refs))
	for _, ref := range refs {
		vectors = append(vectors, ref.Embedding)
	}
	band, err := s.ranker.Rank(ctx, ranker.Query{
		References: vectors,
		Combine:    s.opts.Combine,
		Metric:     sess.DistanceMetric,
		Scope:      sess.Scope,
		ModelRunID: sess.ModelRunID,
		Limit:      params.BoundaryN,
		Offset:     skip,
		Exclude:    exclude,
	})
	if err != nil {
		return nil, err
	}
	m := min(params.BoundaryM, len(band))
	rng := s.childRand()
	picked := rng.Perm(len(band))[:m]
	sort.Ints(picked)
	out := make([]model.ScoredClip, 0, m)
	for _, idx := range picked {
		out = append(out, band[idx])
	}
	return out, nil
}

type scoredEmbedding struct {
	emb   model.ClipEmbedding
	score float64
}

// Scorer is the part of a classifier the active-learning round needs.
type Scorer interface {
	Score(x []float32) float64
}

// ActiveLearning selects BoundaryM clips scored nearest the decision
// boundary plus a few diversity picks, tagged with the given iteration.
func (s *Sampler) ActiveLearning(ctx context.Context, sess *model.SearchSession, clf Scorer, references []model.ReferenceSound, existing []string, iteration int) (*Round, error) {
	m := sess.Params.BoundaryM
	p := s.opts.ActiveLearningDiversityP
	if p <= 0 {
		p = max(1, sess.Params.OthersP/4)
	}
	round := &Round{Requested: m + p}
	exclude := pool.Set(existing, refClipIDs(references))

	near := &boundaryHeap{k: m}
	reservoirCap := s.opts.DiversityCandidateCap + m
	reservoir := make([]scoredEmbedding, 0, reservoirCap)
	seen := 0
	rng := s.childRand()
	err := s.source(sess).Each(ctx, exclude, func(item model.ClipEmbedding) error {
		score := clf.Score(item.Vector)
		near.offer(scoredEmbedding{emb: item, score: score})
		seen++
		if len(reservoir) < reservoirCap {
			reservoir = append(reservoir, scoredEmbedding{emb: item, score: score})
		} else if j := rng.Intn(seen); j < reservoirCap {
			reservoir[j] = scoredEmbedding{emb: item, score: score}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("score pool: %w", err)
	}

	refs := usable(references)
	now := timeutil.NowUnix()
	picked := near.sorted()
	chosen := make(map[string]struct{}, len(picked))
	for i, item := range picked {
		_, raw := referenceScore(refs, item.emb.Vector, sess.DistanceMetric)
		res := newResult(sess.ID, model.ScoredClip{ClipID: item.emb.ClipID, Raw: raw}, model.SampleActiveLearning, i+1, iteration, now, "")
		res.ModelScore = floatPtr(item.score)
		round.Results = append(round.Results, res)
		chosen[item.emb.ClipID] = struct{}{}
	}

	candidates := make([]model.ClipEmbedding, 0, len(reservoir))
	scores := make(map[string]float64, len(reservoir))
	for _, item := range reservoir {
		if _, ok := chosen[item.emb.ClipID]; ok {
			continue
		}
		candidates = append(candidates, item.emb)
		scores[item.emb.ClipID] = item.score
	}
	anchors, err := s.anchorVectors(ctx, sess, existing, refs, nil)
	if err != nil {
		return nil, err
	}
	for _, item := range picked {
		anchors = append(anchors, item.emb.Vector)
	}
	diverse := farthestFirst(candidates, anchors, p, sess.DistanceMetric)
	for i, c := range diverse {
		_, raw := referenceScore(refs, c.Vector, sess.DistanceMetric)
		res := newResult(sess.ID, model.ScoredClip{ClipID: c.ClipID, Raw: raw}, model.SampleActiveLearning, len(picked)+i+1, iteration, now, "")
		res.ModelScore = floatPtr(scores[c.ClipID])
		round.Results = append(round.Results, res)
	}
	round.Exhausted = len(round.Results) < round.Requested
	return round, nil
}

func (s *Sampler) source(sess *model.SearchSession) pool.Source {
	return pool.Source{Store: s.embeddings, Scope: sess.Scope, ModelRunID: sess.ModelRunID, BatchSize: s.opts.ScanBatchSize}
}

// childRand derives a per-call generator so concurrent sessions do not share
// rand state.
func (s *Sampler) childRand() *rand.Rand {
	s.mu.Lock()
	seed := s.rng.Int63()
	s.mu.Unlock()
	return rand.New(rand.NewSource(seed))
}

// anchorVectors collects the vectors diversity sampling must stay away from:
// existing session clips, references, and results chosen in this round.
func (s *Sampler) anchorVectors(ctx context.Context, sess *model.SearchSession, existing []string, refs []model.ReferenceSound, chosen []model.SearchResult) ([][]float32, error) {
	ids := append([]string(nil), existing...)
	for _, r := range chosen {
		ids = append(ids, r.ClipID)
	}
	vecs, err := s.embeddings.GetEmbeddings(ctx, sess.ModelRunID, ids)
	if err != nil {
		return nil, fmt.Errorf("load anchor embeddings: %w", err)
	}
	out := make([][]float32, 0, len(vecs)+len(refs))
	for _, ref := range refs {
		out = append(out, ref.Embedding)
	}
	for _, id := range ids {
		if v, ok := vecs[id]; ok && !vecmath.IsDegenerate(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func newResult(sessionID string, c model.ScoredClip, t model.SampleType, rank, iteration int, now int64, sourceTagID string) model.SearchResult {
	return model.SearchResult{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		ClipID:         c.ClipID,
		Similarity:     c.Raw,
		Rank:           rank,
		SampleType:     t,
		IterationAdded: iteration,
		SourceTagID:    sourceTagID,
		Ctime:          now,
	}
}

func usable(refs []model.ReferenceSound) []model.ReferenceSound {
	out := make([]model.ReferenceSound, 0, len(refs))
	for _, ref := range refs {
		if !vecmath.IsDegenerate(ref.Embedding) {
			out = append(out, ref)
		}
	}
	return out
}

func refClipIDs(refs []model.ReferenceSound) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ClipID != "" {
			ids = append(ids, ref.ClipID)
		}
	}
	return ids
}

// referenceScore returns the best (score, raw) of v against any reference.
func referenceScore(refs []model.ReferenceSound, v []float32, metric model.DistanceMetric) (float64, float64) {
	bestScore, bestRaw := 0.0, 0.0
	for i, ref := range refs {
		var score, raw float64
		if metric == model.DistanceEuclidean {
			raw = vecmath.Euclidean(ref.Embedding, v)
			score = -raw
		} else {
			raw = vecmath.Cosine(ref.Embedding, v)
			score = raw
		}
		if i == 0 || score > bestScore {
			bestScore, bestRaw = score, raw
		}
	}
	return bestScore, bestRaw
}

func floatPtr(v float64) *float64 {
	return &v
}
