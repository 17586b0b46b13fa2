package ranker

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/store"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

type Combine string

const (
	// CombineMean ranks against the centroid of the references.
	CombineMean Combine = "mean"
	// CombineMax ranks by the best score over individual references.
	CombineMax Combine = "max"
)

type Query struct {
	References [][]float32
	Combine    Combine
	Metric     model.DistanceMetric
	Scope      model.DatasetScope
	ModelRunID string
	Limit      int
	Offset     int
	Exclude    map[string]struct{}
}

type Ranker struct {
	store     store.EmbeddingStore
	batchSize int
	workers   int
}

type Option func(*Ranker)

func WithBatchSize(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.workers = n
		}
	}
}

func New(es store.EmbeddingStore, opts ...Option) *Ranker {
	r := &Ranker{store: es, batchSize: 2000, workers: 4}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Ranker) BatchSize() int {
	return r.batchSize
}

// Rank returns up to Limit candidates ordered best-first, skipping the first
// Offset. Degenerate references and candidates are ignored.
func (r *Ranker) Rank(ctx context.Context, q Query) ([]model.ScoredClip, error) {
	if q.Limit <= 0 {
		return []model.ScoredClip{}, nil
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Metric == "" {
		q.Metric = model.DistanceCosine
	}
	if !q.Metric.Valid() {
		return nil, fmt.Errorf("unsupported distance metric: %s", q.Metric)
	}
	refs := usableReferences(q.References)
	if len(refs) == 0 {
		return []model.ScoredClip{}, nil
	}
	scorer := newScorer(refs, q.Metric, q.Combine)
	if scorer.single != nil {
		if vs, ok := r.store.(store.VectorSearcher); ok {
			return r.rankPushdown(ctx, vs, q, scorer.single)
		}
	}
	return r.rankScan(ctx, q, scorer)
}

func (r *Ranker) rankPushdown(ctx context.Context, vs store.VectorSearcher, q Query, query []float32) ([]model.ScoredClip, error) {
	exclude := make([]string, 0, len(q.Exclude))
	for id := range q.Exclude {
		exclude = append(exclude, id)
	}
	sort.Strings(exclude)
	items, err := vs.NearestClips(ctx, q.Scope, q.ModelRunID, query, q.Metric, q.Offset+q.Limit, exclude)
	if err != nil {
		return nil, err
	}
	if q.Offset >= len(items) {
		return []model.ScoredClip{}, nil
	}
	return items[q.Offset:], nil
}

func (r *Ranker) rankScan(ctx context.Context, q Query, sc *scorer) ([]model.ScoredClip, error) {
	k := q.Offset + q.Limit
	var (
		mu     sync.Mutex
		global = &topK{k: k}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	err := r.store.ScanPool(gctx, q.Scope, q.ModelRunID, r.batchSize, func(batch []model.ClipEmbedding) error {
		g.Go(func() error {
			local := &topK{k: k}
			for _, item := range batch {
				if _, skip := q.Exclude[item.ClipID]; skip {
					continue
				}
				if vecmath.IsDegenerate(item.Vector) {
					continue
				}
				score, raw := sc.score(item.Vector)
				local.offer(model.ScoredClip{ClipID: item.ClipID, Score: score, Raw: raw, Vector: item.Vector})
			}
			mu.Lock()
			for _, item := range local.items {
				global.offer(item)
			}
			mu.Unlock()
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return nil, err
	}
	out := global.sorted()
	if q.Offset >= len(out) {
		return []model.ScoredClip{}, nil
	}
	return out[q.Offset:], nil
}

func usableReferences(refs [][]float32) [][]float32 {
	out := make([][]float32, 0, len(refs))
	for _, ref := range refs {
		if vecmath.IsDegenerate(ref) {
			continue
		}
		if len(out) > 0 && len(ref) != len(out[0]) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

type scorer struct {
	refs    [][]float32
	metric  model.DistanceMetric
	combine Combine
	// single is set when scoring reduces to one query vector.
	single []float32
}

func newScorer(refs [][]float32, metric model.DistanceMetric, combine Combine) *scorer {
	sc := &scorer{refs: refs, metric: metric, combine: combine}
	switch {
	case len(refs) == 1:
		sc.single = refs[0]
	case combine != CombineMax:
		sc.single = centroid(refs, metric)
		if vecmath.IsDegenerate(sc.single) {
			sc.single = nil
			sc.combine = CombineMax
		}
	}
	return sc
}

func centroid(refs [][]float32, metric model.DistanceMetric) []float32 {
	if metric != model.DistanceCosine {
		return vecmath.Mean(refs)
	}
	normed := make([][]float32, 0, len(refs))
	for _, ref := range refs {
		normed = append(normed, vecmath.Normalize(ref))
	}
	return vecmath.Mean(normed)
}

// score returns (higher-is-better score, raw metric value).
func (s *scorer) score(v []float32) (float64, float64) {
	if s.single != nil {
		return s.one(s.single, v)
	}
	bestScore, bestRaw := 0.0, 0.0
	for i, ref := range s.refs {
		score, raw := s.one(ref, v)
		if i == 0 || score > bestScore {
			bestScore, bestRaw = score, raw
		}
	}
	return bestScore, bestRaw
}

func (s *scorer) one(ref, v []float32) (float64, float64) {
	if s.metric == model.DistanceEuclidean {
		d := vecmath.Euclidean(ref, v)
		return -d, d
	}
	sim := vecmath.Cosine(ref, v)
	return sim, sim
}

// topK keeps the k best clips in a min-heap keyed on score.
type topK struct {
	k     int
	items []model.ScoredClip
}

func (t *topK) Len() int { return len(t.items) }

func (t *topK) Less(i, j int) bool { return worse(t.items[i], t.items[j]) }

func (t *topK) Swap(i, j int) { t.items[i], t.items[j] = t.items[j], t.items[i] }

func (t *topK) Push(x any) { t.items = append(t.items, x.(model.ScoredClip)) }

func (t *topK) Pop() any {
	n := len(t.items)
	item := t.items[n-1]
	t.items = t.items[:n-1]
	return item
}

func (t *topK) offer(item model.ScoredClip) {
	if t.k <= 0 {
		return
	}
	if len(t.items) < t.k {
		heap.Push(t, item)
		return
	}
	if worse(t.items[0], item) {
		t.items[0] = item
		heap.Fix(t, 0)
	}
}

func (t *topK) sorted() []model.ScoredClip {
	out := append([]model.ScoredClip(nil), t.items...)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}

// worse orders by score, breaking ties on clip id so output is deterministic.
func worse(a, b model.ScoredClip) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ClipID > b.ClipID
}
