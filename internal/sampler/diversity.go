package sampler

import (
	"container/heap"
	"math"
	"sort"

	"github.com/xxxsen/birdsearch/internal/classifier"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

func distance(a, b []float32, metric model.DistanceMetric) float64 {
	if metric == model.DistanceEuclidean {
		return vecmath.Euclidean(a, b)
	}
	return 1 - vecmath.Cosine(a, b)
}

// farthestFirst greedily picks n candidates, each maximizing its minimum
// distance to the anchors and to earlier picks.
func farthestFirst(candidates []model.ClipEmbedding, anchors [][]float32, n int, metric model.DistanceMetric) []model.ClipEmbedding {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	minDist := make([]float64, len(candidates))
	for i, c := range candidates {
		minDist[i] = math.Inf(1)
		for _, a := range anchors {
			if d := distance(c.Vector, a, metric); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	taken := make([]bool, len(candidates))
	out := make([]model.ClipEmbedding, 0, min(n, len(candidates)))
	for len(out) < n {
		best := -1
		for i := range candidates {
			if taken[i] {
				continue
			}
			if best < 0 || minDist[i] > minDist[best] ||
				(minDist[i] == minDist[best] && candidates[i].ClipID < candidates[best].ClipID) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		taken[best] = true
		out = append(out, candidates[best])
		for i := range candidates {
			if taken[i] {
				continue
			}
			if d := distance(candidates[i].Vector, candidates[best].Vector, metric); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return out
}

// boundaryHeap keeps the k items whose score is nearest the decision
// boundary; the root is the farthest kept item.
type boundaryHeap struct {
	k     int
	items []scoredEmbedding
}

func margin(s scoredEmbedding) float64 {
	return math.Abs(s.score - classifier.Boundary)
}

// farther reports whether a is a worse boundary candidate than b.
func farther(a, b scoredEmbedding) bool {
	if margin(a) != margin(b) {
		return margin(a) > margin(b)
	}
	return a.emb.ClipID > b.emb.ClipID
}

func (h *boundaryHeap) Len() int { return len(h.items) }

func (h *boundaryHeap) Less(i, j int) bool { return farther(h.items[i], h.items[j]) }

func (h *boundaryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *boundaryHeap) Push(x any) { h.items = append(h.items, x.(scoredEmbedding)) }

func (h *boundaryHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

func (h *boundaryHeap) offer(item scoredEmbedding) {
	if h.k <= 0 {
		return
	}
	if len(h.items) < h.k {
		heap.Push(h, item)
		return
	}
	if farther(h.items[0], item) {
		h.items[0] = item
		heap.Fix(h, 0)
	}
}

func (h *boundaryHeap) sorted() []scoredEmbedding {
	out := append([]scoredEmbedding(nil), h.items...)
	sort.Slice(out, func(i, j int) bool { return farther(out[j], out[i]) })
	return out
}
