package training

import "github.com/xxxsen/birdsearch/internal/model"

// Histogram buckets classifier scores into fixed-width bins over [0, 1].
type Histogram struct {
	counts []int
	sum    float64
	n      int
}

func NewHistogram() *Histogram {
	return &Histogram{counts: make([]int, model.HistogramBins)}
}

func (h *Histogram) Add(score float64) {
	idx := int(score * float64(model.HistogramBins))
	if idx < 0 {
		idx = 0
	}
	if idx >= model.HistogramBins {
		idx = model.HistogramBins - 1
	}
	h.counts[idx]++
	h.sum += score
	h.n++
}

func (h *Histogram) Edges() []float64 {
	edges := make([]float64, model.HistogramBins+1)
	for i := range edges {
		edges[i] = float64(i) / float64(model.HistogramBins)
	}
	return edges
}

func (h *Histogram) Counts() []int {
	return append([]int(nil), h.counts...)
}

func (h *Histogram) Total() int {
	return h.n
}

func (h *Histogram) Mean() float64 {
	if h.n == 0 {
		return 0
	}
	return h.sum / float64(h.n)
}
