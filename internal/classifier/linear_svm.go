package classifier

import (
	"fmt"
	"math"
	"math/rand"
)

// LinearSVM is a Pegasos-trained linear SVM over standardized features.
// The bias is learned as an extra constant feature.
type LinearSVM struct {
	opts    Options
	mean    []float64
	scale   []float64
	weights []float64
}

func NewLinearSVM(opts Options) *LinearSVM {
	return &LinearSVM{opts: opts.withDefaults()}
}

func (m *LinearSVM) Kind() string {
	return KindLinearSVM
}

func (m *LinearSVM) Fit(X [][]float32, y []int) error {
	if len(X) != len(y) {
		return fmt.Errorf("fit: %d rows but %d labels", len(X), len(y))
	}
	rows := make([][]float32, 0, len(X))
	labels := make([]float64, 0, len(y))
	var pos, neg int
	for i, label := range y {
		switch label {
		case 1:
			pos++
			labels = append(labels, 1)
		case 0:
			neg++
			labels = append(labels, -1)
		case Unlabeled:
			continue
		default:
			return fmt.Errorf("fit: invalid label %d", label)
		}
		rows = append(rows, X[i])
	}
	if len(rows) == 0 {
		return ErrNoTrainingData
	}
	if pos == 0 || neg == 0 {
		return ErrSingleClass
	}
	dim := len(rows[0])
	if dim == 0 {
		return ErrDimMismatch
	}
	for _, row := range rows {
		if len(row) != dim {
			return ErrDimMismatch
		}
		for _, v := range row {
			if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("fit: non-finite feature value")
			}
		}
	}

	m.mean, m.scale = standardize(rows, dim)
	z := make([][]float64, len(rows))
	for i, row := range rows {
		z[i] = m.transform(row)
	}
	n := float64(len(rows))
	classWeight := map[float64]float64{
		1:  n / (2 * float64(pos)),
		-1: n / (2 * float64(neg)),
	}

	lambda := m.opts.Lambda
	rng := rand.New(rand.NewSource(m.opts.Seed))
	w := make([]float64, dim+1)
	avg := make([]float64, dim+1)
	averaged := 0
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	t := 0
	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			t++
			eta := 1 / (lambda * float64(t))
			yi := labels[idx]
			margin := yi * dot(w, z[idx])
			decay := 1 - eta*lambda
			for j := range w {
				w[j] *= decay
			}
			if margin < 1 {
				step := eta * classWeight[yi] * yi
				for j, v := range z[idx] {
					w[j] += step * v
				}
			}
		}
		if epoch >= m.opts.Epochs/2 {
			for j := range w {
				avg[j] += w[j]
			}
			averaged++
		}
	}
	for j := range avg {
		avg[j] /= float64(averaged)
	}
	m.weights = avg
	return nil
}

// Decision returns the raw signed margin; NaN when unfitted or mismatched.
func (m *LinearSVM) Decision(x []float32) float64 {
	if len(m.weights) == 0 || len(x) != len(m.mean) {
		return math.NaN()
	}
	return dot(m.weights, m.transform(x))
}

func (m *LinearSVM) Score(x []float32) float64 {
	d := m.Decision(x)
	if math.IsNaN(d) {
		return Boundary
	}
	return sigmoid(d)
}

func (m *LinearSVM) Fitted() bool {
	return len(m.weights) > 0
}

func (m *LinearSVM) transform(x []float32) []float64 {
	out := make([]float64, len(x)+1)
	for i, v := range x {
		out[i] = (float64(v) - m.mean[i]) / m.scale[i]
	}
	out[len(x)] = 1
	return out
}

func standardize(rows [][]float32, dim int) ([]float64, []float64) {
	mean := make([]float64, dim)
	scale := make([]float64, dim)
	for _, row := range rows {
		for i, v := range row {
			mean[i] += float64(v)
		}
	}
	n := float64(len(rows))
	for i := range mean {
		mean[i] /= n
	}
	for _, row := range rows {
		for i, v := range row {
			d := float64(v) - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / n)
		if scale[i] < 1e-12 {
			scale[i] = 1
		}
	}
	return mean, scale
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
