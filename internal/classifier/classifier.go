// Package classifier implements the binary classifiers trained from search
// session labels. Scores are always in [0, 1] with the decision boundary at
// 0.5, so histograms and boundary distances compare across iterations.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	KindLinearSVM       = "linear_svm"
	KindSelfTrainingSVM = "self_training_svm"

	// Unlabeled marks rows only the self-training wrapper may consume.
	Unlabeled = -1

	Boundary = 0.5
)

var (
	ErrNoTrainingData = errors.New("no training data")
	ErrSingleClass    = errors.New("training data needs both classes")
	ErrDimMismatch    = errors.New("embedding dimension mismatch")
	ErrNotFitted      = errors.New("classifier not fitted")
)

type Classifier interface {
	Kind() string
	// Fit trains on X with labels y in {0, 1}; Unlabeled rows are ignored
	// unless the implementation uses them for pseudo-labeling.
	Fit(X [][]float32, y []int) error
	Score(x []float32) float64
}

type Options struct {
	Lambda            float64 `json:"lambda"`
	Epochs            int     `json:"epochs"`
	Seed              int64   `json:"seed"`
	PseudoHigh        float64 `json:"pseudo_high"`
	PseudoLow         float64 `json:"pseudo_low"`
	PseudoRounds      int     `json:"pseudo_rounds"`
	PseudoMaxPerRound int     `json:"pseudo_max_per_round"`
}

func DefaultOptions() Options {
	return Options{
		Lambda:            0.01,
		Epochs:            50,
		Seed:              42,
		PseudoHigh:        0.9,
		PseudoLow:         0.1,
		PseudoRounds:      3,
		PseudoMaxPerRound: 50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Lambda <= 0 {
		o.Lambda = d.Lambda
	}
	if o.Epochs <= 0 {
		o.Epochs = d.Epochs
	}
	if o.PseudoHigh <= Boundary || o.PseudoHigh > 1 {
		o.PseudoHigh = d.PseudoHigh
	}
	if o.PseudoLow < 0 || o.PseudoLow >= Boundary {
		o.PseudoLow = d.PseudoLow
	}
	if o.PseudoRounds < 0 {
		o.PseudoRounds = d.PseudoRounds
	}
	if o.PseudoMaxPerRound <= 0 {
		o.PseudoMaxPerRound = d.PseudoMaxPerRound
	}
	return o
}

func New(kind string, opts Options) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindLinearSVM:
		return NewLinearSVM(opts), nil
	case KindSelfTrainingSVM:
		return NewSelfTrainingSVM(opts), nil
	default:
		return nil, fmt.Errorf("unsupported classifier kind: %s", kind)
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
