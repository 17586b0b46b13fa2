package classifier

import (
	"sort"
)

// SelfTrainingSVM fits a LinearSVM on the labeled rows, then repeatedly
// folds confidently scored unlabeled rows back in as pseudo-labels.
type SelfTrainingSVM struct {
	opts          Options
	base          *LinearSVM
	pseudoLabeled int
}

func NewSelfTrainingSVM(opts Options) *SelfTrainingSVM {
	opts = opts.withDefaults()
	return &SelfTrainingSVM{opts: opts, base: NewLinearSVM(opts)}
}

func (m *SelfTrainingSVM) Kind() string {
	return KindSelfTrainingSVM
}

// PseudoLabeled reports how many unlabeled rows the last Fit absorbed.
func (m *SelfTrainingSVM) PseudoLabeled() int {
	return m.pseudoLabeled
}

func (m *SelfTrainingSVM) Fit(X [][]float32, y []int) error {
	m.pseudoLabeled = 0
	var (
		trainX     [][]float32
		trainY     []int
		unlabeledX [][]float32
	)
	for i, label := range y {
		if label == Unlabeled {
			unlabeledX = append(unlabeledX, X[i])
			continue
		}
		trainX = append(trainX, X[i])
		trainY = append(trainY, label)
	}
	base := NewLinearSVM(m.opts)
	if err := base.Fit(trainX, trainY); err != nil {
		return err
	}
	dim := len(trainX[0])

	type candidate struct {
		idx   int
		score float64
	}
	used := make([]bool, len(unlabeledX))
	for round := 0; round < m.opts.PseudoRounds; round++ {
		cands := make([]candidate, 0)
		for i, x := range unlabeledX {
			if used[i] || len(x) != dim {
				continue
			}
			s := base.Score(x)
			if s >= m.opts.PseudoHigh || s <= m.opts.PseudoLow {
				cands = append(cands, candidate{idx: i, score: s})
			}
		}
		if len(cands) == 0 {
			break
		}
		sort.SliceStable(cands, func(i, j int) bool {
			return confidence(cands[i].score) > confidence(cands[j].score)
		})
		if len(cands) > m.opts.PseudoMaxPerRound {
			cands = cands[:m.opts.PseudoMaxPerRound]
		}
		for _, c := range cands {
			used[c.idx] = true
			trainX = append(trainX, unlabeledX[c.idx])
			if c.score >= Boundary {
				trainY = append(trainY, 1)
			} else {
				trainY = append(trainY, 0)
			}
		}
		m.pseudoLabeled += len(cands)
		next := NewLinearSVM(m.opts)
		if err := next.Fit(trainX, trainY); err != nil {
			return err
		}
		base = next
	}
	m.base = base
	return nil
}

func (m *SelfTrainingSVM) Score(x []float32) float64 {
	return m.base.Score(x)
}

func confidence(score float64) float64 {
	if score >= Boundary {
		return score - Boundary
	}
	return Boundary - score
}
