package classifier

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// clusters returns n points around (+c, +c, …) labeled 1 and n around
// (-c, -c, …) labeled 0.
func clusters(n, dim int, c float32, seed int64) ([][]float32, []int) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float32
	var y []int
	for _, label := range []int{1, 0} {
		sign := float32(1)
		if label == 0 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			row := make([]float32, dim)
			for j := range row {
				row[j] = sign*c + float32(rng.NormFloat64()*0.5)
			}
			X = append(X, row)
			y = append(y, label)
		}
	}
	return X, y
}

func meanScores(c Classifier, X [][]float32, y []int) (float64, float64) {
	var pos, neg float64
	var np, nn int
	for i, row := range X {
		s := c.Score(row)
		if y[i] == 1 {
			pos += s
			np++
		} else if y[i] == 0 {
			neg += s
			nn++
		}
	}
	return pos / float64(np), neg / float64(nn)
}

func TestLinearSVM_SeparatesClusters(t *testing.T) {
	X, y := clusters(20, 4, 2, 1)
	m := NewLinearSVM(DefaultOptions())
	require.NoError(t, m.Fit(X, y))
	pos, neg := meanScores(m, X, y)
	require.Greater(t, pos, neg)
	require.Greater(t, pos, Boundary)
	require.Less(t, neg, Boundary)
	for _, row := range X {
		s := m.Score(row)
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 1.0)
	}
}

func TestLinearSVM_Deterministic(t *testing.T) {
	X, y := clusters(10, 3, 1, 7)
	a := NewLinearSVM(DefaultOptions())
	b := NewLinearSVM(DefaultOptions())
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	for _, row := range X {
		require.Equal(t, a.Score(row), b.Score(row))
	}
}

func TestLinearSVM_FitErrors(t *testing.T) {
	m := NewLinearSVM(DefaultOptions())
	require.ErrorIs(t, m.Fit(nil, nil), ErrNoTrainingData)
	require.ErrorIs(t, m.Fit([][]float32{{1}, {2}}, []int{1, 1}), ErrSingleClass)
	require.ErrorIs(t, m.Fit([][]float32{{1, 2}, {2}}, []int{1, 0}), ErrDimMismatch)
	require.Error(t, m.Fit([][]float32{{1}}, []int{1, 0}))
	require.Error(t, m.Fit([][]float32{{1}, {2}}, []int{1, 3}))
	require.Equal(t, Boundary, m.Score([]float32{1}))
}

func TestSelfTrainingSVM_UsesUnlabeled(t *testing.T) {
	X, y := clusters(3, 4, 2, 3)
	ux, _ := clusters(30, 4, 2, 4)
	for _, row := range ux {
		X = append(X, row)
		y = append(y, Unlabeled)
	}
	opts := DefaultOptions()
	opts.PseudoHigh = 0.6
	opts.PseudoLow = 0.4
	m := NewSelfTrainingSVM(opts)
	require.NoError(t, m.Fit(X, y))
	require.Greater(t, m.PseudoLabeled(), 0)

	testX, testY := clusters(10, 4, 2, 5)
	pos, neg := meanScores(m, testX, testY)
	require.Greater(t, pos, neg)
}

func TestNew(t *testing.T) {
	c, err := New("linear_svm", Options{})
	require.NoError(t, err)
	require.Equal(t, KindLinearSVM, c.Kind())
	c, err = New(" Self_Training_SVM ", Options{})
	require.NoError(t, err)
	require.Equal(t, KindSelfTrainingSVM, c.Kind())
	_, err = New("random_forest", Options{})
	require.Error(t, err)
}

func TestCodec_RoundTrip(t *testing.T) {
	X, y := clusters(15, 5, 1.5, 11)
	probe := []float32{0.3, -0.2, 1.1, 0.05, -0.7}

	for _, kind := range []string{KindLinearSVM, KindSelfTrainingSVM} {
		t.Run(kind, func(t *testing.T) {
			c, err := New(kind, DefaultOptions())
			require.NoError(t, err)
			require.NoError(t, c.Fit(X, y))

			var buf bytes.Buffer
			require.NoError(t, Save(&buf, c))
			loaded, err := Load(&buf)
			require.NoError(t, err)
			require.Equal(t, kind, loaded.Kind())
			require.Equal(t, c.Score(probe), loaded.Score(probe))

			path := filepath.Join(t.TempDir(), "model.msgpack")
			require.NoError(t, SaveFile(path, c))
			fromFile, err := LoadFile(path)
			require.NoError(t, err)
			require.InDelta(t, c.Score(probe), fromFile.Score(probe), 1e-6)
		})
	}
}

func TestCodec_Errors(t *testing.T) {
	_, err := Marshal(NewLinearSVM(DefaultOptions()))
	require.ErrorIs(t, err, ErrNotFitted)
	_, err = Unmarshal([]byte("not msgpack"))
	require.Error(t, err)
}
