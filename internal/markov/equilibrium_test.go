package markov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestIsTransitionMatrix(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want bool
	}{
		{"row stochastic", mat.NewDense(2, 2, []float64{0.9, 0.1, 0.3, 0.7}), true},
		{"identity", mat.NewDense(2, 2, []float64{1, 0, 0, 1}), true},
		{"row sum off", mat.NewDense(2, 2, []float64{0.9, 0.2, 0.3, 0.7}), false},
		{"negative entry", mat.NewDense(2, 2, []float64{1.1, -0.1, 0.3, 0.7}), false},
		{"not square", mat.NewDense(1, 2, []float64{0.5, 0.5}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransitionMatrix(tt.m))
		})
	}
}

func TestIsErgodic(t *testing.T) {
	assert.True(t, IsErgodic(mat.NewDense(2, 2, []float64{0.9, 0.1, 0.3, 0.7})))

	// Periodic but irreducible: aperiodicity is not part of the check.
	assert.True(t, IsErgodic(mat.NewDense(2, 2, []float64{0, 1, 1, 0})))

	// Two disconnected blocks.
	assert.False(t, IsErgodic(mat.NewDense(3, 3, []float64{
		0.5, 0.5, 0,
		0.5, 0.5, 0,
		0, 0, 1,
	})))

	// Absorbing state: 0 -> 1 has no way back.
	assert.False(t, IsErgodic(mat.NewDense(2, 2, []float64{0.9, 0.1, 0, 1})))

	// Not a transition matrix at all.
	assert.False(t, IsErgodic(mat.NewDense(2, 2, []float64{2, 0, 0, 2})))
}

func TestEquilibriumPopulation(t *testing.T) {
	t.Run("symmetric chain", func(t *testing.T) {
		peq, err := EquilibriumPopulation(mat.NewDense(2, 2, []float64{0.9, 0.1, 0.1, 0.9}))
		require.NoError(t, err)
		assert.InDelta(t, 0.5, peq[0], 1e-9)
		assert.InDelta(t, 0.5, peq[1], 1e-9)
	})

	t.Run("asymmetric chain", func(t *testing.T) {
		peq, err := Peq(mat.NewDense(2, 2, []float64{0.5, 0.5, 0.25, 0.75}))
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3.0, peq[0], 1e-9)
		assert.InDelta(t, 2.0/3.0, peq[1], 1e-9)
	})

	t.Run("populations sum to one", func(t *testing.T) {
		peq, err := EquilibriumPopulation(mat.NewDense(3, 3, []float64{
			0.8, 0.2, 0.0,
			0.2, 0.78, 0.02,
			0.0, 0.2, 0.8,
		}))
		require.NoError(t, err)
		sum := 0.0
		for _, p := range peq {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	})

	t.Run("non-ergodic restricts to largest class", func(t *testing.T) {
		tmat := mat.NewDense(3, 3, []float64{
			0.5, 0.5, 0,
			0.5, 0.5, 0,
			0, 0, 1,
		})
		peq, err := EquilibriumPopulation(tmat)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, peq[0], 1e-9)
		assert.InDelta(t, 0.5, peq[1], 1e-9)
		assert.Zero(t, peq[2])

		_, err = EquilibriumPopulation(tmat, RequireErgodic())
		assert.ErrorIs(t, err, ErrValue)
	})

	t.Run("not a transition matrix", func(t *testing.T) {
		_, err := EquilibriumPopulation(mat.NewDense(2, 2, []float64{0.9, 0.2, 0.3, 0.7}))
		assert.ErrorIs(t, err, ErrValue)
	})
}

func TestMatrixPower(t *testing.T) {
	flip := mat.NewDense(2, 2, []float64{0, 1, 1, 0})

	square, err := MatrixPower(flip, 2)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), square, 1e-12))

	ident, err := MatrixPower(flip, 0)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), ident, 1e-12))

	_, err = MatrixPower(flip, -1)
	assert.ErrorIs(t, err, ErrValue)

	_, err = MatrixPower(mat.NewDense(1, 2, []float64{1, 0}), 2)
	assert.ErrorIs(t, err, ErrValue)
}

func TestCommunicatingClasses(t *testing.T) {
	tmat := mat.NewDense(4, 4, []float64{
		0.5, 0.5, 0, 0,
		0.5, 0.5, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	classes := communicatingClasses(tmat)
	require.Len(t, classes, 3)
	assert.Equal(t, []int{0, 1}, classes[0])
}
