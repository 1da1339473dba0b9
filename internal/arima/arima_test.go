package arima

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulateAR1(n int, phi, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	series := make([]float64, n)
	var prev float64
	for i := range series {
		prev = phi*prev + rng.NormFloat64()*sigma
		series[i] = prev
	}
	return series
}

func TestFitRecoversARCoefficient(t *testing.T) {
	series := simulateAR1(400, 0.7, 1.0, 42)

	m, err := Fit(series, Order{P: 1})
	require.NoError(t, err)
	require.Len(t, m.AR, 1)
	assert.InDelta(t, 0.7, m.AR[0], 0.15)
	assert.Greater(t, m.Sigma2, 0.0)
	assert.False(t, math.IsNaN(m.AIC))
}

func TestPredictContinuesLinearTrend(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = float64(i + 1)
	}

	// A random walk with drift fit: first differences are constant.
	m, err := Fit(series, Order{P: 0, D: 1, Q: 0})
	require.NoError(t, err)

	fc, err := m.Predict(3)
	require.NoError(t, err)
	require.Len(t, fc.Mean, 3)
	assert.InDelta(t, 31, fc.Mean[0], 1e-6)
	assert.InDelta(t, 32, fc.Mean[1], 1e-6)
	assert.InDelta(t, 33, fc.Mean[2], 1e-6)
}

func TestPredictIntervalsWiden(t *testing.T) {
	series := simulateAR1(200, 0.5, 1.0, 7)
	m, err := Fit(series, Order{P: 1, D: 0, Q: 1})
	require.NoError(t, err)

	fc, err := m.Predict(5)
	require.NoError(t, err)
	for i := range fc.Mean {
		assert.Less(t, fc.Lower[i], fc.Mean[i])
		assert.Greater(t, fc.Upper[i], fc.Mean[i])
	}
	firstWidth := fc.Upper[0] - fc.Lower[0]
	lastWidth := fc.Upper[4] - fc.Lower[4]
	assert.GreaterOrEqual(t, lastWidth, firstWidth)
}

func TestFitConstantSeries(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 5
	}

	// The differenced series is identically zero, which makes the regression
	// matrix singular; the fit must degenerate to zero coefficients.
	m, err := Fit(series, Order{P: 5, D: 1, Q: 0})
	require.NoError(t, err)
	require.Len(t, m.AR, 5)
	for _, phi := range m.AR {
		assert.Zero(t, phi)
	}

	fc, err := m.Predict(4)
	require.NoError(t, err)
	for _, v := range fc.Mean {
		assert.InDelta(t, 5, v, 1e-9)
	}
}

func TestFitConstantSeriesWithMA(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = -2.5
	}

	m, err := Fit(series, Order{P: 1, D: 0, Q: 1})
	require.NoError(t, err)
	require.Len(t, m.MA, 1)
	assert.Zero(t, m.AR[0])
	assert.Zero(t, m.MA[0])

	fc, err := m.Predict(2)
	require.NoError(t, err)
	assert.InDelta(t, -2.5, fc.Mean[0], 1e-9)
}

func TestPredictRejectsNonPositiveSteps(t *testing.T) {
	m, err := Fit(simulateAR1(100, 0.5, 1.0, 1), Order{P: 1})
	require.NoError(t, err)
	_, err = m.Predict(0)
	assert.Error(t, err)
}

func TestFitRejectsShortSeries(t *testing.T) {
	_, err := Fit([]float64{1, 2, 3}, Order{P: 2, D: 1, Q: 2})
	assert.ErrorIs(t, err, errTooShort)
}

func TestFitRejectsNegativeOrder(t *testing.T) {
	_, err := Fit(simulateAR1(50, 0.5, 1.0, 1), Order{P: -1})
	assert.Error(t, err)
}

func TestSearchOrderFindsBestAIC(t *testing.T) {
	series := simulateAR1(300, 0.8, 1.0, 11)

	best, err := SearchOrder(series, 2, 1, 2)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(best.AIC))

	// The winner must beat (or tie) every other candidate in the grid.
	for p := 0; p <= 2; p++ {
		for d := 0; d <= 1; d++ {
			for q := 0; q <= 2; q++ {
				if p == 0 && q == 0 {
					continue
				}
				m, err := Fit(series, Order{P: p, D: d, Q: q})
				if err != nil {
					continue
				}
				assert.LessOrEqual(t, best.AIC, m.AIC)
			}
		}
	}
}

func TestEvaluateHoldout(t *testing.T) {
	series := make([]float64, 40)
	for i := range series {
		series[i] = float64(i) * 2
	}

	mse, mae, err := Evaluate(series, Order{P: 0, D: 1, Q: 0}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0, mse, 1e-9)
	assert.InDelta(t, 0, mae, 1e-9)
}

func TestEvaluateErrors(t *testing.T) {
	series := simulateAR1(10, 0.5, 1.0, 3)

	_, _, err := Evaluate(series, Order{P: 1}, 0)
	assert.Error(t, err)

	_, _, err = Evaluate(series, Order{P: 1}, 10)
	assert.Error(t, err)
}

func TestModelSurvivesJSONRoundTrip(t *testing.T) {
	series := simulateAR1(150, 0.6, 1.0, 9)
	m, err := Fit(series, Order{P: 1, D: 1, Q: 1})
	require.NoError(t, err)

	want, err := m.Predict(4)
	require.NoError(t, err)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var clone Model
	require.NoError(t, json.Unmarshal(raw, &clone))

	got, err := clone.Predict(4)
	require.NoError(t, err)
	assert.Equal(t, want.Mean, got.Mean)
}
