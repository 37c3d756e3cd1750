package scurve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"smxpscan/pkg/contracts/domain"
)

func TestModel(t *testing.T) {
	p := domain.FitParameters{Offset: 0.1, Threshold: 80, Sigma: 4}

	assert.InDelta(t, 0.6, Model(80, p), 1e-12)
	assert.InDelta(t, 0.1, Model(0, p), 1e-9)
	assert.InDelta(t, 1.1, Model(200, p), 1e-9)
	assert.Less(t, Model(76, p), Model(84, p))
	assert.InDelta(t, 0.1+0.5*math.Erfc(-1/math.Sqrt2), Model(84, p), 1e-12)
}

func TestChiSquare_AsymmetricWeights(t *testing.T) {
	p := domain.FitParameters{Offset: 0, Threshold: 50, Sigma: 2}
	at := Model(50, p)

	above := domain.Curve{Points: []domain.CurvePoint{
		{Amplitude: 50, Trials: 100, Value: at + 0.1, ErrLow: -0.05, ErrHigh: 0.2},
	}}
	below := domain.Curve{Points: []domain.CurvePoint{
		{Amplitude: 50, Trials: 100, Value: at - 0.1, ErrLow: -0.05, ErrHigh: 0.2},
	}}

	// point above the model is weighted by its lower error
	assert.InDelta(t, 4.0, ChiSquare(above, p), 1e-9)
	// point below the model is weighted by its upper error
	assert.InDelta(t, 0.25, ChiSquare(below, p), 1e-9)
}

func TestResidualError_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		pt   domain.CurvePoint
		r    float64
		want float64
	}{
		{"upper side", domain.CurvePoint{ErrLow: -0.1, ErrHigh: 0.3}, -1, 0.3},
		{"lower side", domain.CurvePoint{ErrLow: -0.1, ErrHigh: 0.3}, 1, 0.1},
		{"zero upper falls back to lower", domain.CurvePoint{ErrLow: -0.1}, -1, 0.1},
		{"zero lower falls back to upper", domain.CurvePoint{ErrHigh: 0.3}, 1, 0.3},
		{"both zero uses half a count", domain.CurvePoint{Trials: 50}, 1, 0.01},
		{"no trials", domain.CurvePoint{}, 1, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, residualError(tt.pt, tt.r), 1e-12)
		})
	}
}

func TestBoundTransform(t *testing.T) {
	tr := boundTransform{ranges: domain.DefaultParamBounds().Ranges()}

	t.Run("round trip inside range", func(t *testing.T) {
		ext := []float64{0.1, 80, 4}
		back := tr.toExternal(tr.toInternal(ext))
		for i := range ext {
			assert.InDelta(t, ext[i], back[i], 1e-9)
		}
	})

	t.Run("any internal point maps inside range", func(t *testing.T) {
		for _, x := range []float64{-100, -1.5, 0, 2, 1e6} {
			ext := tr.toExternal([]float64{x, x, x})
			for i, r := range tr.ranges {
				assert.True(t, r.Contains(ext[i]), "param %d value %v", i, ext[i])
			}
		}
	})

	t.Run("start values off the edges", func(t *testing.T) {
		in := tr.toInternal([]float64{-5, 1000, 1})
		for i, j := range tr.jacobian(in) {
			assert.Greater(t, math.Abs(j), 0.0, "param %d", i)
		}
	})
}
