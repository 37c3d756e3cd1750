package scurve

import (
	"math"

	"smxpscan/pkg/contracts/domain"
)

// Model evaluates the threshold turn-on curve
//
//	offset + 0.5*erfc((threshold - x) / (sqrt(2)*sigma))
func Model(x float64, p domain.FitParameters) float64 {
	return p.Offset + 0.5*math.Erfc((p.Threshold-x)/(math.Sqrt2*p.Sigma))
}

// ChiSquare returns the chi-square of p against curve. Each residual is
// weighted by the error on the side the model lies: the upper error when the
// model is above the point, the lower error otherwise.
func ChiSquare(curve domain.Curve, p domain.FitParameters) float64 {
	var chi2 float64
	for _, pt := range curve.Points {
		r := pt.Value - Model(float64(pt.Amplitude), p)
		sigma := residualError(pt, r)
		chi2 += (r / sigma) * (r / sigma)
	}
	return chi2
}

// residualError picks the weight of a residual r = value - model. A zero
// width on the matching side falls back to the other side, then to half a
// count.
func residualError(pt domain.CurvePoint, r float64) float64 {
	up, low := pt.ErrHigh, -pt.ErrLow
	var sigma float64
	if r < 0 {
		sigma = up
		if sigma <= 0 {
			sigma = low
		}
	} else {
		sigma = low
		if sigma <= 0 {
			sigma = up
		}
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		trials := pt.Trials
		if trials <= 0 {
			trials = 1
		}
		sigma = 0.5 / float64(trials)
	}
	return sigma
}

// boundTransform maps an unbounded internal coordinate onto [min, max]
// through a sine, so any minimizer step stays inside the range.
type boundTransform struct {
	ranges []domain.ParamRange
}

// edgeMargin keeps start values off the range ends where the sine is flat
const edgeMargin = 1e-3

func (b boundTransform) toExternal(internal []float64) []float64 {
	ext := make([]float64, len(internal))
	for i, x := range internal {
		r := b.ranges[i]
		ext[i] = r.Min + (r.Max-r.Min)/2*(math.Sin(x)+1)
	}
	return ext
}

func (b boundTransform) toInternal(external []float64) []float64 {
	in := make([]float64, len(external))
	for i, v := range external {
		r := b.ranges[i]
		u := 2*(r.Clamp(v)-r.Min)/(r.Max-r.Min) - 1
		u = math.Max(-1+edgeMargin, math.Min(1-edgeMargin, u))
		in[i] = math.Asin(u)
	}
	return in
}

// jacobian returns d(external)/d(internal) per parameter
func (b boundTransform) jacobian(internal []float64) []float64 {
	j := make([]float64, len(internal))
	for i, x := range internal {
		r := b.ranges[i]
		j[i] = (r.Max - r.Min) / 2 * math.Cos(x)
	}
	return j
}
