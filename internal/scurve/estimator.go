package scurve

import (
	"fmt"
	"math"

	apperrors "smxpscan/internal/errors"
)

// WilsonZ is the interval half-width in standard deviations (about 68% coverage)
const WilsonZ = 1.0

// Interval is an asymmetric error around an efficiency, in normalized units.
// Low <= 0 <= High always holds.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Wilson returns the continuity-corrected Wilson score interval of
// count successes out of trials, as half-widths around count/trials.
//
// A count above trials falls back to an asymmetric Poisson approximation.
// Within [0,1] the interval is clipped so that it never leaves [0,1]: a count
// of zero has a lower bound of exactly 0 and a full count an upper bound of
// exactly 1.
func Wilson(count, trials int) (Interval, error) {
	if trials <= 0 {
		return Interval{}, apperrors.NewPreconditionError(fmt.Sprintf("trials must be positive, got %d", trials))
	}
	if count < 0 {
		return Interval{}, apperrors.NewPreconditionError(fmt.Sprintf("count must not be negative, got %d", count))
	}

	n := float64(trials)
	k := float64(count)
	p := k / n

	if p > 1 {
		return poissonInterval(count, n), nil
	}

	const z2 = WilsonZ * WilsonZ

	var sMinus float64
	if p > 0 {
		sMinus = WilsonZ * math.Sqrt(math.Max(0, z2-2-1/n+4*p*(n*(1-p)+1)))
	}
	wMinus := math.Max(0, (2*n*p+z2-1-sMinus)/(2*(n+z2)))

	var sPlus float64
	if p < 1 {
		sPlus = WilsonZ * math.Sqrt(math.Max(0, z2+2-1/n+4*p*(n*(1-p)-1)))
	}
	wPlus := math.Min(1, (2*n*p+z2+1+sPlus)/(2*(n+z2)))

	low := (n*wMinus - k - 0.5) / n
	high := (n*wPlus - k + 0.5) / n

	low = math.Min(0, math.Max(low, -p))
	high = math.Max(0, math.Min(high, 1-p))

	return Interval{Low: low, High: high}, nil
}

func poissonInterval(count int, trials float64) Interval {
	if count == 0 {
		return Interval{Low: 0, High: 1.841 / trials}
	}
	k := float64(count)
	return Interval{
		Low:  -math.Sqrt(k-0.25) / trials,
		High: math.Sqrt(k+0.75) / trials,
	}
}
