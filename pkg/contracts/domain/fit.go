package domain

import "math"

// CurvePoint is one amplitude step of an efficiency curve. ErrLow and
// ErrHigh are half-widths in normalized units with ErrLow <= 0 <= ErrHigh.
type CurvePoint struct {
	Amplitude int     `json:"amplitude"`
	Count     int     `json:"count"`
	Trials    int     `json:"trials"`
	Value     float64 `json:"value"`
	ErrLow    float64 `json:"err_low"`
	ErrHigh   float64 `json:"err_high"`
}

// Curve is the efficiency curve of one comparator of one channel
type Curve struct {
	Channel    int          `json:"channel"`
	Comparator int          `json:"comparator"`
	Points     []CurvePoint `json:"points"`
}

// Empty reports whether the curve carries no data
func (c Curve) Empty() bool {
	return len(c.Points) == 0
}

// Key returns the fit key of the curve
func (c Curve) Key() FitKey {
	return FitKey{Channel: c.Channel, Comparator: c.Comparator}
}

// FitKey identifies one fit within a batch
type FitKey struct {
	Channel    int `json:"channel"`
	Comparator int `json:"comparator"`
}

// ParamRange is the initial value and closed bounds of one fit parameter
type ParamRange struct {
	Init float64 `json:"init"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Clamp limits v to the range
func (r ParamRange) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Init
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Contains reports whether v lies inside the range
func (r ParamRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FitParameters are the three parameters of the threshold model
type FitParameters struct {
	Offset    float64 `json:"offset"`
	Threshold float64 `json:"threshold"`
	Sigma     float64 `json:"sigma"`
}

// Vector returns the parameters in model order
func (p FitParameters) Vector() []float64 {
	return []float64{p.Offset, p.Threshold, p.Sigma}
}

// FitParametersFromVector is the inverse of Vector
func FitParametersFromVector(v []float64) FitParameters {
	return FitParameters{Offset: v[0], Threshold: v[1], Sigma: v[2]}
}

// ParamBounds holds the range of every model parameter
type ParamBounds struct {
	Offset    ParamRange `json:"offset"`
	Threshold ParamRange `json:"threshold"`
	Sigma     ParamRange `json:"sigma"`
}

// DefaultParamBounds returns the standard parameter ranges of the threshold model
func DefaultParamBounds() ParamBounds {
	return ParamBounds{
		Offset:    ParamRange{Init: 0, Min: -1, Max: 0.5},
		Threshold: ParamRange{Init: 60, Min: -1, Max: 256},
		Sigma:     ParamRange{Init: 3, Min: 1, Max: 15},
	}
}

// Ranges returns the ranges in model order
func (b ParamBounds) Ranges() []ParamRange {
	return []ParamRange{b.Offset, b.Threshold, b.Sigma}
}

// Initial returns the initial guesses
func (b ParamBounds) Initial() FitParameters {
	return FitParameters{Offset: b.Offset.Init, Threshold: b.Threshold.Init, Sigma: b.Sigma.Init}
}

// Clamp limits every parameter of p to its range
func (b ParamBounds) Clamp(p FitParameters) FitParameters {
	return FitParameters{
		Offset:    b.Offset.Clamp(p.Offset),
		Threshold: b.Threshold.Clamp(p.Threshold),
		Sigma:     b.Sigma.Clamp(p.Sigma),
	}
}

// FitStatus is the terminal state of a fit
type FitStatus string

const (
	FitStatusConverged             FitStatus = "converged"
	FitStatusConvergedWithWarnings FitStatus = "converged_with_warnings"
	FitStatusFailed                FitStatus = "failed"
)

// IsConverged reports whether the fit produced usable parameters
func (s FitStatus) IsConverged() bool {
	return s == FitStatusConverged || s == FitStatusConvergedWithWarnings
}

// FitResult is the immutable outcome of fitting one comparator curve
type FitResult struct {
	Channel    int           `json:"channel"`
	Comparator int           `json:"comparator"`
	Params     FitParameters `json:"params"`
	Errors     FitParameters `json:"errors"`
	Status     FitStatus     `json:"status"`
	// Objective is the attained chi-square, or the failure sentinel
	Objective float64 `json:"objective"`
	// RetryCount is zero-based: a fit accepted on the first attempt has 0
	RetryCount int `json:"retry_count"`
	Attempts   int `json:"attempts"`
	// Strategy is the optimizer strategy of the last attempt
	Strategy int `json:"strategy"`
	// CovStatus is the minimizer status code of the last attempt
	CovStatus int `json:"cov_status"`
	NDF       int `json:"ndf"`
}

// Key returns the fit key of the result
func (r FitResult) Key() FitKey {
	return FitKey{Channel: r.Channel, Comparator: r.Comparator}
}
