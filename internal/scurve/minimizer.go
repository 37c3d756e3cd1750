package scurve

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"smxpscan/internal/config"
	"smxpscan/pkg/contracts/domain"
)

// Minimization status codes. Codes up to MaxConvergedStatus are a usable minimum.
const (
	// StatusOK is a minimum with a positive-definite covariance
	StatusOK = 0
	// StatusCovarianceForced is a minimum whose covariance had to be made positive-definite
	StatusCovarianceForced = 1
	// StatusCovarianceInvalid is a point where no covariance could be formed
	StatusCovarianceInvalid = 2
	// StatusEDMAboveMax is a point whose estimated distance to minimum exceeds the tolerance
	StatusEDMAboveMax = 3
	// StatusLimitReached is a search stopped by its iteration or evaluation budget
	StatusLimitReached = 4
	// StatusFailed is a search that produced no finite point
	StatusFailed = 5

	MaxConvergedStatus = StatusCovarianceForced
)

// Strategy levels, in increasing cost and robustness
const (
	StrategyFast     = 0
	StrategyDefault  = 1
	StrategyRobust   = 2
	MaxStrategyLevel = StrategyRobust
)

// Problem is a bounded minimization over external parameters
type Problem struct {
	Objective func(params []float64) float64
	Ranges    []domain.ParamRange
}

// Minimum is the outcome of one minimization attempt
type Minimum struct {
	Params      []float64
	Errors      []float64
	Objective   float64
	EDM         float64
	Status      int
	Evaluations int
}

// Converged reports whether the status denotes a usable minimum
func (m Minimum) Converged() bool {
	return m.Status <= MaxConvergedStatus
}

// Minimizer runs one bounded minimization at a strategy level
type Minimizer interface {
	Minimize(problem Problem, start []float64, strategy int) Minimum
}

// GonumMinimizer minimizes with gonum/optimize in sine-transformed internal
// coordinates and estimates the covariance from a finite-difference Hessian.
//
// Strategy 0 runs BFGS on forward-difference gradients, strategy 1 runs BFGS
// on central differences with a tighter gradient threshold and twice the
// iterations, strategy 2 runs Nelder-Mead followed by a central-difference
// BFGS polish.
type GonumMinimizer struct {
	MaxIterations int
	EDMTolerance  float64
}

// NewGonumMinimizer creates a minimizer from the fit configuration
func NewGonumMinimizer(cfg config.FitConfig) *GonumMinimizer {
	return &GonumMinimizer{
		MaxIterations: cfg.MaxIterations,
		EDMTolerance:  cfg.EDMTolerance,
	}
}

type strategySettings struct {
	formula       fd.Formula
	gradThreshold float64
	iterations    int
}

func (g *GonumMinimizer) settingsFor(strategy int) strategySettings {
	iters := g.MaxIterations
	if iters <= 0 {
		iters = config.Default().Fit.MaxIterations
	}
	switch strategy {
	case StrategyFast:
		return strategySettings{formula: fd.Forward, gradThreshold: 1e-6, iterations: iters}
	case StrategyDefault:
		return strategySettings{formula: fd.Central, gradThreshold: 1e-8, iterations: 2 * iters}
	default:
		return strategySettings{formula: fd.Central, gradThreshold: 1e-9, iterations: 4 * iters}
	}
}

// Minimize implements Minimizer
func (g *GonumMinimizer) Minimize(problem Problem, start []float64, strategy int) Minimum {
	tr := boundTransform{ranges: problem.Ranges}
	f := func(x []float64) float64 { return problem.Objective(tr.toExternal(x)) }
	x0 := tr.toInternal(start)
	s := g.settingsFor(strategy)

	var (
		res   *optimize.Result
		evals int
	)

	if strategy >= StrategyRobust {
		simplex, _ := optimize.Minimize(optimize.Problem{Func: f}, x0, &optimize.Settings{
			MajorIterations: s.iterations,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 50},
		}, &optimize.NelderMead{})
		if simplex != nil {
			evals += simplex.Stats.FuncEvaluations
			if allFinite(simplex.X) && isFinite(simplex.F) {
				x0 = simplex.X
			}
		}
		res = g.runGradient(f, x0, s)
		if res == nil || (simplex != nil && isFinite(simplex.F) && !(res.F <= simplex.F)) {
			res = simplex
		}
	} else {
		res = g.runGradient(f, x0, s)
	}

	if res == nil {
		return Minimum{Params: tr.toExternal(x0), Objective: math.NaN(), Status: StatusFailed, Evaluations: evals}
	}
	evals += res.Stats.FuncEvaluations

	m := g.assess(f, tr, res.X, res.F)
	m.Evaluations = evals
	if m.Status == StatusEDMAboveMax && limitReached(res.Status) {
		m.Status = StatusLimitReached
	}
	return m
}

// runGradient runs BFGS from x0. Its error is dropped: a line search that
// stalls at the minimum reports Failure, and assess judges the point instead.
func (g *GonumMinimizer) runGradient(f func([]float64) float64, x0 []float64, s strategySettings) *optimize.Result {
	grad := func(dst, x []float64) {
		fd.Gradient(dst, f, x, &fd.Settings{Formula: s.formula})
	}
	res, _ := optimize.Minimize(
		optimize.Problem{Func: f, Grad: grad},
		x0,
		&optimize.Settings{
			GradientThreshold: s.gradThreshold,
			MajorIterations:   s.iterations,
			Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: 20},
		},
		&optimize.BFGS{},
	)
	return res
}

// assess derives the errors, the estimated distance to minimum and the status
// at internal point x
func (g *GonumMinimizer) assess(f func([]float64) float64, tr boundTransform, x []float64, fx float64) Minimum {
	ext := tr.toExternal(x)
	m := Minimum{Params: ext, Objective: fx, EDM: math.Inf(1)}
	if !isFinite(fx) || !allFinite(ext) {
		m.Status = StatusFailed
		return m
	}

	n := len(x)
	hess := mat.NewSymDense(n, nil)
	fd.Hessian(hess, f, x, &fd.Settings{Formula: fd.Central})
	grad := fd.Gradient(nil, f, x, &fd.Settings{Formula: fd.Central})

	inv, covStatus := invertPositive(hess)
	if inv == nil {
		m.Status = StatusCovarianceInvalid
		return m
	}

	var edm float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			edm += grad[i] * inv.At(i, j) * grad[j]
		}
	}
	m.EDM = 0.5 * edm

	jac := tr.jacobian(x)
	m.Errors = make([]float64, n)
	for i := range m.Errors {
		// chi-square curvature: covariance is twice the inverse Hessian
		m.Errors[i] = math.Abs(jac[i]) * math.Sqrt(math.Max(0, 2*inv.At(i, i)))
	}

	tol := g.EDMTolerance
	if tol <= 0 {
		tol = config.Default().Fit.EDMTolerance
	}
	switch {
	case !isFinite(m.EDM) || m.EDM > tol:
		m.Status = StatusEDMAboveMax
	default:
		m.Status = covStatus
	}
	return m
}

// invertPositive inverts h, shifting its diagonal when it is not
// positive-definite. It returns nil when no inverse could be formed.
func invertPositive(h *mat.SymDense) (*mat.SymDense, int) {
	var chol mat.Cholesky
	var inv mat.SymDense
	if chol.Factorize(h) && chol.InverseTo(&inv) == nil {
		return &inv, StatusOK
	}

	var eig mat.EigenSym
	if !eig.Factorize(h, false) {
		return nil, StatusCovarianceInvalid
	}
	values := eig.Values(nil)
	minEig, maxAbs := math.Inf(1), 0.0
	for _, v := range values {
		minEig = math.Min(minEig, v)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if maxAbs == 0 || !isFinite(maxAbs) {
		return nil, StatusCovarianceInvalid
	}

	shift := 1e-3 * maxAbs
	if minEig < 0 {
		shift -= minEig
	}
	n := h.SymmetricDim()
	shifted := mat.NewSymDense(n, nil)
	shifted.CopySym(h)
	for i := 0; i < n; i++ {
		shifted.SetSym(i, i, shifted.At(i, i)+shift)
	}

	var forced mat.Cholesky
	var forcedInv mat.SymDense
	if forced.Factorize(shifted) && forced.InverseTo(&forcedInv) == nil {
		return &forcedInv, StatusCovarianceForced
	}
	return nil, StatusCovarianceInvalid
}

func limitReached(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit,
		optimize.HessianEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
