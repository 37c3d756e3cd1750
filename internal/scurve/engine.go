package scurve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"smxpscan/internal/config"
	apperrors "smxpscan/internal/errors"
	"smxpscan/internal/infrastructure"
	"smxpscan/pkg/contracts/domain"
)

// FailedObjective is the objective reported by a fit that did not converge
const FailedObjective = -1.0

// fitState is the state of one comparator fit
type fitState int

const (
	stateInit fitState = iota
	stateAttempting
	stateConverged
	stateFailed
)

func (s fitState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateAttempting:
		return "attempting"
	case stateConverged:
		return "converged"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StrategyForAttempt returns the strategy of the zero-based attempt:
// 0, 1, then maxStrategy for every later attempt.
func StrategyForAttempt(attempt, maxStrategy int) int {
	if attempt > maxStrategy {
		return maxStrategy
	}
	return attempt
}

// Engine fits comparator curves to the threshold model
type Engine struct {
	cfg        config.FitConfig
	bounds     domain.ParamBounds
	minimizer  Minimizer
	aggregator *Aggregator
	logger     *slog.Logger
	metrics    *infrastructure.PipelineMetrics
	tracer     trace.Tracer
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithMinimizer replaces the gonum minimizer
func WithMinimizer(m Minimizer) EngineOption {
	return func(e *Engine) { e.minimizer = m }
}

// WithBounds replaces the default parameter ranges
func WithBounds(b domain.ParamBounds) EngineOption {
	return func(e *Engine) { e.bounds = b }
}

// WithMetrics records fit counters on m
func WithMetrics(m *infrastructure.PipelineMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer records a span per fit on t
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates a fit engine. A nil logger falls back to the global logger.
func NewEngine(cfg config.FitConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.Default().Fit.MaxAttempts
	}
	if cfg.MaxStrategy < 0 || cfg.MaxStrategy > MaxStrategyLevel {
		cfg.MaxStrategy = MaxStrategyLevel
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	e := &Engine{
		cfg:        cfg,
		bounds:     domain.DefaultParamBounds(),
		minimizer:  NewGonumMinimizer(cfg),
		aggregator: NewAggregatorFromConfig(cfg, logger),
		logger:     infrastructure.WithComponent(logger, "scurve.engine"),
		tracer:     otel.Tracer(infrastructure.InstrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Aggregator returns the aggregator the engine builds curves with
func (e *Engine) Aggregator() *Aggregator {
	return e.aggregator
}

// InitialParameters returns the starting point of a fit: the offset is the
// curve value at the lowest amplitude, the others their range defaults.
func (e *Engine) InitialParameters(curve domain.Curve) domain.FitParameters {
	p := e.bounds.Initial()
	if curve.Empty() {
		return p
	}
	lowest := curve.Points[0]
	for _, pt := range curve.Points[1:] {
		if pt.Amplitude < lowest.Amplitude {
			lowest = pt
		}
	}
	p.Offset = e.bounds.Offset.Clamp(lowest.Value)
	return e.bounds.Clamp(p)
}

// Fit fits one comparator curve. Non-convergence is reported through the
// result status; only an empty curve returns an error. A curve with fewer
// points than model parameters cannot constrain the fit and ends Failed.
func (e *Engine) Fit(ctx context.Context, curve domain.Curve) (domain.FitResult, error) {
	result := domain.FitResult{Channel: curve.Channel, Comparator: curve.Comparator}
	if curve.Empty() {
		return result, apperrors.NewPreconditionError(
			fmt.Sprintf("curve of channel %d comparator %d has no points", curve.Channel, curve.Comparator))
	}

	ctx, span := e.tracer.Start(ctx, "scurve.Fit", trace.WithAttributes(
		attribute.Int("channel", curve.Channel),
		attribute.Int("comparator", curve.Comparator),
		attribute.Int("points", len(curve.Points)),
	))
	defer span.End()
	started := time.Now()

	problem := Problem{
		Objective: func(v []float64) float64 {
			return ChiSquare(curve, domain.FitParametersFromVector(v))
		},
		Ranges: e.bounds.Ranges(),
	}

	var (
		state           = stateInit
		params          domain.FitParameters
		attempts        int
		strategy        int
		last            Minimum
		underdetermined bool
		ndf             = len(curve.Points) - len(problem.Ranges)
	)

	for state != stateConverged && state != stateFailed {
		switch state {
		case stateInit:
			params = e.InitialParameters(curve)
			state = stateAttempting

		case stateAttempting:
			strategy = StrategyForAttempt(attempts, e.cfg.MaxStrategy)
			last = e.minimizer.Minimize(problem, params.Vector(), strategy)
			attempts++

			converged := last.Converged()
			e.metrics.RecordFitAttempt(ctx, strategy, converged)
			infrastructure.AddSpanEvent(ctx, "attempt", map[string]interface{}{
				"strategy": strategy,
				"status":   last.Status,
				"edm":      last.EDM,
			})

			if len(last.Params) == len(problem.Ranges) && allFinite(last.Params) {
				params = e.bounds.Clamp(domain.FitParametersFromVector(last.Params))
			}

			switch {
			case converged && ndf < 0:
				// more parameters than points; another strategy cannot fix that
				underdetermined = true
				state = stateFailed
			case converged:
				state = stateConverged
			case attempts >= e.cfg.MaxAttempts:
				state = stateFailed
			default:
				e.logger.WarnContext(ctx, "fit attempt did not converge",
					"channel", curve.Channel,
					"comparator", curve.Comparator,
					"attempt", attempts,
					"strategy", strategy,
					"status", last.Status,
					"edm", last.EDM)
			}
		}
	}

	result.Params = params
	result.Attempts = attempts
	result.RetryCount = attempts - 1
	result.Strategy = strategy
	result.CovStatus = last.Status
	result.NDF = ndf

	if state == stateConverged {
		result.Objective = last.Objective
		if len(last.Errors) == len(problem.Ranges) {
			result.Errors = domain.FitParametersFromVector(last.Errors)
		}
		result.Status = domain.FitStatusConverged
		if last.Status != StatusOK {
			result.Status = domain.FitStatusConvergedWithWarnings
		}
		e.logger.DebugContext(ctx, "fit converged",
			"channel", curve.Channel,
			"comparator", curve.Comparator,
			"threshold", result.Params.Threshold,
			"sigma", result.Params.Sigma,
			"chi2", result.Objective,
			"retries", result.RetryCount)
	} else {
		result.Objective = FailedObjective
		result.Status = domain.FitStatusFailed
		var cause error
		if underdetermined {
			cause = fmt.Errorf("%d points for %d parameters", len(curve.Points), len(problem.Ranges))
		}
		err := apperrors.NewFitNonConvergence(attempts, cause)
		infrastructure.RecordError(ctx, err)
		e.logger.WarnContext(ctx, "fit failed",
			"channel", curve.Channel,
			"comparator", curve.Comparator,
			"attempts", attempts,
			"status", last.Status,
			"reason", err.Error())
	}

	span.SetAttributes(attribute.String("status", string(result.Status)), attribute.Int("attempts", attempts))
	e.metrics.RecordFit(ctx, string(result.Status), time.Since(started))
	return result, nil
}

// FitChannel fits every fit comparator of channel in header order.
// Comparators without data are skipped. Cancellation is checked between
// comparators.
func (e *Engine) FitChannel(ctx context.Context, table *domain.ScanTable, channel int) ([]domain.FitResult, error) {
	if table == nil {
		return nil, apperrors.NewPreconditionError("scan table is nil")
	}
	comparators := table.FitComparators()
	results := make([]domain.FitResult, 0, len(comparators))

	for _, comp := range comparators {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		curve, err := e.aggregator.BuildCurve(ctx, table, channel, comp)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrTypeAggregation) {
				continue
			}
			return results, err
		}
		if curve.Empty() {
			continue
		}

		res, err := e.Fit(ctx, curve)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// FitChannels fits the given channels with at most cfg.Concurrency channels
// in flight and returns the results keyed by channel and comparator.
func (e *Engine) FitChannels(ctx context.Context, table *domain.ScanTable, channels []int) (map[domain.FitKey]domain.FitResult, error) {
	if table == nil {
		return nil, apperrors.NewPreconditionError("scan table is nil")
	}
	ctx = infrastructure.EnsureRunID(ctx)
	started := time.Now()

	perChannel := make([][]domain.FitResult, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, ch := range channels {
		g.Go(func() error {
			res, err := e.FitChannel(gctx, table, ch)
			perChannel[i] = res
			if err != nil {
				return fmt.Errorf("channel %d: %w", ch, err)
			}
			return nil
		})
	}
	err := g.Wait()

	out := make(map[domain.FitKey]domain.FitResult)
	counts := make(map[domain.FitStatus]int)
	for _, results := range perChannel {
		for _, r := range results {
			out[r.Key()] = r
			counts[r.Status]++
		}
	}

	e.logger.InfoContext(ctx, "channel fits finished",
		"channels", len(channels),
		"fits", len(out),
		"converged", counts[domain.FitStatusConverged],
		"warnings", counts[domain.FitStatusConvergedWithWarnings],
		"failed", counts[domain.FitStatusFailed],
		"duration_ms", time.Since(started).Milliseconds())

	return out, err
}

// FitScan fits every channel present in table
func (e *Engine) FitScan(ctx context.Context, table *domain.ScanTable) (map[domain.FitKey]domain.FitResult, error) {
	if table == nil {
		return nil, apperrors.NewPreconditionError("scan table is nil")
	}
	return e.FitChannels(ctx, table, table.Channels())
}
