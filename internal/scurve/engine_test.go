package scurve

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"smxpscan/internal/config"
	apperrors "smxpscan/internal/errors"
	"smxpscan/internal/infrastructure"
	"smxpscan/internal/shared/testutil"
	"smxpscan/pkg/contracts/domain"
)

// scriptedMinimizer returns the scripted statuses in order, repeating the last
type scriptedMinimizer struct {
	mu       sync.Mutex
	statuses []int
	calls    []scriptedCall
}

type scriptedCall struct {
	start    []float64
	strategy int
}

func (s *scriptedMinimizer) Minimize(problem Problem, start []float64, strategy int) Minimum {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := min(len(s.calls), len(s.statuses)-1)
	s.calls = append(s.calls, scriptedCall{start: append([]float64(nil), start...), strategy: strategy})

	params := []float64{start[0] + 0.01, start[1] + 1, start[2]}
	return Minimum{
		Params:    params,
		Errors:    []float64{0.01, 0.5, 0.2},
		Objective: problem.Objective(params),
		EDM:       1e-6,
		Status:    s.statuses[idx],
	}
}

func (s *scriptedMinimizer) strategies() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.strategy
	}
	return out
}

func simpleCurve() domain.Curve {
	pts := make([]domain.CurvePoint, 0, 5)
	for i, amp := range []int{10, 20, 30, 40, 50} {
		pts = append(pts, domain.CurvePoint{
			Amplitude: amp, Count: i * 25, Trials: 100,
			Value: float64(i) * 0.25, ErrLow: -0.05, ErrHigh: 0.05,
		})
	}
	pts[0].ErrLow = 0
	pts[4].ErrHigh = 0
	return domain.Curve{Channel: 7, Comparator: 12, Points: pts}
}

func newTestEngine(t *testing.T, m Minimizer, opts ...EngineOption) (*Engine, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	cfg := config.Default().Fit
	opts = append([]EngineOption{WithMinimizer(m)}, opts...)
	return NewEngine(cfg, logger, opts...), handler
}

func TestStrategyForAttempt(t *testing.T) {
	var got []int
	for attempt := 0; attempt < 5; attempt++ {
		got = append(got, StrategyForAttempt(attempt, MaxStrategyLevel))
	}
	assert.Equal(t, []int{0, 1, 2, 2, 2}, got)
	assert.Equal(t, 0, StrategyForAttempt(3, 0))
}

func TestEngine_Fit_ConvergesOnThirdAttempt(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusEDMAboveMax, StatusLimitReached, StatusOK}}
	engine, handler := newTestEngine(t, m)

	res, err := engine.Fit(context.Background(), simpleCurve())
	require.NoError(t, err)

	assert.Equal(t, domain.FitStatusConverged, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.Strategy)
	assert.Equal(t, []int{0, 1, 2}, m.strategies())
	assert.Equal(t, 7, res.Channel)
	assert.Equal(t, 12, res.Comparator)
	assert.Equal(t, 2, res.NDF)
	assert.GreaterOrEqual(t, res.Objective, 0.0)
	assert.InDelta(t, 0.5, res.Errors.Threshold, 1e-12)

	// each retry starts from the previous attempt's parameters
	require.Len(t, m.calls, 3)
	assert.InDelta(t, m.calls[0].start[1]+1, m.calls[1].start[1], 1e-9)
	assert.InDelta(t, m.calls[1].start[1]+1, m.calls[2].start[1], 1e-9)

	assert.Len(t, handler.GetRecordsByMessage("fit attempt did not converge"), 2)
}

func TestEngine_Fit_ForcedCovarianceIsWarning(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusCovarianceForced}}
	engine, _ := newTestEngine(t, m)

	res, err := engine.Fit(context.Background(), simpleCurve())
	require.NoError(t, err)

	assert.Equal(t, domain.FitStatusConvergedWithWarnings, res.Status)
	assert.True(t, res.Status.IsConverged())
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, StatusCovarianceForced, res.CovStatus)
}

func TestEngine_Fit_FailsAfterMaxAttempts(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusFailed}}
	engine, handler := newTestEngine(t, m)

	res, err := engine.Fit(context.Background(), simpleCurve())
	require.NoError(t, err)

	assert.Equal(t, domain.FitStatusFailed, res.Status)
	assert.Equal(t, FailedObjective, res.Objective)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 4, res.RetryCount)
	assert.Equal(t, []int{0, 1, 2, 2, 2}, m.strategies())

	// parameters of the last attempt are kept
	start := engine.InitialParameters(simpleCurve())
	assert.InDelta(t, start.Threshold+5, res.Params.Threshold, 1e-9)

	testutil.AssertLogContains(t, handler, slog.LevelWarn, "fit failed")
	testutil.AssertLogAttr(t, handler, "attempts", 5)
}

func TestEngine_Fit_Underdetermined(t *testing.T) {
	tests := []struct {
		name       string
		points     int
		wantStatus domain.FitStatus
		wantNDF    int
	}{
		{"single point", 1, domain.FitStatusFailed, -2},
		{"two points", 2, domain.FitStatusFailed, -1},
		{"one point per parameter", 3, domain.FitStatusConverged, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &scriptedMinimizer{statuses: []int{StatusOK}}
			engine, handler := newTestEngine(t, m)
			curve := simpleCurve()
			curve.Points = curve.Points[:tt.points]

			res, err := engine.Fit(context.Background(), curve)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantNDF, res.NDF)
			assert.Equal(t, 1, res.Attempts, "retrying cannot add points")
			if tt.wantStatus == domain.FitStatusFailed {
				assert.Equal(t, FailedObjective, res.Objective)
				assert.Equal(t, domain.FitParameters{}, res.Errors)
				testutil.AssertLogContains(t, handler, slog.LevelWarn, "fit failed")
			}
		})
	}
}

func TestEngine_Fit_EmptyCurve(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusOK}}
	engine, _ := newTestEngine(t, m)

	_, err := engine.Fit(context.Background(), domain.Curve{Channel: 1, Comparator: 2})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))
	assert.Empty(t, m.calls)
}

func TestEngine_InitialParameters(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedMinimizer{statuses: []int{StatusOK}})
	bounds := domain.DefaultParamBounds()

	curve := domain.Curve{Points: []domain.CurvePoint{
		{Amplitude: 30, Value: 0.4},
		{Amplitude: 5, Value: -0.3},
		{Amplitude: 60, Value: 0.4},
	}}
	p := engine.InitialParameters(curve)
	assert.InDelta(t, -0.3, p.Offset, 1e-12)
	assert.Equal(t, bounds.Threshold.Init, p.Threshold)
	assert.Equal(t, bounds.Sigma.Init, p.Sigma)

	curve.Points[1].Value = -4
	assert.Equal(t, bounds.Offset.Min, engine.InitialParameters(curve).Offset)
}

func TestEngine_Fit_SyntheticSweep(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the gonum minimizer")
	}

	sweep := testutil.Sweep{
		Channel:    17,
		DiscList:   []int{10, 30},
		Amplitudes: testutil.AmplitudeRange(40, 160, 2),
		Pulses:     100,
		Thresholds: []float64{80},
		Sigma:      4,
	}
	logger, _ := testutil.NewTestLogger(t)
	meta := domain.DefaultScanMetadata()
	meta.PulseCount = sweep.Pulses
	table := domain.NewScanTable(meta, sweep.DiscList)
	for _, amp := range sweep.Amplitudes {
		m := domain.Measurement{Amplitude: amp, Channel: sweep.Channel}
		m.Hits[10] = testutil.ExpectedCount(amp, 80, 4, sweep.Pulses)
		table.Append(m)
	}

	engine := NewEngine(config.Default().Fit, logger)
	curve, err := engine.Aggregator().BuildCurve(context.Background(), table, sweep.Channel, 10)
	require.NoError(t, err)

	res, err := engine.Fit(context.Background(), curve)
	require.NoError(t, err)

	require.True(t, res.Status.IsConverged(), "status %s after %d attempts", res.Status, res.Attempts)
	assert.InDelta(t, 80, res.Params.Threshold, 1.0)
	assert.InDelta(t, 4, res.Params.Sigma, 1.0)
	assert.InDelta(t, -engine.Aggregator().Shift(10), res.Params.Offset, 0.05)
	assert.Greater(t, res.Errors.Threshold, 0.0)
	assert.Equal(t, len(sweep.Amplitudes)-3, res.NDF)
}

func TestEngine_FitChannels(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusOK}}
	logger, handler := testutil.NewTestLogger(t)
	cfg := config.Default().Fit
	cfg.Concurrency = 4
	engine := NewEngine(cfg, logger, WithMinimizer(m))

	meta := domain.DefaultScanMetadata()
	table := domain.NewScanTable(meta, []int{0, 3, 30})
	for _, ch := range []int{0, 1, 2, 5} {
		for _, amp := range []int{10, 20, 30} {
			var hits domain.Measurement
			hits.Amplitude, hits.Channel = amp, ch
			hits.Hits[0] = amp
			hits.Hits[3] = amp / 2
			table.Append(hits)
		}
	}

	results, err := engine.FitChannels(context.Background(), table, []int{0, 1, 2, 5, 9})
	require.NoError(t, err)

	assert.Len(t, results, 8)
	for _, ch := range []int{0, 1, 2, 5} {
		for _, comp := range []int{0, 3} {
			r, ok := results[domain.FitKey{Channel: ch, Comparator: comp}]
			require.True(t, ok, "channel %d comparator %d", ch, comp)
			assert.Equal(t, domain.FitStatusConverged, r.Status)
		}
	}
	_, ok := results[domain.FitKey{Channel: 0, Comparator: 30}]
	assert.False(t, ok, "timing comparator is never fitted")

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "channel fits finished")
	testutil.AssertLogAttr(t, handler, "fits", 8)
}

func TestEngine_FitScan(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusOK}}
	engine, _ := newTestEngine(t, m)

	table := domain.NewScanTable(domain.DefaultScanMetadata(), []int{2, 30})
	for _, amp := range []int{10, 20} {
		ms := domain.Measurement{Amplitude: amp, Channel: 42}
		ms.Hits[2] = amp
		table.Append(ms)
	}

	results, err := engine.FitScan(context.Background(), table)
	require.NoError(t, err)
	assert.Contains(t, results, domain.FitKey{Channel: 42, Comparator: 2})

	_, err = engine.FitScan(context.Background(), nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))
}

func TestEngine_FitChannel_Cancelled(t *testing.T) {
	m := &scriptedMinimizer{statuses: []int{StatusOK}}
	engine, _ := newTestEngine(t, m)

	table := domain.NewScanTable(domain.DefaultScanMetadata(), []int{0, 1, 30})
	table.Append(domain.Measurement{Amplitude: 10, Channel: 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := engine.FitChannel(ctx, table, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, m.calls)
}

func TestEngine_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := infrastructure.NewPipelineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m := &scriptedMinimizer{statuses: []int{StatusEDMAboveMax, StatusOK}}
	engine, _ := newTestEngine(t, m, WithMetrics(metrics))

	_, err = engine.Fit(context.Background(), simpleCurve())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["scurve_fit_attempts_total"])
	assert.Equal(t, int64(1), totals["scurve_fits_total"])
}
