package scurve

import (
	"context"
	"fmt"
	"log/slog"

	"smxpscan/internal/config"
	apperrors "smxpscan/internal/errors"
	"smxpscan/internal/infrastructure"
	"smxpscan/pkg/contracts/domain"
)

// Aggregator turns scan measurements into per-comparator efficiency curves
type Aggregator struct {
	spacing float64
	logger  *slog.Logger
}

// NewAggregator creates an aggregator. spacing is the vertical separation
// between neighbouring comparator curves.
func NewAggregator(spacing float64, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Aggregator{
		spacing: spacing,
		logger:  infrastructure.WithComponent(logger, "scurve.aggregator"),
	}
}

// NewAggregatorFromConfig creates an aggregator using the fit configuration
func NewAggregatorFromConfig(cfg config.FitConfig, logger *slog.Logger) *Aggregator {
	return NewAggregator(cfg.ComparatorSpacing, logger)
}

// Shift is the amount subtracted from every normalized value of comparator
func (a *Aggregator) Shift(comparator int) float64 {
	return a.spacing * float64(domain.NumComparators-1-comparator)
}

// BuildCurve builds the curve of one comparator of one channel, in the order
// the measurements were recorded.
//
// An out-of-range comparator or a channel without measurements yields an
// empty curve and an AGGREGATION error; a scan with a non-positive pulse
// count yields a PRECONDITION error.
func (a *Aggregator) BuildCurve(ctx context.Context, table *domain.ScanTable, channel, comparator int) (domain.Curve, error) {
	curve := domain.Curve{Channel: channel, Comparator: comparator}
	if table == nil {
		return curve, apperrors.NewPreconditionError("scan table is nil")
	}

	trials := table.Metadata().PulseCount
	if trials <= 0 {
		return curve, apperrors.NewPreconditionError(fmt.Sprintf("scan pulse count must be positive, got %d", trials))
	}

	if comparator < 0 || comparator >= domain.NumComparators {
		err := apperrors.NewAggregationError(fmt.Sprintf("comparator %d outside [0,%d)", comparator, domain.NumComparators))
		a.logger.WarnContext(ctx, "no curve", "channel", channel, "comparator", comparator, "reason", err.Error())
		return curve, err
	}

	measurements := table.ByChannel(channel)
	if len(measurements) == 0 {
		err := apperrors.NewAggregationError(fmt.Sprintf("channel %d has no measurements", channel))
		a.logger.WarnContext(ctx, "no curve", "channel", channel, "comparator", comparator, "reason", err.Error())
		return curve, err
	}

	shift := a.Shift(comparator)
	curve.Points = make([]domain.CurvePoint, 0, len(measurements))
	for _, m := range measurements {
		count := m.Hits[comparator]
		iv, err := Wilson(count, trials)
		if err != nil {
			a.logger.WarnContext(ctx, "point skipped", "channel", channel, "comparator", comparator,
				"amplitude", m.Amplitude, "reason", err.Error())
			continue
		}
		curve.Points = append(curve.Points, domain.CurvePoint{
			Amplitude: m.Amplitude,
			Count:     count,
			Trials:    trials,
			Value:     float64(count)/float64(trials) - shift,
			ErrLow:    iv.Low,
			ErrHigh:   iv.High,
		})
	}

	return curve, nil
}

// BuildCurves builds one curve per fit comparator of the scan for channel.
// Comparators without data yield empty curves.
func (a *Aggregator) BuildCurves(ctx context.Context, table *domain.ScanTable, channel int) ([]domain.Curve, error) {
	if table == nil {
		return nil, apperrors.NewPreconditionError("scan table is nil")
	}
	comparators := table.FitComparators()
	curves := make([]domain.Curve, 0, len(comparators))
	for _, comp := range comparators {
		curve, err := a.BuildCurve(ctx, table, channel, comp)
		if err != nil && !apperrors.IsType(err, apperrors.ErrTypeAggregation) {
			return nil, err
		}
		curves = append(curves, curve)
	}
	return curves, nil
}
