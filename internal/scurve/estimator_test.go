package scurve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "smxpscan/internal/errors"
)

func TestWilson_Interior(t *testing.T) {
	iv, err := Wilson(50, 100)
	require.NoError(t, err)

	assert.Less(t, iv.Low, 0.0)
	assert.Greater(t, iv.High, 0.0)
	assert.InDelta(t, -iv.Low, iv.High, 1e-9, "p=0.5 is symmetric")
	assert.InDelta(t, 0.0597, iv.High, 1e-3)

	lower, upper := 0.5+iv.Low, 0.5+iv.High
	assert.GreaterOrEqual(t, lower, 0.0)
	assert.LessOrEqual(t, upper, 1.0)
}

func TestWilson_Boundaries(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		trials    int
		wantLower float64
		wantUpper float64
		check     func(t *testing.T, iv Interval)
	}{
		{
			name:   "no hits",
			count:  0,
			trials: 100,
			check: func(t *testing.T, iv Interval) {
				assert.Equal(t, 0.0, iv.Low)
				assert.Greater(t, iv.High, 0.0)
			},
		},
		{
			name:   "all hits",
			count:  100,
			trials: 100,
			check: func(t *testing.T, iv Interval) {
				assert.Equal(t, 0.0, iv.High)
				assert.Equal(t, 1.0, 1.0+iv.High)
				assert.Less(t, iv.Low, 0.0)
			},
		},
		{
			name:   "single trial",
			count:  1,
			trials: 1,
			check: func(t *testing.T, iv Interval) {
				assert.Equal(t, 0.0, iv.High)
				assert.GreaterOrEqual(t, 1.0+iv.Low, 0.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv, err := Wilson(tt.count, tt.trials)
			require.NoError(t, err)
			tt.check(t, iv)
		})
	}
}

func TestWilson_StaysInsideUnitInterval(t *testing.T) {
	for _, trials := range []int{1, 7, 100, 1000} {
		for count := 0; count <= trials; count += max(1, trials/10) {
			iv, err := Wilson(count, trials)
			require.NoError(t, err)

			p := float64(count) / float64(trials)
			assert.LessOrEqual(t, iv.Low, 0.0)
			assert.GreaterOrEqual(t, iv.High, 0.0)
			assert.GreaterOrEqual(t, p+iv.Low, -1e-12, "count=%d trials=%d", count, trials)
			assert.LessOrEqual(t, p+iv.High, 1+1e-12, "count=%d trials=%d", count, trials)
		}
	}
}

func TestWilson_PoissonFallback(t *testing.T) {
	iv, err := Wilson(150, 100)
	require.NoError(t, err)
	assert.InDelta(t, -math.Sqrt(149.75)/100, iv.Low, 1e-12)
	assert.InDelta(t, math.Sqrt(150.75)/100, iv.High, 1e-12)
}

func TestWilson_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		trials int
	}{
		{"zero trials", 1, 0},
		{"negative trials", 1, -5},
		{"negative count", -1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Wilson(tt.count, tt.trials)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))
		})
	}
}
