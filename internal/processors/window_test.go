package processors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTumblingWindowAggregate(t *testing.T) {
	agg := NewWindowedAggregator(time.Hour, 0)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	agg.Add("S-1", 100, base.Add(5*time.Minute))
	agg.Add("S-1", 200, base.Add(20*time.Minute))
	agg.Add("S-1", 400, base.Add(50*time.Minute))

	stats := agg.Current("S-1", base.Add(55*time.Minute))
	require.NotNil(t, stats)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, float64(700), stats.Sum)
	assert.InDelta(t, 233.33, stats.Avg, 0.01)
	assert.Equal(t, float64(100), stats.Min)
	assert.Equal(t, float64(400), stats.Max)
}

func TestTumblingWindowsDoNotOverlap(t *testing.T) {
	agg := NewWindowedAggregator(time.Hour, 0)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	agg.Add("S-1", 50, base.Add(59*time.Minute))
	agg.Add("S-1", 80, base.Add(61*time.Minute))

	first := agg.Current("S-1", base.Add(30*time.Minute))
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Count)
	assert.Equal(t, float64(50), first.Sum)

	second := agg.Current("S-1", base.Add(90*time.Minute))
	require.NotNil(t, second)
	assert.Equal(t, int64(1), second.Count)
	assert.Equal(t, float64(80), second.Sum)
}

func TestSlidingWindowCountsValueInEveryCoveringSlot(t *testing.T) {
	agg := NewWindowedAggregator(time.Hour, 15*time.Minute)
	ts := time.Date(2026, 3, 1, 10, 50, 0, 0, time.UTC)

	agg.Add("S-1", 10, ts)

	// The value lands in the four slots starting 10:00, 10:15, 10:30, 10:45.
	windows := agg.Windows("S-1")
	assert.Len(t, windows, 4)
	for _, w := range windows {
		assert.Equal(t, int64(1), w.Count)
		assert.False(t, ts.Before(w.Start))
		assert.True(t, ts.Before(w.End))
	}
}

func TestCurrentUnknownKey(t *testing.T) {
	agg := NewWindowedAggregator(time.Hour, 0)
	assert.Nil(t, agg.Current("missing", time.Now()))
}

func TestCleanupDropsExpiredWindows(t *testing.T) {
	agg := NewWindowedAggregator(time.Hour, 0)
	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	agg.Add("S-1", 1, base)
	agg.Cleanup(base.Add(3 * time.Hour))
	assert.Empty(t, agg.Windows("S-1"))

	agg.Add("S-2", 1, base)
	agg.Cleanup(base.Add(90 * time.Minute))
	assert.Len(t, agg.Windows("S-2"), 1)
}
