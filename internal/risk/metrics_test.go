package risk

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/observability"
	"dev.helix.sentinel/internal/storage"
)

func TestRecomputeFeedsCollector(t *testing.T) {
	engine := NewEngine(storage.NewMemoryStore(), nil, nil)
	collector := observability.NewCollector()
	engine.SetMetrics(collector)
	ctx := context.Background()

	_, profile, err := engine.Emit(ctx, "S-1", DomainPayout, "PAYOUT_RUSH", 90, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RiskRecomputes))
	// The first recompute lands the seller on its initial tier.
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.TierTransitions.WithLabelValues(string(profile.Tier))))

	// A small follow-up event recomputes without changing the tier.
	_, again, err := engine.Emit(ctx, "S-1", DomainListing, "BULK_LISTING", 1, nil)
	require.NoError(t, err)
	require.Equal(t, profile.Tier, again.Tier)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.RiskRecomputes))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.TierTransitions.WithLabelValues(string(profile.Tier))))
}
