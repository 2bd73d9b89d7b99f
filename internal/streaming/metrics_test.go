package streaming

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/observability"
)

func TestEngineFeedsCollector(t *testing.T) {
	engine := NewEngine(nil, nil, nil)
	collector := observability.NewCollector()
	engine.SetMetrics(collector)

	for i := 0; i < 2; i++ {
		_, err := engine.Produce(TopicRiskEvents, "S-1", []byte(`{"seller_id":"S-1"}`))
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.MessagesProduced.WithLabelValues(TopicRiskEvents)))

	_, err := engine.CreateConsumerGroup("g-1", TopicRiskEvents)
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("g-1", "c-1"))

	msgs, err := engine.Poll("c-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.MessagesConsumed.WithLabelValues("g-1")))
	// Fully caught up after the poll.
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.ConsumerLag.WithLabelValues("g-1", TopicRiskEvents)))
}
