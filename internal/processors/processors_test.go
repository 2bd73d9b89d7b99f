package processors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/risk"
	"dev.helix.sentinel/internal/storage"
	"dev.helix.sentinel/internal/streaming"
)

func testHarness(t *testing.T) (*streaming.Engine, *features.Store) {
	t.Helper()
	engine := streaming.NewEngine(nil, nil, nil)
	store := features.NewStore(storage.NewMemoryStore(), nil)
	return engine, store
}

func produceJSON(t *testing.T, engine *streaming.Engine, topic, key string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = engine.Produce(topic, key, data)
	require.NoError(t, err)
}

func TestVelocityProcessorMaterializesAggregates(t *testing.T) {
	engine, store := testHarness(t)
	proc, err := NewTransactionVelocityProcessor(engine, store, nil)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for _, amount := range []float64{100, 200, 400} {
		produceJSON(t, engine, streaming.TopicTransactionsDecided, "S-1", DecidedTransaction{
			TransactionID: "T-1",
			SellerID:      "S-1",
			Amount:        amount,
			DecidedAtMs:   now.UnixMilli(),
		})
	}
	proc.Tick(ctx, now)

	payload, ok := store.GetFeatures(ctx, "S-1", features.GroupTransactionVelocity)
	require.True(t, ok)
	assert.Equal(t, int64(3), payload["transactions_1h"])
	assert.Equal(t, float64(700), payload["amount_1h"])
	assert.InDelta(t, 233.33, payload["avg_amount_1h"].(float64), 0.01)
	assert.Equal(t, int64(3), payload["transactions_24h"])
}

func TestVelocityProcessorSkipsMalformed(t *testing.T) {
	engine, store := testHarness(t)
	proc, err := NewTransactionVelocityProcessor(engine, store, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.Produce(streaming.TopicTransactionsDecided, "S-1", []byte("not json"))
	require.NoError(t, err)
	produceJSON(t, engine, streaming.TopicTransactionsDecided, "", DecidedTransaction{Amount: 10})
	produceJSON(t, engine, streaming.TopicTransactionsDecided, "S-1", DecidedTransaction{
		SellerID: "S-1", Amount: 25, DecidedAtMs: time.Now().UnixMilli(),
	})
	proc.Tick(ctx, time.Now())

	payload, ok := store.GetFeatures(ctx, "S-1", features.GroupTransactionVelocity)
	require.True(t, ok)
	assert.Equal(t, int64(1), payload["transactions_1h"])
}

func TestRiskSignalProcessorAccumulates(t *testing.T) {
	engine, store := testHarness(t)
	proc, err := NewRiskSignalProcessor(engine, store, nil)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()
	produceJSON(t, engine, streaming.TopicRiskEvents, "S-1", risk.Event{
		EventID: "e1", SellerID: "S-1", Domain: risk.DomainOnboarding,
		EventType: "ACCOUNT_CREATED", RiskScore: 40, CreatedAt: now.Add(-time.Minute),
	})
	produceJSON(t, engine, streaming.TopicRiskEvents, "S-1", risk.Event{
		EventID: "e2", SellerID: "S-1", Domain: risk.DomainPayout,
		EventType: "PAYOUT_RUSH", RiskScore: 80, CreatedAt: now,
	})
	proc.Tick(ctx, now)

	payload, ok := store.GetFeatures(ctx, "S-1", features.GroupNetworkRisk)
	require.True(t, ok)
	assert.Equal(t, int64(2), payload["total_signals"])
	assert.Equal(t, float64(80), payload["max_severity"])
	assert.Equal(t, 2, payload["distinct_domains"])

	domains := payload["domains"].(map[string]interface{})
	payout := domains[string(risk.DomainPayout)].(map[string]interface{})
	assert.Equal(t, int64(1), payout["count"])
	assert.Equal(t, float64(80), payout["max_severity"])
}

func TestMaterializationProcessorPassthrough(t *testing.T) {
	engine, store := testHarness(t)
	proc, err := NewFeatureMaterializationProcessor(engine, store, nil)
	require.NoError(t, err)

	ctx := context.Background()
	produceJSON(t, engine, streaming.TopicFeaturesMaterialized, "D-1", MaterializedFeatures{
		EntityID: "D-1",
		Group:    features.GroupDeviceTrust,
		Features: map[string]interface{}{"trust_score": 0.92},
	})
	proc.Tick(ctx, time.Now())

	payload, ok := store.GetFeatures(ctx, "D-1", features.GroupDeviceTrust)
	require.True(t, ok)
	assert.Equal(t, 0.92, payload["trust_score"])
	assert.NotEmpty(t, payload["materialized_at"])
}

func TestMaterializationProcessorRejectsUnknownGroup(t *testing.T) {
	engine, store := testHarness(t)
	proc, err := NewFeatureMaterializationProcessor(engine, store, nil)
	require.NoError(t, err)

	ctx := context.Background()
	produceJSON(t, engine, streaming.TopicFeaturesMaterialized, "D-1", MaterializedFeatures{
		EntityID: "D-1",
		Group:    features.Group("bogus"),
		Features: map[string]interface{}{"x": 1},
	})
	proc.Tick(ctx, time.Now())

	snapshot := store.Snapshot("D-1")
	assert.Empty(t, snapshot)
}
