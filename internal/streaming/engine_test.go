package streaming

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/events"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(nil, nil, nil)
}

func TestDefaultTopicsCreated(t *testing.T) {
	engine := newTestEngine(t)

	infos := engine.Topics()
	require.Len(t, infos, len(DefaultTopics))
	for _, info := range infos {
		assert.Equal(t, 4, info.NumPartitions)
		assert.Equal(t, time.Hour.Milliseconds(), info.RetentionMs)
	}

	_, ok := engine.Topic(TopicRiskEvents)
	assert.True(t, ok)
}

func TestCreateTopicIdempotent(t *testing.T) {
	engine := newTestEngine(t)

	first := engine.CreateTopic("sellers.flagged", 2, time.Minute)
	second := engine.CreateTopic("sellers.flagged", 8, time.Hour)
	assert.Same(t, first, second)
	assert.Equal(t, 2, second.NumPartitions)
}

func TestProduceRoutesByKeyHash(t *testing.T) {
	engine := newTestEngine(t)

	first, err := engine.Produce(TopicRiskEvents, "S-1", []byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := engine.Produce(TopicRiskEvents, "S-1", []byte(`{"n":2}`))
	require.NoError(t, err)

	assert.Equal(t, first.Partition, second.Partition)
	assert.Equal(t, first.Offset+1, second.Offset)

	topic, _ := engine.Topic(TopicRiskEvents)
	msgs := topic.Partition(first.Partition).Read(0, 10)
	require.Len(t, msgs, 2)
	assert.Equal(t, "S-1", msgs[0].Key)
}

func TestProduceUnknownTopic(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.Produce("nope", "k", []byte("{}"))
	assert.Error(t, err)
}

func TestProduceBridgesToBus(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	engine := NewEngine(nil, bus, nil)

	ch := bus.Subscribe(events.EventTransactionReceived)
	_, err := engine.Produce(TopicTransactionsReceived, "S-7", []byte(`{"amount":42}`))
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, TopicTransactionsReceived, event.Topic)
		assert.Equal(t, "S-7", event.Key)
		raw, ok := event.Payload.(json.RawMessage)
		require.True(t, ok)
		assert.JSONEq(t, `{"amount":42}`, string(raw))
	case <-time.After(time.Second):
		t.Fatal("bridge event not delivered")
	}
}

func TestConsumerGroupRebalance(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateConsumerGroup("scorers", TopicTransactionsScored)
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("scorers", "c-b"))
	require.NoError(t, engine.AddConsumer("scorers", "c-a"))

	groups := engine.Groups()
	require.Len(t, groups, 1)
	g := groups[0]

	// Four partitions round-robined over sorted members.
	assert.Equal(t, []int{0, 2}, g.Assignment["c-a"])
	assert.Equal(t, []int{1, 3}, g.Assignment["c-b"])

	require.NoError(t, engine.RemoveConsumer("scorers", "c-a"))
	groups = engine.Groups()
	assert.Equal(t, []int{0, 1, 2, 3}, groups[0].Assignment["c-b"])
}

func TestPollAutoCommits(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateConsumerGroup("readers", TopicRiskEvents)
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("readers", "c-1"))

	for i := 0; i < 6; i++ {
		_, err := engine.Produce(TopicRiskEvents, fmt.Sprintf("S-%d", i), []byte("{}"))
		require.NoError(t, err)
	}

	first, err := engine.Poll("c-1", 100)
	require.NoError(t, err)
	assert.Len(t, first, 6)

	again, err := engine.Poll("c-1", 100)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = engine.Produce(TopicRiskEvents, "S-0", []byte("{}"))
	require.NoError(t, err)
	third, err := engine.Poll("c-1", 100)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestPollUnknownConsumerIsEmpty(t *testing.T) {
	engine := newTestEngine(t)
	msgs, err := engine.Poll("ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLagTracksHighWaterMark(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateConsumerGroup("laggy", TopicRiskEvents)
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("laggy", "c-1"))

	for i := 0; i < 8; i++ {
		_, err := engine.Produce(TopicRiskEvents, fmt.Sprintf("S-%d", i), []byte("{}"))
		require.NoError(t, err)
	}

	lags, err := engine.Lag("laggy")
	require.NoError(t, err)
	var total int64
	for _, l := range lags {
		total += l.Lag
	}
	assert.Equal(t, int64(8), total)

	_, err = engine.Poll("c-1", 100)
	require.NoError(t, err)

	lags, err = engine.Lag("laggy")
	require.NoError(t, err)
	for _, l := range lags {
		assert.Zero(t, l.Lag)
	}
}

func TestRetentionDropsAndRebasesOffsets(t *testing.T) {
	engine := NewEngine(&Config{
		DefaultPartitions: 1,
		DefaultRetention:  time.Minute,
		RetentionInterval: time.Hour,
	}, nil, nil)
	engine.CreateTopic("short", 1, time.Minute)

	_, err := engine.CreateConsumerGroup("g", "short")
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("g", "c-1"))

	topic, _ := engine.Topic("short")
	old := time.Now().Add(-2 * time.Minute)
	topic.Partition(0).Append("k1", []byte("old-1"), old)
	topic.Partition(0).Append("k2", []byte("old-2"), old)
	topic.Partition(0).Append("k3", []byte("fresh"), time.Now())

	// Consume everything, then expire the prefix.
	require.NoError(t, engine.CommitOffset("c-1", 0, 3))
	engine.ApplyRetention(time.Now())

	assert.Equal(t, 1, topic.Partition(0).Len())
	assert.Equal(t, int64(1), topic.Partition(0).HighWaterMark())

	lags, err := engine.Lag("g")
	require.NoError(t, err)
	require.Len(t, lags, 1)
	assert.Equal(t, int64(1), lags[0].CommittedOffset)
	assert.Zero(t, lags[0].Lag)
	assert.Equal(t, int64(2), engine.Stats().MessagesExpired)
}

func TestPartitionDropExpiredRenumbers(t *testing.T) {
	p := NewPartition(0)
	base := time.Now().Add(-time.Hour)
	p.Append("a", []byte("1"), base)
	p.Append("b", []byte("2"), base.Add(time.Minute))
	p.Append("c", []byte("3"), time.Now())

	dropped := p.DropExpired(time.Now().Add(-time.Minute))
	assert.Equal(t, 2, dropped)

	msgs := p.Read(0, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(0), msgs[0].Offset)
	assert.Equal(t, "c", msgs[0].Key)
}

func TestPartitionForIsStable(t *testing.T) {
	topic := NewTopic("t", 4, time.Hour)
	first := topic.PartitionFor("seller-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, topic.PartitionFor("seller-42"))
	}
}

func TestEventTypeForTopic(t *testing.T) {
	assert.Equal(t, events.EventTransactionDecided, EventTypeForTopic(TopicTransactionsDecided))
	assert.Equal(t, events.EventType("custom.topic"), EventTypeForTopic("custom.topic"))
}

func TestStatsCounters(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.CreateConsumerGroup("g", TopicRiskEvents)
	require.NoError(t, err)
	require.NoError(t, engine.AddConsumer("g", "c"))

	_, err = engine.Produce(TopicRiskEvents, "S-1", []byte("{}"))
	require.NoError(t, err)
	_, err = engine.Poll("c", 10)
	require.NoError(t, err)

	stats := engine.Stats()
	assert.Equal(t, int64(1), stats.MessagesProduced)
	assert.Equal(t, int64(1), stats.MessagesPolled)
}
