package streaming

import (
	"hash/fnv"
	"time"

	"dev.helix.sentinel/internal/events"
)

// Topic owns a fixed set of partitions.
type Topic struct {
	Name          string
	NumPartitions int
	Retention     time.Duration
	CreatedAt     time.Time

	partitions []*Partition
}

// NewTopic creates a topic with the given partition count and retention.
func NewTopic(name string, numPartitions int, retention time.Duration) *Topic {
	partitions := make([]*Partition, numPartitions)
	for i := 0; i < numPartitions; i++ {
		partitions[i] = NewPartition(i)
	}
	return &Topic{
		Name:          name,
		NumPartitions: numPartitions,
		Retention:     retention,
		CreatedAt:     time.Now(),
		partitions:    partitions,
	}
}

// Partition returns the partition with the given id, or nil.
func (t *Topic) Partition(id int) *Partition {
	if id < 0 || id >= len(t.partitions) {
		return nil
	}
	return t.partitions[id]
}

// PartitionFor selects the partition for a key: a stable FNV-1a hash of the
// UTF-8 key bytes taken as an unsigned 32-bit integer, mod partition count.
func (t *Topic) PartitionFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(t.NumPartitions))
}

// Default topics auto-created at startup.
const (
	TopicTransactionsReceived = "transactions.received"
	TopicTransactionsEnriched = "transactions.enriched"
	TopicTransactionsScored   = "transactions.scored"
	TopicTransactionsDecided  = "transactions.decided"
	TopicRiskEvents           = "risk.events"
	TopicAlertsCreated        = "alerts.created"
	TopicAgentActions         = "agent.actions"
	TopicFeaturesMaterialized = "features.materialized"
)

// DefaultTopics lists the topics created when the engine starts.
var DefaultTopics = []string{
	TopicTransactionsReceived,
	TopicTransactionsEnriched,
	TopicTransactionsScored,
	TopicTransactionsDecided,
	TopicRiskEvents,
	TopicAlertsCreated,
	TopicAgentActions,
	TopicFeaturesMaterialized,
}

// topicEventTypes is the fixed topic-to-event-type table used when
// forwarding produced messages to the internal event bus.
var topicEventTypes = map[string]events.EventType{
	TopicTransactionsReceived: events.EventTransactionReceived,
	TopicTransactionsEnriched: events.EventTransactionEnriched,
	TopicTransactionsScored:   events.EventTransactionScored,
	TopicTransactionsDecided:  events.EventTransactionDecided,
	TopicRiskEvents:           events.EventRiskEvent,
	TopicAlertsCreated:        events.EventAlertCreated,
	TopicAgentActions:         events.EventAgentAction,
	TopicFeaturesMaterialized: events.EventFeatureMaterialized,
}

// EventTypeForTopic returns the canonical event type a topic bridges to.
// Topics outside the fixed table map to their own name.
func EventTypeForTopic(topic string) events.EventType {
	if et, ok := topicEventTypes[topic]; ok {
		return et
	}
	return events.EventType(topic)
}
