// Package streaming implements the in-process partitioned event log:
// topics, consumer groups with round-robin assignment, committed offsets,
// and time-based retention. Produced messages are additionally forwarded to
// the internal event bus under the topic's canonical event type.
package streaming

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/observability"
)

// Config holds configuration for the streaming engine.
type Config struct {
	// DefaultPartitions is the partition count for new topics.
	DefaultPartitions int
	// DefaultRetention is the retention window for new topics.
	DefaultRetention time.Duration
	// RetentionInterval is how often the retention sweep runs.
	RetentionInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultPartitions: 4,
		DefaultRetention:  time.Hour,
		RetentionInterval: 60 * time.Second,
	}
}

// ProduceResult reports where a produced message landed.
type ProduceResult struct {
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsumerGroup tracks membership and partition assignment for a topic.
type ConsumerGroup struct {
	GroupID    string
	TopicName  string
	Members    []string
	Assignment map[string][]int
}

// PartitionLag reports consumption lag for one partition.
type PartitionLag struct {
	Partition       int   `json:"partition"`
	HighWaterMark   int64 `json:"high_water_mark"`
	CommittedOffset int64 `json:"committed_offset"`
	Lag             int64 `json:"lag"`
}

// Stats holds engine counters.
type Stats struct {
	MessagesProduced int64 `json:"messages_produced"`
	MessagesPolled   int64 `json:"messages_polled"`
	MessagesExpired  int64 `json:"messages_expired"`
}

// Engine is the in-process streaming engine.
type Engine struct {
	config  *Config
	bus     *events.Bus
	logger  *zap.Logger
	metrics *observability.Collector

	topics map[string]*Topic
	groups map[string]*ConsumerGroup
	// consumerGroup maps a consumer id to its group id.
	consumerGroup map[string]string
	// offsets maps "<groupID>:<consumerID>" to partition -> next offset.
	offsets map[string]map[int]int64
	mu      sync.RWMutex

	produced int64
	polled   int64
	expired  int64
}

// NewEngine creates a streaming engine and auto-creates the default topics.
func NewEngine(config *Config, bus *events.Bus, logger *zap.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:        config,
		bus:           bus,
		logger:        logger,
		topics:        make(map[string]*Topic),
		groups:        make(map[string]*ConsumerGroup),
		consumerGroup: make(map[string]string),
		offsets:       make(map[string]map[int]int64),
	}

	for _, name := range DefaultTopics {
		e.CreateTopic(name, config.DefaultPartitions, config.DefaultRetention)
	}

	return e
}

// SetMetrics attaches a collector; produce, poll and lag feed it.
func (e *Engine) SetMetrics(c *observability.Collector) {
	e.metrics = c
}

// CreateTopic creates a topic; returns the existing topic if present.
func (e *Engine) CreateTopic(name string, numPartitions int, retention time.Duration) *Topic {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.topics[name]; ok {
		return t
	}
	if numPartitions <= 0 {
		numPartitions = e.config.DefaultPartitions
	}
	if retention <= 0 {
		retention = e.config.DefaultRetention
	}

	t := NewTopic(name, numPartitions, retention)
	e.topics[name] = t
	e.logger.Info("Created topic",
		zap.String("topic", name),
		zap.Int("partitions", numPartitions),
		zap.Duration("retention", retention))
	return t
}

// Topic returns a topic by name.
func (e *Engine) Topic(name string) (*Topic, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.topics[name]
	return t, ok
}

// Produce appends a message to the topic partition selected by the key hash
// and forwards it to the event bus under the topic's canonical event type.
func (e *Engine) Produce(topic, key string, value []byte) (*ProduceResult, error) {
	e.mu.RLock()
	t, ok := e.topics[topic]
	e.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("topic", topic)
	}

	partition := t.PartitionFor(key)
	now := time.Now()
	offset := t.Partition(partition).Append(key, value, now)
	atomic.AddInt64(&e.produced, 1)
	if e.metrics != nil {
		e.metrics.MessagesProduced.WithLabelValues(topic).Inc()
	}

	if e.bus != nil {
		event := events.NewEvent(EventTypeForTopic(topic), "streaming-engine", json.RawMessage(value)).
			WithTopic(topic).
			WithKey(key)
		e.bus.Publish(event)
	}

	return &ProduceResult{Partition: partition, Offset: offset, Timestamp: now}, nil
}

// CreateConsumerGroup creates a consumer group for a topic. Idempotent:
// returns the existing group if present.
func (e *Engine) CreateConsumerGroup(groupID, topic string) (*ConsumerGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g, ok := e.groups[groupID]; ok {
		return g, nil
	}
	if _, ok := e.topics[topic]; !ok {
		return nil, errs.NotFound("topic", topic)
	}

	g := &ConsumerGroup{
		GroupID:    groupID,
		TopicName:  topic,
		Members:    make([]string, 0),
		Assignment: make(map[string][]int),
	}
	e.groups[groupID] = g
	return g, nil
}

// AddConsumer adds a member to a group and rebalances.
func (e *Engine) AddConsumer(groupID, consumerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[groupID]
	if !ok {
		return errs.NotFound("consumer group", groupID)
	}
	for _, m := range g.Members {
		if m == consumerID {
			return nil
		}
	}

	g.Members = append(g.Members, consumerID)
	e.consumerGroup[consumerID] = groupID
	e.rebalanceLocked(g)
	return nil
}

// RemoveConsumer removes a member from a group and rebalances.
func (e *Engine) RemoveConsumer(groupID, consumerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[groupID]
	if !ok {
		return errs.NotFound("consumer group", groupID)
	}

	for i, m := range g.Members {
		if m == consumerID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			break
		}
	}
	delete(e.consumerGroup, consumerID)
	delete(g.Assignment, consumerID)
	e.rebalanceLocked(g)
	return nil
}

// rebalanceLocked reassigns partitions round-robin: partition i goes to
// member i mod |members|. Members are sorted so the assignment is
// deterministic across rebalances.
func (e *Engine) rebalanceLocked(g *ConsumerGroup) {
	t := e.topics[g.TopicName]
	g.Assignment = make(map[string][]int)
	if len(g.Members) == 0 {
		return
	}

	sort.Strings(g.Members)
	for i := 0; i < t.NumPartitions; i++ {
		owner := g.Members[i%len(g.Members)]
		g.Assignment[owner] = append(g.Assignment[owner], i)
	}

	e.logger.Debug("Rebalanced consumer group",
		zap.String("group", g.GroupID),
		zap.Int("members", len(g.Members)))
}

// Poll returns up to maxMessages records across the consumer's assigned
// partitions, split as evenly as possible, and auto-commits each partition's
// offset to lastReadOffset+1. An unassigned consumer polls empty.
func (e *Engine) Poll(consumerID string, maxMessages int) ([]Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	groupID, ok := e.consumerGroup[consumerID]
	if !ok {
		return []Message{}, nil
	}
	g := e.groups[groupID]
	assigned := g.Assignment[consumerID]
	if len(assigned) == 0 || maxMessages <= 0 {
		return []Message{}, nil
	}

	t := e.topics[g.TopicName]
	offsetKey := groupID + ":" + consumerID
	committed, ok := e.offsets[offsetKey]
	if !ok {
		committed = make(map[int]int64)
		e.offsets[offsetKey] = committed
	}

	quota := maxMessages / len(assigned)
	remainder := maxMessages % len(assigned)

	out := make([]Message, 0, maxMessages)
	for i, p := range assigned {
		n := quota
		if i < remainder {
			n++
		}
		if n == 0 {
			continue
		}
		msgs := t.Partition(p).Read(committed[p], n)
		if len(msgs) == 0 {
			continue
		}
		committed[p] = msgs[len(msgs)-1].Offset + 1
		out = append(out, msgs...)
	}

	atomic.AddInt64(&e.polled, int64(len(out)))
	if e.metrics != nil {
		e.metrics.MessagesConsumed.WithLabelValues(groupID).Add(float64(len(out)))
		total := int64(0)
		for _, pl := range e.lagLocked(g) {
			total += pl.Lag
		}
		e.metrics.ConsumerLag.WithLabelValues(groupID, g.TopicName).Set(float64(total))
	}
	return out, nil
}

// CommitOffset explicitly stores a committed offset for a consumer.
func (e *Engine) CommitOffset(consumerID string, partition int, offset int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	groupID, ok := e.consumerGroup[consumerID]
	if !ok {
		return errs.NotFound("consumer", consumerID)
	}

	offsetKey := groupID + ":" + consumerID
	committed, ok := e.offsets[offsetKey]
	if !ok {
		committed = make(map[int]int64)
		e.offsets[offsetKey] = committed
	}
	committed[partition] = offset
	return nil
}

// Lag reports per-partition lag for a group: high water mark minus the
// minimum committed offset across members assigned to the partition.
func (e *Engine) Lag(groupID string) ([]PartitionLag, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g, ok := e.groups[groupID]
	if !ok {
		return nil, errs.NotFound("consumer group", groupID)
	}
	return e.lagLocked(g), nil
}

// lagLocked computes per-partition lag for a group. Caller holds e.mu.
func (e *Engine) lagLocked(g *ConsumerGroup) []PartitionLag {
	t := e.topics[g.TopicName]
	groupID := g.GroupID

	lags := make([]PartitionLag, 0, t.NumPartitions)
	for p := 0; p < t.NumPartitions; p++ {
		hwm := t.Partition(p).HighWaterMark()
		minCommitted := int64(-1)
		for member, parts := range g.Assignment {
			for _, ap := range parts {
				if ap != p {
					continue
				}
				var c int64
				if committed, ok := e.offsets[groupID+":"+member]; ok {
					c = committed[p]
				}
				if minCommitted < 0 || c < minCommitted {
					minCommitted = c
				}
			}
		}
		if minCommitted < 0 {
			minCommitted = 0
		}
		lags = append(lags, PartitionLag{
			Partition:       p,
			HighWaterMark:   hwm,
			CommittedOffset: minCommitted,
			Lag:             hwm - minCommitted,
		})
	}
	return lags
}

// Start runs the retention sweep until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config.RetentionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.ApplyRetention(time.Now())
			}
		}
	}()
}

// ApplyRetention drops the expired contiguous prefix of every partition and
// rebases committed offsets by the dropped count, floored at zero.
func (e *Engine) ApplyRetention(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, t := range e.topics {
		cutoff := now.Add(-t.Retention)
		for p := 0; p < t.NumPartitions; p++ {
			dropped := t.Partition(p).DropExpired(cutoff)
			if dropped == 0 {
				continue
			}
			atomic.AddInt64(&e.expired, int64(dropped))
			e.rebaseOffsetsLocked(name, p, int64(dropped))
			e.logger.Debug("Retention dropped messages",
				zap.String("topic", name),
				zap.Int("partition", p),
				zap.Int("dropped", dropped))
		}
	}
}

// rebaseOffsetsLocked decrements committed offsets for a partition of a
// topic across every group consuming it.
func (e *Engine) rebaseOffsetsLocked(topic string, partition int, by int64) {
	for groupID, g := range e.groups {
		if g.TopicName != topic {
			continue
		}
		for _, member := range g.Members {
			committed, ok := e.offsets[groupID+":"+member]
			if !ok {
				continue
			}
			if c, ok := committed[partition]; ok {
				c -= by
				if c < 0 {
					c = 0
				}
				committed[partition] = c
			}
		}
	}
}

// TopicInfo is a read-only topic snapshot for introspection.
type TopicInfo struct {
	Name          string    `json:"name"`
	NumPartitions int       `json:"num_partitions"`
	RetentionMs   int64     `json:"retention_ms"`
	CreatedAt     time.Time `json:"created_at"`
	Messages      int       `json:"messages"`
	HighWaterMark []int64   `json:"high_water_marks"`
}

// Topics returns snapshots of all topics, sorted by name.
func (e *Engine) Topics() []TopicInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(e.topics))
	for _, t := range e.topics {
		info := TopicInfo{
			Name:          t.Name,
			NumPartitions: t.NumPartitions,
			RetentionMs:   t.Retention.Milliseconds(),
			CreatedAt:     t.CreatedAt,
			HighWaterMark: make([]int64, t.NumPartitions),
		}
		for p := 0; p < t.NumPartitions; p++ {
			info.HighWaterMark[p] = t.Partition(p).HighWaterMark()
			info.Messages += t.Partition(p).Len()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// GroupInfo is a read-only consumer group snapshot for introspection.
type GroupInfo struct {
	GroupID    string           `json:"group_id"`
	TopicName  string           `json:"topic"`
	Members    []string         `json:"members"`
	Assignment map[string][]int `json:"assignment"`
	Lag        []PartitionLag   `json:"lag"`
}

// Groups returns snapshots of all consumer groups, sorted by id.
func (e *Engine) Groups() []GroupInfo {
	e.mu.RLock()
	ids := make([]string, 0, len(e.groups))
	for id := range e.groups {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	infos := make([]GroupInfo, 0, len(ids))
	for _, id := range ids {
		e.mu.RLock()
		g, ok := e.groups[id]
		if !ok {
			e.mu.RUnlock()
			continue
		}
		info := GroupInfo{
			GroupID:    g.GroupID,
			TopicName:  g.TopicName,
			Members:    append([]string(nil), g.Members...),
			Assignment: make(map[string][]int, len(g.Assignment)),
		}
		for m, parts := range g.Assignment {
			info.Assignment[m] = append([]int(nil), parts...)
		}
		e.mu.RUnlock()

		if lag, err := e.Lag(id); err == nil {
			info.Lag = lag
		}
		infos = append(infos, info)
	}
	return infos
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		MessagesProduced: atomic.LoadInt64(&e.produced),
		MessagesPolled:   atomic.LoadInt64(&e.polled),
		MessagesExpired:  atomic.LoadInt64(&e.expired),
	}
}
