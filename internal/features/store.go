// Package features implements the two-tier feature store: a TTL-bounded
// online tier for low-latency reads and a write-through offline tier with
// point-in-time keys for training and replay.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/observability"
	"dev.helix.sentinel/internal/storage"
)

// Group identifies a feature group. Groups are a fixed enumeration with a
// per-group TTL.
type Group string

const (
	GroupSellerProfile       Group = "seller_profile"
	GroupTransactionVelocity Group = "transaction_velocity"
	GroupDeviceTrust         Group = "device_trust"
	GroupNetworkRisk         Group = "network_risk"
)

// groupTTLs is the fixed per-group freshness window.
var groupTTLs = map[Group]time.Duration{
	GroupSellerProfile:       5 * time.Minute,
	GroupTransactionVelocity: 1 * time.Minute,
	GroupDeviceTrust:         2 * time.Minute,
	GroupNetworkRisk:         5 * time.Minute,
}

// Groups returns the fixed group enumeration.
func Groups() []Group {
	return []Group{GroupSellerProfile, GroupTransactionVelocity, GroupDeviceTrust, GroupNetworkRisk}
}

// TTLFor returns the TTL for a group and whether the group is known.
func TTLFor(g Group) (time.Duration, bool) {
	ttl, ok := groupTTLs[g]
	return ttl, ok
}

// Entry is one online feature entry.
type Entry struct {
	Payload   map[string]interface{} `json:"payload"`
	UpdatedAt time.Time              `json:"updated_at"`
	TTL       time.Duration          `json:"ttl"`
}

// offlineRecord is the persisted shape of a feature write.
type offlineRecord struct {
	EntityID    string                 `json:"entity_id"`
	Group       Group                  `json:"group"`
	Payload     map[string]interface{} `json:"payload"`
	UpdatedAtMs int64                  `json:"updated_at_ms"`
	TTLMs       int64                  `json:"ttl_ms"`
}

// GroupStats tallies fresh and stale reads per group.
type GroupStats struct {
	Fresh int64 `json:"fresh"`
	Stale int64 `json:"stale"`
}

// Stats holds feature store counters.
type Stats struct {
	Reads    int64                `json:"reads"`
	Writes   int64                `json:"writes"`
	Hits     int64                `json:"hits"`
	Misses   int64                `json:"misses"`
	HitRate  float64              `json:"hit_rate"`
	PerGroup map[Group]GroupStats `json:"per_group"`
}

// Store is the two-tier feature store.
type Store struct {
	online  map[string]map[Group]*Entry
	offline storage.Store
	logger  *zap.Logger
	metrics *observability.Collector
	mu      sync.RWMutex

	reads   int64
	writes  int64
	hits    int64
	misses  int64
	groupMu sync.Mutex
	byGroup map[Group]*GroupStats

	// nowFn is injectable for TTL tests.
	nowFn func() time.Time
}

// NewStore creates a feature store backed by the given offline tier.
func NewStore(offline storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		online:  make(map[string]map[Group]*Entry),
		offline: offline,
		logger:  logger,
		byGroup: make(map[Group]*GroupStats),
		nowFn:   time.Now,
	}
}

// SetMetrics attaches a collector; reads and writes feed it.
func (s *Store) SetMetrics(c *observability.Collector) {
	s.metrics = c
}

// PutFeatures stores a payload in the online tier and writes through to the
// offline tier under both the latest and the point-in-time key.
func (s *Store) PutFeatures(ctx context.Context, entityID string, group Group, payload map[string]interface{}) error {
	ttl, ok := groupTTLs[group]
	if !ok {
		return errs.InvalidArgument(fmt.Sprintf("unknown feature group: %s", group))
	}

	now := s.nowFn()

	s.mu.Lock()
	groups, ok := s.online[entityID]
	if !ok {
		groups = make(map[Group]*Entry)
		s.online[entityID] = groups
	}
	groups[group] = &Entry{Payload: payload, UpdatedAt: now, TTL: ttl}
	s.mu.Unlock()

	atomic.AddInt64(&s.writes, 1)
	if s.metrics != nil {
		s.metrics.FeatureWrites.WithLabelValues(string(group)).Inc()
	}

	record := offlineRecord{
		EntityID:    entityID,
		Group:       group,
		Payload:     payload,
		UpdatedAtMs: now.UnixMilli(),
		TTLMs:       ttl.Milliseconds(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal feature record: %w", err)
	}

	latestKey := fmt.Sprintf("%s:%s", entityID, group)
	pitKey := fmt.Sprintf("%s:%s:%d", entityID, group, now.UnixMilli())
	if err := s.offline.Put(ctx, storage.BucketFeatureStore, latestKey, data); err != nil {
		return fmt.Errorf("failed to write latest feature record: %w", err)
	}
	if err := s.offline.Put(ctx, storage.BucketFeatureStore, pitKey, data); err != nil {
		return fmt.Errorf("failed to write point-in-time feature record: %w", err)
	}

	s.logger.Debug("Materialized features",
		zap.String("entity", entityID),
		zap.String("group", string(group)))
	return nil
}

// GetFeatures returns the payload iff the online entry is still fresh.
// Stale entries are evicted and counted as misses.
func (s *Store) GetFeatures(ctx context.Context, entityID string, group Group) (map[string]interface{}, bool) {
	atomic.AddInt64(&s.reads, 1)
	now := s.nowFn()

	s.mu.RLock()
	var entry *Entry
	if groups, ok := s.online[entityID]; ok {
		entry = groups[group]
	}
	s.mu.RUnlock()

	if entry == nil {
		atomic.AddInt64(&s.misses, 1)
		s.tallyRead(group, false)
		return nil, false
	}

	if now.Sub(entry.UpdatedAt) > entry.TTL {
		s.mu.Lock()
		if groups, ok := s.online[entityID]; ok {
			// Re-check under the write lock; a concurrent Put wins.
			if cur := groups[group]; cur == entry {
				delete(groups, group)
			}
		}
		s.mu.Unlock()
		atomic.AddInt64(&s.misses, 1)
		s.tallyGroup(group, false)
		s.tallyRead(group, false)
		return nil, false
	}

	atomic.AddInt64(&s.hits, 1)
	s.tallyGroup(group, true)
	s.tallyRead(group, true)
	return entry.Payload, true
}

func (s *Store) tallyRead(group Group, hit bool) {
	if s.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.metrics.FeatureReads.WithLabelValues(string(group), result).Inc()
}

// GetFeaturesAsOf reads from the offline tier: an exact point-in-time hit if
// one exists, otherwise the latest record iff it was updated at or before ts.
func (s *Store) GetFeaturesAsOf(ctx context.Context, entityID string, group Group, ts time.Time) (map[string]interface{}, error) {
	pitKey := fmt.Sprintf("%s:%s:%d", entityID, group, ts.UnixMilli())
	if data, err := s.offline.Get(ctx, storage.BucketFeatureStore, pitKey); err == nil {
		return decodeOfflinePayload(data)
	}

	latestKey := fmt.Sprintf("%s:%s", entityID, group)
	data, err := s.offline.Get(ctx, storage.BucketFeatureStore, latestKey)
	if err != nil {
		return nil, errs.NotFound("features", latestKey)
	}

	var record offlineRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode feature record: %w", err)
	}
	if record.UpdatedAtMs > ts.UnixMilli() {
		return nil, errs.NotFound("features as of timestamp", latestKey)
	}
	return record.Payload, nil
}

// Snapshot returns the fresh online entries for an entity.
func (s *Store) Snapshot(entityID string) map[Group]map[string]interface{} {
	now := s.nowFn()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Group]map[string]interface{})
	for group, entry := range s.online[entityID] {
		if now.Sub(entry.UpdatedAt) <= entry.TTL {
			out[group] = entry.Payload
		}
	}
	return out
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)

	stats := Stats{
		Reads:    atomic.LoadInt64(&s.reads),
		Writes:   atomic.LoadInt64(&s.writes),
		Hits:     hits,
		Misses:   misses,
		PerGroup: make(map[Group]GroupStats),
	}
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses)
	}

	s.groupMu.Lock()
	for g, gs := range s.byGroup {
		stats.PerGroup[g] = *gs
	}
	s.groupMu.Unlock()
	return stats
}

func (s *Store) tallyGroup(group Group, fresh bool) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	gs, ok := s.byGroup[group]
	if !ok {
		gs = &GroupStats{}
		s.byGroup[group] = gs
	}
	if fresh {
		gs.Fresh++
	} else {
		gs.Stale++
	}
}

func decodeOfflinePayload(data []byte) (map[string]interface{}, error) {
	var record offlineRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode feature record: %w", err)
	}
	return record.Payload, nil
}
