package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/observability"
	"dev.helix.sentinel/internal/storage"
)

// decayHalfLifeDays halves an event's contribution every 30 days.
const decayHalfLifeDays = 30.0

// deEscalationCooldown blocks tier downgrades for 48 h after a tier change.
// Re-escalations are never delayed.
const deEscalationCooldown = 48 * time.Hour

// Engine derives seller risk profiles from their full event history.
type Engine struct {
	store   storage.Store
	bus     *events.Bus
	logger  *zap.Logger
	metrics *observability.Collector

	// sellerLocks serialises recomputation per seller.
	sellerLocks sync.Map

	profilesMu sync.RWMutex
	profiles   map[string]*Profile

	nowFn func() time.Time
}

// NewEngine creates a risk engine backed by the given store. The bus is
// optional; when present the engine publishes profile and tier updates.
func NewEngine(store storage.Store, bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		bus:      bus,
		logger:   logger,
		profiles: make(map[string]*Profile),
		nowFn:    time.Now,
	}
}

// SetMetrics attaches a collector; recomputes and tier transitions feed it.
func (e *Engine) SetMetrics(c *observability.Collector) {
	e.metrics = c
}

// Start subscribes the engine to risk events flowing on the bus and ingests
// them until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if e.bus == nil {
		return
	}
	ch := e.bus.Subscribe(events.EventRiskEvent)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case busEvent, ok := <-ch:
				if !ok {
					return
				}
				e.ingest(ctx, busEvent)
			}
		}
	}()
	e.logger.Info("Risk engine subscribed to risk events")
}

// ingest decodes a bus-delivered risk event and recomputes the profile.
// Malformed events are logged and dropped.
func (e *Engine) ingest(ctx context.Context, busEvent *events.Event) {
	raw, ok := busEvent.Payload.(json.RawMessage)
	if !ok {
		if b, isBytes := busEvent.Payload.([]byte); isBytes {
			raw = b
		} else {
			encoded, err := json.Marshal(busEvent.Payload)
			if err != nil {
				e.logger.Warn("Dropping undecodable risk event", zap.Error(err))
				return
			}
			raw = encoded
		}
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		e.logger.Warn("Dropping malformed risk event", zap.Error(err))
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = busEvent.Timestamp
	}
	if err := event.Validate(); err != nil {
		e.logger.Warn("Dropping invalid risk event",
			zap.String("seller_id", event.SellerID),
			zap.Error(err))
		return
	}
	if _, err := e.Record(ctx, &event); err != nil {
		e.logger.Error("Risk event ingestion failed",
			zap.String("seller_id", event.SellerID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

// Emit creates, persists and scores a new risk event for a seller.
func (e *Engine) Emit(ctx context.Context, sellerID string, domain Domain, eventType string, riskScore float64, metadata map[string]interface{}) (*Event, *Profile, error) {
	event := &Event{
		EventID:   uuid.NewString(),
		SellerID:  sellerID,
		Domain:    domain,
		EventType: eventType,
		RiskScore: riskScore,
		Metadata:  metadata,
		CreatedAt: e.nowFn().UTC(),
	}
	profile, err := e.Record(ctx, event)
	if err != nil {
		return nil, nil, err
	}
	return event, profile, nil
}

// Record persists an already-formed event and recomputes the profile under
// the seller's lock. Re-recording the same event id is idempotent.
func (e *Engine) Record(ctx context.Context, event *Event) (*Profile, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	lock := e.lockFor(event.SellerID)
	lock.Lock()
	defer lock.Unlock()

	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "encode risk event", err)
	}
	key := eventKey(event.SellerID, event.CreatedAt, event.EventID)
	if err := e.store.Put(ctx, storage.BucketRiskEvents, key, encoded); err != nil {
		return nil, errs.Wrap(errs.CodeUnavailable, "persist risk event", err)
	}

	profile, err := e.recomputeLocked(ctx, event.SellerID)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile returns the current profile for a seller, loading from the
// store when not cached. A seller with no events has no profile.
func (e *Engine) GetProfile(ctx context.Context, sellerID string) (*Profile, error) {
	e.profilesMu.RLock()
	profile, ok := e.profiles[sellerID]
	e.profilesMu.RUnlock()
	if ok {
		return profile, nil
	}

	raw, err := e.store.Get(ctx, storage.BucketSellerRiskProfiles, sellerID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, errs.NotFound("seller risk profile", sellerID)
		}
		return nil, errs.Wrap(errs.CodeUnavailable, "load risk profile", err)
	}
	profile = &Profile{}
	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "decode risk profile", err)
	}
	e.profilesMu.Lock()
	e.profiles[sellerID] = profile
	e.profilesMu.Unlock()
	return profile, nil
}

// SetOverride pins a seller's tier manually, superseding computed tiers
// until cleared.
func (e *Engine) SetOverride(ctx context.Context, sellerID string, tier Tier, reason, setBy string) (*Profile, error) {
	switch tier {
	case TierLow, TierMedium, TierHigh, TierCritical:
	default:
		return nil, errs.InvalidArgument("unknown risk tier: " + string(tier))
	}

	lock := e.lockFor(sellerID)
	lock.Lock()
	defer lock.Unlock()

	override := &Override{Tier: tier, Reason: reason, SetBy: setBy, SetAt: e.nowFn().UTC()}
	return e.recomputeWithOverrideLocked(ctx, sellerID, override, true)
}

// ClearOverride removes a manual override and restores computed tiers.
func (e *Engine) ClearOverride(ctx context.Context, sellerID string) (*Profile, error) {
	lock := e.lockFor(sellerID)
	lock.Lock()
	defer lock.Unlock()
	return e.recomputeWithOverrideLocked(ctx, sellerID, nil, true)
}

// GetHistory replays a seller's events chronologically, recomputing the
// decayed composite as-of each event's own timestamp.
func (e *Engine) GetHistory(ctx context.Context, sellerID string) ([]HistoryPoint, error) {
	eventsList, err := e.loadEvents(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if len(eventsList) == 0 {
		return nil, errs.NotFound("risk events for seller", sellerID)
	}

	points := make([]HistoryPoint, 0, len(eventsList))
	for i, event := range eventsList {
		composite, _ := scoreEvents(eventsList[:i+1], event.CreatedAt)
		points = append(points, HistoryPoint{
			EventID:        event.EventID,
			Timestamp:      event.CreatedAt,
			Domain:         event.Domain,
			EventType:      event.EventType,
			RiskScore:      event.RiskScore,
			CompositeScore: composite,
			Tier:           TierFor(composite),
		})
	}
	return points, nil
}

// GetEvents returns a seller's full event history, oldest first.
func (e *Engine) GetEvents(ctx context.Context, sellerID string) ([]*Event, error) {
	return e.loadEvents(ctx, sellerID)
}

// Profiles returns a snapshot of every cached profile.
func (e *Engine) Profiles() []*Profile {
	e.profilesMu.RLock()
	defer e.profilesMu.RUnlock()
	out := make([]*Profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out
}

func (e *Engine) lockFor(sellerID string) *sync.Mutex {
	lock, _ := e.sellerLocks.LoadOrStore(sellerID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// eventKey orders events chronologically under a seller prefix. The epoch
// milliseconds are zero-padded so lexicographic key order is time order.
func eventKey(sellerID string, createdAt time.Time, eventID string) string {
	return fmt.Sprintf("%s:%013d:%s", sellerID, createdAt.UnixMilli(), eventID)
}

func (e *Engine) loadEvents(ctx context.Context, sellerID string) ([]*Event, error) {
	keys, err := e.store.Keys(ctx, storage.BucketRiskEvents, sellerID+":")
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnavailable, "list risk events", err)
	}

	eventsList := make([]*Event, 0, len(keys))
	for _, key := range keys {
		raw, err := e.store.Get(ctx, storage.BucketRiskEvents, key)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			return nil, errs.Wrap(errs.CodeUnavailable, "load risk event", err)
		}
		event := &Event{}
		if err := json.Unmarshal(raw, event); err != nil {
			e.logger.Warn("Skipping undecodable stored risk event",
				zap.String("key", key), zap.Error(err))
			continue
		}
		eventsList = append(eventsList, event)
	}
	// Keys carry millisecond timestamps; sort to fix the order of equal stamps.
	sort.SliceStable(eventsList, func(i, j int) bool {
		return eventsList[i].CreatedAt.Before(eventsList[j].CreatedAt)
	})
	return eventsList, nil
}

// decayedScore applies the 30-day half-life to an event score as-of a point
// in time. Events from the future of asOf contribute undecayed.
func decayedScore(score float64, createdAt, asOf time.Time) float64 {
	days := asOf.Sub(createdAt).Hours() / 24
	if days <= 0 {
		return score
	}
	return score * math.Pow(0.5, days/decayHalfLifeDays)
}

// scoreEvents computes the composite and per-domain scores for a history
// as-of a point in time. Domain sums are clamped to [0,100] before
// weighting; the composite is rounded to 2 dp and clamped to [0,100].
func scoreEvents(eventsList []*Event, asOf time.Time) (float64, map[Domain]float64) {
	sums := make(map[Domain]float64)
	for _, event := range eventsList {
		sums[event.Domain] += decayedScore(event.RiskScore, event.CreatedAt, asOf)
	}

	domainScores := make(map[Domain]float64, len(sums))
	composite := 0.0
	for domain, sum := range sums {
		clamped := math.Min(100, math.Max(0, sum))
		domainScores[domain] = clamped
		composite += clamped * domainWeights[domain]
	}
	composite = math.Round(composite*100) / 100
	composite = math.Min(100, math.Max(0, composite))
	return composite, domainScores
}

func (e *Engine) recomputeLocked(ctx context.Context, sellerID string) (*Profile, error) {
	return e.recomputeWithOverrideLocked(ctx, sellerID, e.currentOverride(ctx, sellerID), false)
}

func (e *Engine) currentOverride(ctx context.Context, sellerID string) *Override {
	e.profilesMu.RLock()
	cached, ok := e.profiles[sellerID]
	e.profilesMu.RUnlock()
	if ok {
		return cached.ManualOverride
	}
	if profile, err := e.GetProfile(ctx, sellerID); err == nil {
		return profile.ManualOverride
	}
	return nil
}

// recomputeWithOverrideLocked rebuilds the seller profile from the full
// event history, applies hysteresis and the override, persists and publishes.
func (e *Engine) recomputeWithOverrideLocked(ctx context.Context, sellerID string, override *Override, overrideChanged bool) (*Profile, error) {
	eventsList, err := e.loadEvents(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if len(eventsList) == 0 && !overrideChanged {
		return nil, errs.NotFound("risk events for seller", sellerID)
	}

	now := e.nowFn().UTC()
	composite, domainScores := scoreEvents(eventsList, now)
	computedTier := TierFor(composite)

	var previous *Profile
	e.profilesMu.RLock()
	previous = e.profiles[sellerID]
	e.profilesMu.RUnlock()
	if previous == nil {
		if loaded, loadErr := e.GetProfile(ctx, sellerID); loadErr == nil {
			previous = loaded
		}
	}

	effectiveTier := computedTier
	tierChangedAt := now
	if previous != nil {
		effectiveTier, tierChangedAt = applyHysteresis(previous, computedTier, now)
	}
	if override != nil {
		effectiveTier = override.Tier
		if previous == nil || previous.ManualOverride == nil || previous.ManualOverride.Tier != override.Tier {
			tierChangedAt = now
		} else {
			tierChangedAt = previous.TierChangedAt
		}
	}

	lastEventAt := time.Time{}
	if len(eventsList) > 0 {
		lastEventAt = eventsList[len(eventsList)-1].CreatedAt
	}

	profile := &Profile{
		SellerID:       sellerID,
		CompositeScore: composite,
		Tier:           effectiveTier,
		DomainScores:   domainScores,
		ActiveActions:  ActionsFor(effectiveTier),
		TierChangedAt:  tierChangedAt,
		LastEventAt:    lastEventAt,
		EventCount:     len(eventsList),
		ManualOverride: override,
		UpdatedAt:      now,
	}

	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "encode risk profile", err)
	}
	if err := e.store.Put(ctx, storage.BucketSellerRiskProfiles, sellerID, encoded); err != nil {
		return nil, errs.Wrap(errs.CodeUnavailable, "persist risk profile", err)
	}

	e.profilesMu.Lock()
	e.profiles[sellerID] = profile
	e.profilesMu.Unlock()

	tierChanged := previous == nil || previous.Tier != effectiveTier
	if e.metrics != nil {
		e.metrics.RiskRecomputes.Inc()
		if tierChanged {
			e.metrics.TierTransitions.WithLabelValues(string(effectiveTier)).Inc()
		}
	}

	if e.bus != nil {
		e.bus.Publish(events.NewEvent(events.EventRiskProfileUpdated, "risk-engine", profile).WithKey(sellerID))
		if tierChanged {
			e.bus.Publish(events.NewEvent(events.EventRiskTierChanged, "risk-engine", map[string]interface{}{
				"seller_id": sellerID,
				"previous_tier": func() Tier {
					if previous != nil {
						return previous.Tier
					}
					return ""
				}(),
				"tier":            effectiveTier,
				"composite_score": composite,
			}).WithKey(sellerID))
			e.logger.Info("Seller risk tier changed",
				zap.String("seller_id", sellerID),
				zap.String("tier", string(effectiveTier)),
				zap.Float64("composite_score", composite))
		}
	}
	return profile, nil
}

// applyHysteresis keeps the previous, higher tier when a downgrade falls
// inside the cooldown window. Upgrades always take effect immediately.
func applyHysteresis(previous *Profile, computed Tier, now time.Time) (Tier, time.Time) {
	if computed == previous.Tier {
		return previous.Tier, previous.TierChangedAt
	}
	if tierRank(computed) < tierRank(previous.Tier) &&
		now.Sub(previous.TierChangedAt) < deEscalationCooldown {
		return previous.Tier, previous.TierChangedAt
	}
	return computed, now
}
