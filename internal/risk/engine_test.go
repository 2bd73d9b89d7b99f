package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	engine := NewEngine(storage.NewMemoryStore(), nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.nowFn = func() time.Time { return now }
	return engine, &now
}

func TestDecayedScore(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 80, decayedScore(80, created, created), 1e-9)
	assert.InDelta(t, 40, decayedScore(80, created, created.Add(30*24*time.Hour)), 1e-9)
	assert.InDelta(t, 20, decayedScore(80, created, created.Add(60*24*time.Hour)), 1e-9)

	// Events from the future of asOf contribute undecayed.
	assert.InDelta(t, 80, decayedScore(80, created, created.Add(-time.Hour)), 1e-9)
}

func TestScoreEventsClampsAndWeights(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	history := []*Event{
		{Domain: DomainATO, RiskScore: 90, CreatedAt: now},
		{Domain: DomainATO, RiskScore: 90, CreatedAt: now},
		{Domain: DomainPayout, RiskScore: 50, CreatedAt: now},
		{Domain: DomainReturns, RiskScore: -30, CreatedAt: now},
	}

	composite, domains := scoreEvents(history, now)
	assert.InDelta(t, 100, domains[DomainATO], 1e-9)
	assert.InDelta(t, 50, domains[DomainPayout], 1e-9)
	assert.InDelta(t, 0, domains[DomainReturns], 1e-9)
	// 100*0.14 + 50*0.12 = 20.00
	assert.InDelta(t, 20.0, composite, 1e-9)
}

func TestTierBoundaries(t *testing.T) {
	assert.Equal(t, TierLow, TierFor(0))
	assert.Equal(t, TierLow, TierFor(30))
	assert.Equal(t, TierMedium, TierFor(30.01))
	assert.Equal(t, TierMedium, TierFor(60))
	assert.Equal(t, TierHigh, TierFor(60.5))
	assert.Equal(t, TierHigh, TierFor(85))
	assert.Equal(t, TierCritical, TierFor(85.1))
}

func TestActionsFor(t *testing.T) {
	assert.Contains(t, ActionsFor(TierCritical), "SUSPEND_SELLER")
	assert.Contains(t, ActionsFor(TierHigh), "HOLD_PAYOUTS")
	assert.Equal(t, []string{"HOLD_LARGE_PAYOUTS", "FLAG_FOR_REVIEW"}, ActionsFor(TierMedium))
	assert.Empty(t, ActionsFor(TierLow))
}

func TestEventValidate(t *testing.T) {
	valid := Event{SellerID: "S-1", Domain: DomainPayout, EventType: "PAYOUT_RUSH", RiskScore: 50}
	assert.NoError(t, valid.Validate())

	for _, event := range []Event{
		{Domain: DomainPayout, EventType: "X", RiskScore: 1},
		{SellerID: "S-1", Domain: Domain("bogus"), EventType: "X", RiskScore: 1},
		{SellerID: "S-1", Domain: DomainPayout, RiskScore: 1},
		{SellerID: "S-1", Domain: DomainPayout, EventType: "X", RiskScore: 101},
		{SellerID: "S-1", Domain: DomainPayout, EventType: "X", RiskScore: -101},
	} {
		assert.Error(t, event.Validate())
	}
}

func TestEmitBuildsProfile(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	event, profile, err := engine.Emit(ctx, "S-1", DomainOnboarding, "SYNTHETIC_IDENTITY_SUSPECTED", 80, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, event.EventID)

	assert.Equal(t, "S-1", profile.SellerID)
	assert.Equal(t, 1, profile.EventCount)
	assert.InDelta(t, 80*0.12, profile.CompositeScore, 0.01)
	assert.Equal(t, TierLow, profile.Tier)
	assert.InDelta(t, 80, profile.DomainScores[DomainOnboarding], 1e-9)

	loaded, err := engine.GetProfile(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, profile.CompositeScore, loaded.CompositeScore)
}

func TestGetProfileUnknownSeller(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.GetProfile(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestRecordIdempotentByEventID(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	event := &Event{
		EventID: "e-1", SellerID: "S-1", Domain: DomainPayout,
		EventType: "PAYOUT_RUSH", RiskScore: 60, CreatedAt: *now,
	}
	first, err := engine.Record(ctx, event)
	require.NoError(t, err)
	second, err := engine.Record(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, 1, first.EventCount)
	assert.Equal(t, 1, second.EventCount)
	assert.Equal(t, first.CompositeScore, second.CompositeScore)
}

// escalate pushes a seller to a high composite by spreading maximal events
// across heavyweight domains.
func escalate(t *testing.T, engine *Engine, sellerID string) *Profile {
	t.Helper()
	ctx := context.Background()
	var profile *Profile
	var err error
	for _, domain := range []Domain{
		DomainOnboarding, DomainATO, DomainPayout, DomainShipping,
		DomainTransaction, DomainListing,
	} {
		_, profile, err = engine.Emit(ctx, sellerID, domain, "SPIKE", 100, nil)
		require.NoError(t, err)
	}
	return profile
}

func TestDeEscalationCooldown(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	profile := escalate(t, engine, "S-1")
	// 0.12+0.14+0.12+0.10+0.08+0.07 = 0.63 of weight at 100.
	assert.Equal(t, TierHigh, profile.Tier)
	escalatedAt := profile.TierChangedAt

	// Exculpatory evidence a day later computes LOW but the downgrade is
	// held inside the cooldown window.
	*now = now.Add(24 * time.Hour)
	for _, domain := range []Domain{
		DomainOnboarding, DomainATO, DomainPayout, DomainShipping,
		DomainTransaction, DomainListing,
	} {
		_, profile2, err := engine.Emit(ctx, "S-1", domain, "CLEARED", -100, nil)
		require.NoError(t, err)
		profile = profile2
	}
	assert.Less(t, profile.CompositeScore, 30.0)
	assert.Equal(t, TierHigh, profile.Tier)
	assert.Equal(t, escalatedAt, profile.TierChangedAt)

	// Past the cooldown the downgrade lands.
	*now = now.Add(25 * time.Hour)
	_, profile3, err := engine.Emit(ctx, "S-1", DomainReturns, "CLEARED", -1, nil)
	require.NoError(t, err)
	assert.Equal(t, TierLow, profile3.Tier)
	assert.Equal(t, *now, profile3.TierChangedAt)
}

func TestReEscalationIsImmediate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	previous := &Profile{Tier: TierMedium, TierChangedAt: now.Add(-time.Hour)}

	tier, changedAt := applyHysteresis(previous, TierCritical, now)
	assert.Equal(t, TierCritical, tier)
	assert.Equal(t, now, changedAt)

	// Same tier keeps the original change timestamp.
	tier, changedAt = applyHysteresis(previous, TierMedium, now)
	assert.Equal(t, TierMedium, tier)
	assert.Equal(t, previous.TierChangedAt, changedAt)
}

func TestManualOverrideSupersedesComputedTier(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, profile, err := engine.Emit(ctx, "S-1", DomainListing, "BULK_LISTING", 20, nil)
	require.NoError(t, err)
	assert.Equal(t, TierLow, profile.Tier)

	pinned, err := engine.SetOverride(ctx, "S-1", TierCritical, "confirmed fraud ring", "analyst-7")
	require.NoError(t, err)
	assert.Equal(t, TierCritical, pinned.Tier)
	assert.Contains(t, pinned.ActiveActions, "SUSPEND_SELLER")
	require.NotNil(t, pinned.ManualOverride)
	assert.Equal(t, "analyst-7", pinned.ManualOverride.SetBy)

	// New events do not shake the pin.
	_, stillPinned, err := engine.Emit(ctx, "S-1", DomainListing, "BULK_LISTING", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, TierCritical, stillPinned.Tier)

	cleared, err := engine.ClearOverride(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, TierLow, cleared.Tier)
	assert.Nil(t, cleared.ManualOverride)
}

func TestSetOverrideRejectsUnknownTier(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.SetOverride(context.Background(), "S-1", Tier("SEVERE"), "", "")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func TestGetHistoryReplaysAsOfEventTime(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	first := &Event{
		EventID: "e-1", SellerID: "S-1", Domain: DomainATO,
		EventType: "SUSPICIOUS_LOGIN", RiskScore: 100, CreatedAt: *now,
	}
	_, err := engine.Record(ctx, first)
	require.NoError(t, err)

	second := &Event{
		EventID: "e-2", SellerID: "S-1", Domain: DomainPayout,
		EventType: "PAYOUT_RUSH", RiskScore: 100, CreatedAt: now.Add(30 * 24 * time.Hour),
	}
	_, err = engine.Record(ctx, second)
	require.NoError(t, err)

	points, err := engine.GetHistory(ctx, "S-1")
	require.NoError(t, err)
	require.Len(t, points, 2)

	// First point sees only the first event, undecayed: 100 * 0.14.
	assert.Equal(t, "e-1", points[0].EventID)
	assert.InDelta(t, 14.0, points[0].CompositeScore, 0.01)

	// Second point sees the first event halved: 50*0.14 + 100*0.12 = 19.
	assert.Equal(t, "e-2", points[1].EventID)
	assert.InDelta(t, 19.0, points[1].CompositeScore, 0.01)
}

func TestGetHistoryUnknownSeller(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.GetHistory(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestTierChangePublishesBusEvents(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	engine := NewEngine(storage.NewMemoryStore(), bus, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.nowFn = func() time.Time { return now }

	updated := bus.Subscribe(events.EventRiskProfileUpdated)
	changed := bus.Subscribe(events.EventRiskTierChanged)

	_, _, err := engine.Emit(context.Background(), "S-1", DomainATO, "SUSPICIOUS_LOGIN", 60, nil)
	require.NoError(t, err)

	select {
	case event := <-updated:
		assert.Equal(t, "S-1", event.Key)
	case <-time.After(time.Second):
		t.Fatal("profile update not published")
	}
	select {
	case event := <-changed:
		payload := event.Payload.(map[string]interface{})
		assert.Equal(t, TierLow, payload["tier"])
	case <-time.After(time.Second):
		t.Fatal("tier change not published")
	}
}

func TestIngestFromBus(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	engine := NewEngine(storage.NewMemoryStore(), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	bus.Publish(events.NewEvent(events.EventRiskEvent, "test", map[string]interface{}{
		"seller_id":  "S-9",
		"domain":     "payout",
		"event_type": "PAYOUT_RUSH",
		"risk_score": 70,
	}).WithKey("S-9"))

	require.Eventually(t, func() bool {
		_, err := engine.GetProfile(ctx, "S-9")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	profile, err := engine.GetProfile(ctx, "S-9")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.EventCount)
	assert.InDelta(t, 70, profile.DomainScores[DomainPayout], 1e-9)
}
