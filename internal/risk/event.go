// Package risk maintains per-seller risk profiles: immutable risk events,
// decayed per-domain scoring, tier transitions with de-escalation cooldown,
// and sequence pattern detection over the event history.
package risk

import (
	"time"

	"dev.helix.sentinel/internal/errs"
)

// Domain is the marketplace lifecycle area a risk event belongs to.
type Domain string

const (
	DomainOnboarding     Domain = "onboarding"
	DomainATO            Domain = "ato"
	DomainPayout         Domain = "payout"
	DomainListing        Domain = "listing"
	DomainShipping       Domain = "shipping"
	DomainTransaction    Domain = "transaction"
	DomainAccountSetup   Domain = "account_setup"
	DomainItemSetup      Domain = "item_setup"
	DomainPricing        Domain = "pricing"
	DomainProfileUpdates Domain = "profile_updates"
	DomainReturns        Domain = "returns"
)

// domainWeights is the composite weighting per domain. Account takeover is
// weighted highest; the weights sum to 1.
var domainWeights = map[Domain]float64{
	DomainOnboarding:     0.12,
	DomainATO:            0.14,
	DomainPayout:         0.12,
	DomainListing:        0.07,
	DomainShipping:       0.10,
	DomainTransaction:    0.08,
	DomainAccountSetup:   0.08,
	DomainItemSetup:      0.07,
	DomainPricing:        0.08,
	DomainProfileUpdates: 0.07,
	DomainReturns:        0.07,
}

// Domains returns every known domain in a stable order.
func Domains() []Domain {
	return []Domain{
		DomainOnboarding, DomainATO, DomainPayout, DomainListing,
		DomainShipping, DomainTransaction, DomainAccountSetup,
		DomainItemSetup, DomainPricing, DomainProfileUpdates, DomainReturns,
	}
}

// ValidDomain reports whether d is a known domain.
func ValidDomain(d Domain) bool {
	_, ok := domainWeights[d]
	return ok
}

// WeightFor returns the composite weight of a domain.
func WeightFor(d Domain) float64 {
	return domainWeights[d]
}

// Event is an immutable risk observation about a seller. Scores are signed:
// negative scores record exculpatory evidence that lowers the domain sum.
type Event struct {
	EventID   string                 `json:"event_id"`
	SellerID  string                 `json:"seller_id"`
	Domain    Domain                 `json:"domain"`
	EventType string                 `json:"event_type"`
	RiskScore float64                `json:"risk_score"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Validate checks the event against the domain enumeration and score range.
func (e *Event) Validate() error {
	if e.SellerID == "" {
		return errs.InvalidArgument("risk event requires a seller_id")
	}
	if !ValidDomain(e.Domain) {
		return errs.InvalidArgument("unknown risk domain: " + string(e.Domain))
	}
	if e.EventType == "" {
		return errs.InvalidArgument("risk event requires an event_type")
	}
	if e.RiskScore < -100 || e.RiskScore > 100 {
		return errs.InvalidArgument("risk_score must be within [-100,100]")
	}
	return nil
}

// Tier buckets a composite score.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// TierFor maps a composite score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score <= 30:
		return TierLow
	case score <= 60:
		return TierMedium
	case score <= 85:
		return TierHigh
	default:
		return TierCritical
	}
}

// tierRank orders tiers for escalation comparison.
func tierRank(t Tier) int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	}
	return 0
}

// ActionsFor derives the enforcement actions for an effective tier.
func ActionsFor(t Tier) []string {
	switch t {
	case TierCritical:
		return []string{"SUSPEND_SELLER", "BLOCK_TRANSACTIONS", "HOLD_PAYOUTS", "SUSPEND_LISTINGS"}
	case TierHigh:
		return []string{"SUSPEND_LISTINGS", "HOLD_PAYOUTS", "REVIEW_LARGE_TRANSACTIONS"}
	case TierMedium:
		return []string{"HOLD_LARGE_PAYOUTS", "FLAG_FOR_REVIEW"}
	default:
		return []string{}
	}
}

// Override is a manual tier pin that supersedes computed tiers until cleared.
type Override struct {
	Tier   Tier      `json:"tier"`
	Reason string    `json:"reason"`
	SetBy  string    `json:"set_by"`
	SetAt  time.Time `json:"set_at"`
}

// Profile is the derived risk state of one seller.
type Profile struct {
	SellerID       string             `json:"seller_id"`
	CompositeScore float64            `json:"composite_score"`
	Tier           Tier               `json:"risk_tier"`
	DomainScores   map[Domain]float64 `json:"domain_scores"`
	ActiveActions  []string           `json:"active_actions"`
	TierChangedAt  time.Time          `json:"tier_changed_at"`
	LastEventAt    time.Time          `json:"last_event_at"`
	EventCount     int                `json:"event_count"`
	ManualOverride *Override          `json:"manual_override,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// HistoryPoint is one step of a seller's score trajectory, computed as-of
// the event's own timestamp.
type HistoryPoint struct {
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"timestamp"`
	Domain         Domain    `json:"domain"`
	EventType      string    `json:"event_type"`
	RiskScore      float64   `json:"risk_score"`
	CompositeScore float64   `json:"composite_score"`
	Tier           Tier      `json:"tier"`
}
