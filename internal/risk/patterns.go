package risk

import (
	"context"
	"time"
)

// PatternStep is one ordered step of a sequence pattern: a domain plus an
// optional set of accepted event types (empty accepts any type in the
// domain).
type PatternStep struct {
	Domain     Domain   `json:"domain"`
	EventTypes []string `json:"event_types,omitempty"`
}

// SequencePattern is a named ordered behavior template matched against a
// seller's chronological event history.
type SequencePattern struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []PatternStep `json:"steps"`
	MaxDuration time.Duration `json:"max_duration"`
	Severity    Tier          `json:"severity"`
}

// PatternMatch is the result of matching one pattern against a history.
type PatternMatch struct {
	Pattern       string    `json:"pattern"`
	Severity      Tier      `json:"severity"`
	MatchedSteps  int       `json:"matched_steps"`
	TotalSteps    int       `json:"total_steps"`
	MatchScore    float64   `json:"match_score"`
	Complete      bool      `json:"complete"`
	MatchedEvents []string  `json:"matched_events"`
	FirstEventAt  time.Time `json:"first_event_at,omitempty"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
}

// builtinPatterns are the sequences the engine always checks. BUST_OUT is
// the classic long-game scheme: build a clean-looking store, flood it with
// underpriced inventory, spike sales volume, reroute the payout rail and
// cash out before chargebacks land.
var builtinPatterns = []SequencePattern{
	{
		Name:        "BUST_OUT",
		Description: "Clean account build-up and setup followed by a sales spike, a payout rail change and a cash-out rush",
		Steps: []PatternStep{
			{Domain: DomainOnboarding, EventTypes: []string{"SELLER_APPROVED", "ACCOUNT_CREATED", "IDENTITY_VERIFIED"}},
			{Domain: DomainAccountSetup, EventTypes: []string{"ACCOUNT_SETUP_OK", "BANK_ACCOUNT_ADDED"}},
			{Domain: DomainListing, EventTypes: []string{"LISTING_APPROVED", "BULK_LISTING", "LISTING_SURGE"}},
			{Domain: DomainTransaction, EventTypes: []string{"VELOCITY_SPIKE", "TRANSACTION_SPIKE"}},
			{Domain: DomainProfileUpdates, EventTypes: []string{"BANK_CHANGE_DURING_DISPUTE", "BANK_ACCOUNT_CHANGED", "PAYOUT_METHOD_CHANGED"}},
			{Domain: DomainPayout, EventTypes: []string{"PAYOUT_VELOCITY_SPIKE", "PAYOUT_RUSH", "EXPEDITED_PAYOUT_REQUEST"}},
		},
		MaxDuration: 45 * 24 * time.Hour,
		Severity:    TierCritical,
	},
	{
		Name:        "ATO_CASHOUT",
		Description: "Account takeover followed by credential and payout changes and an immediate payout",
		Steps: []PatternStep{
			{Domain: DomainATO, EventTypes: []string{"SUSPICIOUS_LOGIN", "IMPOSSIBLE_TRAVEL", "CREDENTIAL_STUFFING"}},
			{Domain: DomainProfileUpdates, EventTypes: []string{"PASSWORD_CHANGED", "EMAIL_CHANGED", "BANK_ACCOUNT_CHANGED"}},
			{Domain: DomainPayout, EventTypes: []string{"PAYOUT_RUSH", "EXPEDITED_PAYOUT_REQUEST", "PAYOUT_REQUESTED"}},
		},
		MaxDuration: 7 * 24 * time.Hour,
		Severity:    TierHigh,
	},
	{
		Name:        "RETURN_FRAUD_LOOP",
		Description: "Repeated purchase and return cycling against the same seller account",
		Steps: []PatternStep{
			{Domain: DomainTransaction},
			{Domain: DomainReturns, EventTypes: []string{"RETURN_REQUESTED"}},
			{Domain: DomainReturns, EventTypes: []string{"RETURN_APPROVED", "REFUND_ISSUED"}},
		},
		MaxDuration: 60 * 24 * time.Hour,
		Severity:    TierMedium,
	},
}

// BuiltinPatterns returns the patterns the engine checks on demand.
func BuiltinPatterns() []SequencePattern {
	out := make([]SequencePattern, len(builtinPatterns))
	copy(out, builtinPatterns)
	return out
}

// stepAccepts reports whether an event satisfies a step.
func (s PatternStep) stepAccepts(event *Event) bool {
	if event.Domain != s.Domain {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if event.EventType == t {
			return true
		}
	}
	return false
}

// Match runs the pattern against a chronological event history. Matching is
// greedy: each step takes the first acceptable event strictly after the
// previous step's match, so an event satisfying a later step never back-fills
// an earlier one. A step with no acceptable event is skipped and the temporal
// anchor stays where the last match left it, so a history missing one step
// still matches the rest. A match is complete when every step matched within
// MaxDuration of the first matched event.
func (p SequencePattern) Match(history []*Event) PatternMatch {
	match := PatternMatch{
		Pattern:    p.Name,
		Severity:   p.Severity,
		TotalSteps: len(p.Steps),
	}

	var lastMatchedTime time.Time
	searchFrom := 0
	for _, step := range p.Steps {
		for i := searchFrom; i < len(history); i++ {
			event := history[i]
			if !lastMatchedTime.IsZero() && !event.CreatedAt.After(lastMatchedTime) {
				continue
			}
			if step.stepAccepts(event) {
				lastMatchedTime = event.CreatedAt
				match.MatchedEvents = append(match.MatchedEvents, event.EventID)
				if match.FirstEventAt.IsZero() {
					match.FirstEventAt = event.CreatedAt
				}
				match.LastEventAt = event.CreatedAt
				match.MatchedSteps++
				searchFrom = i + 1
				break
			}
		}
	}

	if match.TotalSteps > 0 {
		match.MatchScore = float64(match.MatchedSteps) / float64(match.TotalSteps)
	}
	match.Complete = match.MatchedSteps == match.TotalSteps &&
		match.TotalSteps > 0 &&
		(p.MaxDuration <= 0 || match.LastEventAt.Sub(match.FirstEventAt) <= p.MaxDuration)
	return match
}

// DetectPatterns loads a seller's history and matches every builtin pattern,
// returning matches with at least one step satisfied.
func (e *Engine) DetectPatterns(ctx context.Context, sellerID string) ([]PatternMatch, error) {
	history, err := e.loadEvents(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	var matches []PatternMatch
	for _, pattern := range builtinPatterns {
		match := pattern.Match(history)
		if match.MatchedSteps > 0 {
			matches = append(matches, match)
		}
	}
	return matches, nil
}
