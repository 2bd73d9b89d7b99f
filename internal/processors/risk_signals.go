package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/risk"
	"dev.helix.sentinel/internal/streaming"
)

// domainSignals accumulates risk signals for one domain of one seller.
type domainSignals struct {
	Count       int64   `json:"count"`
	MaxSeverity float64 `json:"max_severity"`
	sum         float64
}

// sellerSignals accumulates risk signals for one seller.
type sellerSignals struct {
	Total       int64
	MaxSeverity float64
	FirstSeen   time.Time
	LastSeen    time.Time
	ByDomain    map[risk.Domain]*domainSignals
}

// RiskSignalProcessor consumes risk.events and materialises per-seller
// signal accumulators to the network_risk feature group.
type RiskSignalProcessor struct {
	poller  *poller
	store   *features.Store
	sellers map[string]*sellerSignals
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewRiskSignalProcessor wires the processor to the engine and feature store.
func NewRiskSignalProcessor(engine *streaming.Engine, store *features.Store, logger *zap.Logger) (*RiskSignalProcessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &RiskSignalProcessor{
		store:   store,
		sellers: make(map[string]*sellerSignals),
		logger:  logger,
	}

	poller, err := newPoller("risk-signals", streaming.TopicRiskEvents, engine, p.handle, logger)
	if err != nil {
		return nil, err
	}
	p.poller = poller
	return p, nil
}

// Start runs the poll loop until the context is cancelled.
func (p *RiskSignalProcessor) Start(ctx context.Context) {
	p.poller.Start(ctx)
}

// Tick drains one poll batch; used by tests.
func (p *RiskSignalProcessor) Tick(ctx context.Context, now time.Time) {
	p.poller.Tick(ctx, now)
}

func (p *RiskSignalProcessor) handle(ctx context.Context, msg streaming.Message) error {
	var event risk.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("malformed risk event: %w", err)
	}
	if event.SellerID == "" {
		return fmt.Errorf("risk event missing seller_id")
	}

	ts := msg.Timestamp
	if !event.CreatedAt.IsZero() {
		ts = event.CreatedAt
	}
	severity := event.RiskScore

	p.mu.Lock()
	acc, ok := p.sellers[event.SellerID]
	if !ok {
		acc = &sellerSignals{
			FirstSeen: ts,
			ByDomain:  make(map[risk.Domain]*domainSignals),
		}
		p.sellers[event.SellerID] = acc
	}
	acc.Total++
	if severity > acc.MaxSeverity {
		acc.MaxSeverity = severity
	}
	if ts.Before(acc.FirstSeen) {
		acc.FirstSeen = ts
	}
	if ts.After(acc.LastSeen) {
		acc.LastSeen = ts
	}

	ds, ok := acc.ByDomain[event.Domain]
	if !ok {
		ds = &domainSignals{}
		acc.ByDomain[event.Domain] = ds
	}
	ds.Count++
	ds.sum += severity
	if severity > ds.MaxSeverity {
		ds.MaxSeverity = severity
	}

	payload := p.payloadLocked(event.SellerID, acc)
	p.mu.Unlock()

	return p.store.PutFeatures(ctx, event.SellerID, features.GroupNetworkRisk, payload)
}

func (p *RiskSignalProcessor) payloadLocked(sellerID string, acc *sellerSignals) map[string]interface{} {
	domains := make(map[string]interface{}, len(acc.ByDomain))
	for d, ds := range acc.ByDomain {
		domains[string(d)] = map[string]interface{}{
			"count":        ds.Count,
			"max_severity": ds.MaxSeverity,
			"avg_severity": ds.sum / float64(ds.Count),
		}
	}

	return map[string]interface{}{
		"seller_id":        sellerID,
		"total_signals":    acc.Total,
		"max_severity":     acc.MaxSeverity,
		"distinct_domains": len(acc.ByDomain),
		"first_seen_ms":    acc.FirstSeen.UnixMilli(),
		"last_seen_ms":     acc.LastSeen.UnixMilli(),
		"domains":          domains,
	}
}
