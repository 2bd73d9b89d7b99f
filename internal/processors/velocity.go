package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/streaming"
)

// DecidedTransaction is the payload shape on transactions.decided.
type DecidedTransaction struct {
	TransactionID string  `json:"transaction_id"`
	SellerID      string  `json:"seller_id"`
	BuyerID       string  `json:"buyer_id,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Decision      string  `json:"decision,omitempty"`
	DecidedAtMs   int64   `json:"decided_at_ms,omitempty"`
}

// TransactionVelocityProcessor maintains per-seller 1-hour and 24-hour
// tumbling windows over decided transaction amounts and materialises the
// combined aggregate to the transaction_velocity feature group.
type TransactionVelocityProcessor struct {
	poller   *poller
	store    *features.Store
	hourly   *WindowedAggregator
	daily    *WindowedAggregator
	logger   *zap.Logger
}

// NewTransactionVelocityProcessor wires the processor to the engine and
// feature store.
func NewTransactionVelocityProcessor(engine *streaming.Engine, store *features.Store, logger *zap.Logger) (*TransactionVelocityProcessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &TransactionVelocityProcessor{
		store:  store,
		hourly: NewWindowedAggregator(time.Hour, time.Hour),
		daily:  NewWindowedAggregator(24*time.Hour, 24*time.Hour),
		logger: logger,
	}

	poller, err := newPoller("transaction-velocity", streaming.TopicTransactionsDecided, engine, p.handle, logger)
	if err != nil {
		return nil, err
	}
	poller.onTick = func(now time.Time) {
		p.hourly.Cleanup(now)
		p.daily.Cleanup(now)
	}
	p.poller = poller
	return p, nil
}

// Start runs the poll loop until the context is cancelled.
func (p *TransactionVelocityProcessor) Start(ctx context.Context) {
	p.poller.Start(ctx)
}

// Tick drains one poll batch; used by tests.
func (p *TransactionVelocityProcessor) Tick(ctx context.Context, now time.Time) {
	p.poller.Tick(ctx, now)
}

func (p *TransactionVelocityProcessor) handle(ctx context.Context, msg streaming.Message) error {
	var txn DecidedTransaction
	if err := json.Unmarshal(msg.Value, &txn); err != nil {
		return fmt.Errorf("malformed decided transaction: %w", err)
	}
	if txn.SellerID == "" {
		return fmt.Errorf("decided transaction missing seller_id")
	}

	ts := msg.Timestamp
	if txn.DecidedAtMs > 0 {
		ts = time.UnixMilli(txn.DecidedAtMs)
	}

	p.hourly.Add(txn.SellerID, txn.Amount, ts)
	p.daily.Add(txn.SellerID, txn.Amount, ts)

	payload := map[string]interface{}{
		"seller_id": txn.SellerID,
	}
	fillWindow(payload, "1h", p.hourly.Current(txn.SellerID, ts))
	fillWindow(payload, "24h", p.daily.Current(txn.SellerID, ts))

	return p.store.PutFeatures(ctx, txn.SellerID, features.GroupTransactionVelocity, payload)
}

func fillWindow(payload map[string]interface{}, suffix string, stats *WindowStats) {
	if stats == nil {
		return
	}
	payload["transactions_"+suffix] = stats.Count
	payload["amount_"+suffix] = stats.Sum
	payload["avg_amount_"+suffix] = stats.Avg
	payload["min_amount_"+suffix] = stats.Min
	payload["max_amount_"+suffix] = stats.Max
}
