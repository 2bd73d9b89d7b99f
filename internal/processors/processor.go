package processors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/streaming"
)

// pollInterval is the wake-up cadence for every processor loop.
const pollInterval = time.Second

// pollBatchSize is the per-tick message budget.
const pollBatchSize = 100

// handlerFunc processes one polled message. Errors are logged, not retried.
type handlerFunc func(ctx context.Context, msg streaming.Message) error

// poller runs a consumer-group poll loop against the streaming engine.
type poller struct {
	name       string
	topic      string
	engine     *streaming.Engine
	consumerID string
	handler    handlerFunc
	onTick     func(now time.Time)
	logger     *zap.Logger
}

// newPoller registers a consumer group and a single consumer for a topic.
func newPoller(name, topic string, engine *streaming.Engine, handler handlerFunc, logger *zap.Logger) (*poller, error) {
	groupID := "proc-" + name
	consumerID := groupID + "-0"

	if _, err := engine.CreateConsumerGroup(groupID, topic); err != nil {
		return nil, err
	}
	if err := engine.AddConsumer(groupID, consumerID); err != nil {
		return nil, err
	}

	return &poller{
		name:       name,
		topic:      topic,
		engine:     engine,
		consumerID: consumerID,
		handler:    handler,
		logger:     logger,
	}, nil
}

// Start runs the poll loop until the context is cancelled.
func (p *poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		p.logger.Info("Stream processor started",
			zap.String("processor", p.name),
			zap.String("topic", p.topic))

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Stream processor stopped", zap.String("processor", p.name))
				return
			case now := <-ticker.C:
				p.Tick(ctx, now)
			}
		}
	}()
}

// Tick drains one poll batch. Exposed so tests can drive processors without
// waiting on the ticker.
func (p *poller) Tick(ctx context.Context, now time.Time) {
	msgs, err := p.engine.Poll(p.consumerID, pollBatchSize)
	if err != nil {
		p.logger.Error("Poll failed",
			zap.String("processor", p.name),
			zap.Error(err))
		return
	}

	for _, msg := range msgs {
		if err := p.handler(ctx, msg); err != nil {
			p.logger.Warn("Skipping message",
				zap.String("processor", p.name),
				zap.String("topic", p.topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}

	if p.onTick != nil {
		p.onTick(now)
	}
}
