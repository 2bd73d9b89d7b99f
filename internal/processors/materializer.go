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

// MaterializedFeatures is the payload shape on features.materialized.
type MaterializedFeatures struct {
	EntityID string                 `json:"entity_id"`
	Group    features.Group         `json:"group"`
	Features map[string]interface{} `json:"features"`
}

// FeatureMaterializationProcessor is a passthrough: it reads computed
// feature payloads off features.materialized and writes them to the feature
// store with a materialized_at stamp. Malformed messages are logged and
// skipped, never retried.
type FeatureMaterializationProcessor struct {
	poller *poller
	store  *features.Store
	logger *zap.Logger
}

// NewFeatureMaterializationProcessor wires the processor to the engine and
// feature store.
func NewFeatureMaterializationProcessor(engine *streaming.Engine, store *features.Store, logger *zap.Logger) (*FeatureMaterializationProcessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &FeatureMaterializationProcessor{store: store, logger: logger}

	poller, err := newPoller("feature-materialization", streaming.TopicFeaturesMaterialized, engine, p.handle, logger)
	if err != nil {
		return nil, err
	}
	p.poller = poller
	return p, nil
}

// Start runs the poll loop until the context is cancelled.
func (p *FeatureMaterializationProcessor) Start(ctx context.Context) {
	p.poller.Start(ctx)
}

// Tick drains one poll batch; used by tests.
func (p *FeatureMaterializationProcessor) Tick(ctx context.Context, now time.Time) {
	p.poller.Tick(ctx, now)
}

func (p *FeatureMaterializationProcessor) handle(ctx context.Context, msg streaming.Message) error {
	var mat MaterializedFeatures
	if err := json.Unmarshal(msg.Value, &mat); err != nil {
		return fmt.Errorf("malformed materialized features: %w", err)
	}
	if mat.EntityID == "" || mat.Group == "" {
		return fmt.Errorf("materialized features missing entity_id or group")
	}
	if _, ok := features.TTLFor(mat.Group); !ok {
		return fmt.Errorf("unknown feature group: %s", mat.Group)
	}

	payload := make(map[string]interface{}, len(mat.Features)+1)
	for k, v := range mat.Features {
		payload[k] = v
	}
	payload["materialized_at"] = msg.Timestamp.UTC().Format(time.RFC3339Nano)

	return p.store.PutFeatures(ctx, mat.EntityID, mat.Group, payload)
}
