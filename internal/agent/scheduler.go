package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/knowledge"
	"dev.helix.sentinel/internal/observability"
)

// detectionRingCapacity caps the retained detections per agent.
const detectionRingCapacity = 200

// SchedulerConfig tunes one agent's autonomous loop.
type SchedulerConfig struct {
	ScanInterval time.Duration
	// AccelerationThreshold schedules an immediate cycle when the event
	// buffer crosses it.
	AccelerationThreshold int
	SubscribedEvents      []events.EventType
	// DomainFilter, when set, drops buffered events whose payload names a
	// different domain.
	DomainFilter []string
}

// DefaultSchedulerConfig returns the standing cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:          30 * time.Second,
		AccelerationThreshold: 10,
	}
}

// Scheduler drives an agent autonomously: a fixed-interval timer plus an
// event-pressure trigger, with cycles coalesced so at most one runs at a
// time.
type Scheduler struct {
	agent     *BaseAgent
	config    SchedulerConfig
	bus       *events.Bus
	knowledge *knowledge.Base
	logger    *zap.Logger
	metrics   *observability.Collector

	mu           sync.Mutex
	buffer       []*events.Event
	sinceCycle   int
	detections   []Detection
	trigger      chan struct{}
	cycleRunning bool
}

// NewScheduler wires a scheduler around an agent. Knowledge is optional.
func NewScheduler(agent *BaseAgent, config SchedulerConfig, bus *events.Bus, kb *knowledge.Base, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultSchedulerConfig().ScanInterval
	}
	if config.AccelerationThreshold <= 0 {
		config.AccelerationThreshold = DefaultSchedulerConfig().AccelerationThreshold
	}
	return &Scheduler{
		agent:     agent,
		config:    config,
		bus:       bus,
		knowledge: kb,
		logger:    logger.With(zap.String("agent", agent.Name())),
		trigger:   make(chan struct{}, 1),
	}
}

// SetCadence retunes the timer and pressure threshold. Call before Start.
func (s *Scheduler) SetCadence(scanInterval time.Duration, accelerationThreshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scanInterval > 0 {
		s.config.ScanInterval = scanInterval
	}
	if accelerationThreshold > 0 {
		s.config.AccelerationThreshold = accelerationThreshold
	}
}

// SetMetrics attaches a collector; cycles and detections feed it.
func (s *Scheduler) SetMetrics(c *observability.Collector) {
	s.metrics = c
}

// Start subscribes to the configured events and runs the scan loop until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.bus != nil && len(s.config.SubscribedEvents) > 0 {
		ch := s.bus.SubscribeMultiple(s.config.SubscribedEvents...)
		go s.ingestLoop(ctx, ch)
	}
	go s.scanLoop(ctx)
	s.logger.Info("Autonomous scheduler started",
		zap.Duration("scan_interval", s.config.ScanInterval),
		zap.Int("acceleration_threshold", s.config.AccelerationThreshold))
}

func (s *Scheduler) ingestLoop(ctx context.Context, ch <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.enqueue(event)
		}
	}
}

// enqueue buffers an event, dropping the oldest past 10x the acceleration
// threshold, and fires the coalesced trigger when pressure crosses it.
func (s *Scheduler) enqueue(event *events.Event) {
	if !s.domainAccepts(event) {
		return
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	limit := 10 * s.config.AccelerationThreshold
	if len(s.buffer) > limit {
		s.buffer = s.buffer[len(s.buffer)-limit:]
	}
	s.sinceCycle++
	accelerate := s.sinceCycle >= s.config.AccelerationThreshold
	s.mu.Unlock()

	if accelerate {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) domainAccepts(event *events.Event) bool {
	if len(s.config.DomainFilter) == 0 {
		return true
	}
	domain := payloadDomain(event)
	if domain == "" {
		return true
	}
	for _, d := range s.config.DomainFilter {
		if d == domain {
			return true
		}
	}
	return false
}

func (s *Scheduler) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Autonomous scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.trigger:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one scan cycle. Cycles are coalesced: a call while one
// is already running returns immediately. Panics and errors are logged; the
// agent stays runnable.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.mu.Lock()
	if s.cycleRunning {
		s.mu.Unlock()
		return
	}
	s.cycleRunning = true
	batch := s.buffer
	s.buffer = nil
	s.sinceCycle = 0
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AgentCycles.WithLabelValues(s.agent.Name()).Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scan cycle panicked", zap.Any("panic", r))
		}
		s.mu.Lock()
		s.cycleRunning = false
		s.mu.Unlock()
	}()

	input := BuildScanInput(batch)
	report, err := s.agent.Reason(ctx, input)
	if err != nil {
		s.logger.Error("Scan cycle failed", zap.Error(err))
		return
	}
	s.postCycle(ctx, report)
}

// BuildScanInput groups a buffered batch by seller and summarises domains
// and volume for the reasoning cycle.
func BuildScanInput(batch []*events.Event) map[string]interface{} {
	bySeller := map[string][]map[string]interface{}{}
	domainSet := map[string]bool{}
	for _, event := range batch {
		sellerID := event.Key
		payload := payloadMap(event)
		if payload != nil {
			if s, ok := payload["seller_id"].(string); ok && s != "" {
				sellerID = s
			}
			if d, ok := payload["domain"].(string); ok && d != "" {
				domainSet[d] = true
			}
		}
		if sellerID == "" {
			sellerID = "unknown"
		}
		bySeller[sellerID] = append(bySeller[sellerID], payload)
	}

	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}

	input := map[string]interface{}{
		"event_count": len(batch),
		"sellers":     bySeller,
		"domains":     domains,
	}
	if len(bySeller) == 1 {
		for sellerID := range bySeller {
			input["seller_id"] = sellerID
		}
	}
	return input
}

// postCycle fans the report out: detections are retained (ring-capped),
// broadcast to peers, published on the bus and written to the knowledge
// base.
func (s *Scheduler) postCycle(ctx context.Context, report *Report) {
	if len(report.Detections) == 0 {
		return
	}

	s.mu.Lock()
	s.detections = append(s.detections, report.Detections...)
	if len(s.detections) > detectionRingCapacity {
		s.detections = s.detections[len(s.detections)-detectionRingCapacity:]
	}
	s.mu.Unlock()

	for _, detection := range report.Detections {
		if s.metrics != nil {
			s.metrics.AgentDetections.WithLabelValues(s.agent.Name(), detection.Type).Inc()
		}
		if messenger := s.agent.Messenger(); messenger != nil {
			messenger.Broadcast(s.agent.Name(), "detection:"+detection.Type, map[string]interface{}{
				"detection_id": detection.ID,
				"seller_id":    detection.SellerID,
				"severity":     detection.Severity,
				"score":        detection.Score,
			})
		}
		if s.bus != nil {
			s.bus.Publish(events.NewEvent(
				events.DetectionEventType(s.agent.Name()),
				s.agent.Name(),
				detection,
			).WithKey(detection.SellerID))
		}
		if s.knowledge != nil {
			_, err := s.knowledge.AddKnowledge(ctx, knowledge.NamespaceDecisions, []knowledge.Record{{
				Text:      fmt.Sprintf("%s detected %s for seller %s: %s", s.agent.Name(), detection.Type, detection.SellerID, detection.Summary),
				Category:  detection.Type,
				SellerID:  detection.SellerID,
				Outcome:   string(report.Recommendation),
				RiskScore: detection.Score,
			}})
			if err != nil {
				s.logger.Warn("Knowledge insert failed", zap.Error(err))
			}
		}
	}

	s.logger.Info("Scan cycle produced detections",
		zap.Int("detections", len(report.Detections)),
		zap.String("recommendation", string(report.Recommendation)))
}

// Detections returns a snapshot of retained detections, oldest first.
func (s *Scheduler) Detections() []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Detection, len(s.detections))
	copy(out, s.detections)
	return out
}

// BufferedEvents returns the current buffer size, for introspection.
func (s *Scheduler) BufferedEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func payloadMap(event *events.Event) map[string]interface{} {
	switch p := event.Payload.(type) {
	case map[string]interface{}:
		return p
	case json.RawMessage:
		var decoded map[string]interface{}
		if err := json.Unmarshal(p, &decoded); err == nil {
			return decoded
		}
	case []byte:
		var decoded map[string]interface{}
		if err := json.Unmarshal(p, &decoded); err == nil {
			return decoded
		}
	}
	return nil
}

func payloadDomain(event *events.Event) string {
	if payload := payloadMap(event); payload != nil {
		if d, ok := payload["domain"].(string); ok {
			return d
		}
	}
	return ""
}
