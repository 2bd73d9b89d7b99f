// Package container wires the platform together: storage, bus, streaming
// engine, feature store, processors, graph, risk engine, knowledge base,
// agents, orchestrator and the HTTP surface.
package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/agents"
	"dev.helix.sentinel/internal/config"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/graph"
	"dev.helix.sentinel/internal/handlers"
	"dev.helix.sentinel/internal/knowledge"
	"dev.helix.sentinel/internal/notifications"
	"dev.helix.sentinel/internal/observability"
	"dev.helix.sentinel/internal/orchestrator"
	"dev.helix.sentinel/internal/processors"
	"dev.helix.sentinel/internal/risk"
	"dev.helix.sentinel/internal/storage"
	"dev.helix.sentinel/internal/streaming"
)

// Container holds every wired component.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   storage.Store
	Bus     *events.Bus
	Engine  *streaming.Engine
	Feats   *features.Store
	Graph   *graph.Graph
	Risk    *risk.Engine
	KB      *knowledge.Base
	Metrics *observability.Collector

	Velocity     *processors.TransactionVelocityProcessor
	RiskSignals  *processors.RiskSignalProcessor
	Materializer *processors.FeatureMaterializationProcessor

	Messenger       *agent.Messenger
	CrossDomain     *agents.CrossDomainAgent
	PolicyEvolution *agents.PolicyEvolutionAgent
	Orchestrator    *orchestrator.Orchestrator

	Hub    *notifications.Hub
	Server *handlers.Server
}

// New builds the full dependency graph from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(nil)
	metrics := observability.NewCollector()

	engineConfig := streaming.DefaultConfig()
	engineConfig.DefaultRetention = cfg.MessageRetention
	engineConfig.RetentionInterval = cfg.RetentionInterval
	engine := streaming.NewEngine(engineConfig, bus, logger)
	engine.SetMetrics(metrics)

	feats := features.NewStore(store, logger)
	feats.SetMetrics(metrics)
	g := graph.NewGraph(logger)
	riskEngine := risk.NewEngine(store, bus, logger)
	riskEngine.SetMetrics(metrics)
	kb := knowledge.NewBase(store, logger)

	velocity, err := processors.NewTransactionVelocityProcessor(engine, feats, logger)
	if err != nil {
		return nil, fmt.Errorf("wire velocity processor: %w", err)
	}
	riskSignals, err := processors.NewRiskSignalProcessor(engine, feats, logger)
	if err != nil {
		return nil, fmt.Errorf("wire risk signal processor: %w", err)
	}
	materializer, err := processors.NewFeatureMaterializationProcessor(engine, feats, logger)
	if err != nil {
		return nil, fmt.Errorf("wire materialization processor: %w", err)
	}

	messenger := agent.NewMessenger(logger)
	crossDomain := agents.NewCrossDomainAgent(riskEngine, g, feats, kb, messenger, bus, nil, nil, logger)
	crossDomain.Scheduler.SetCadence(cfg.AgentScanInterval, cfg.AccelerationThreshold)
	crossDomain.Scheduler.SetMetrics(metrics)
	policyEvolution := agents.NewPolicyEvolutionAgent(kb, messenger, bus, nil, nil, logger)
	policyEvolution.Scheduler.SetMetrics(metrics)

	orch := orchestrator.New(messenger, logger)
	orch.Register(crossDomain)
	orch.Register(policyEvolution)

	hub := notifications.NewHub(bus, logger)

	riskHandler := handlers.NewRiskHandler(riskEngine, logger)
	streamingHandler := handlers.NewStreamingHandler(engine, feats, logger)
	agentHandler := handlers.NewAgentHandler(crossDomain, policyEvolution, orch, defaultWorkflows(), logger)
	server := handlers.NewServer(riskHandler, streamingHandler, agentHandler, hub, metrics, logger)

	return &Container{
		Config:          cfg,
		Logger:          logger,
		Store:           store,
		Bus:             bus,
		Engine:          engine,
		Feats:           feats,
		Graph:           g,
		Risk:            riskEngine,
		KB:              kb,
		Metrics:         metrics,
		Velocity:        velocity,
		RiskSignals:     riskSignals,
		Materializer:    materializer,
		Messenger:       messenger,
		CrossDomain:     crossDomain,
		PolicyEvolution: policyEvolution,
		Orchestrator:    orch,
		Hub:             hub,
		Server:          server,
	}, nil
}

// Start launches every background loop.
func (c *Container) Start(ctx context.Context) error {
	if err := c.KB.Load(ctx); err != nil {
		c.Logger.Warn("Knowledge base rehydration failed", zap.Error(err))
	}

	c.Engine.Start(ctx)
	c.Risk.Start(ctx)
	c.Velocity.Start(ctx)
	c.RiskSignals.Start(ctx)
	c.Materializer.Start(ctx)
	c.CrossDomain.Start(ctx)
	c.PolicyEvolution.Start(ctx)
	c.Orchestrator.StartHelpRouter(ctx)
	c.Hub.Start(ctx)

	c.Bus.Publish(events.NewEvent(events.EventSystemStartup, "container", nil))
	c.Logger.Info("Platform started")
	return nil
}

// Close releases resources after the context driving Start is cancelled.
func (c *Container) Close() error {
	c.Bus.Publish(events.NewEvent(events.EventSystemShutdown, "container", nil))
	if err := c.Bus.Close(); err != nil {
		c.Logger.Warn("Bus close failed", zap.Error(err))
	}
	return c.Store.Close()
}

func buildStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, logger)
	case config.BackendSQLite:
		return storage.NewSQLiteStore(cfg.SQLitePath, logger)
	case config.BackendMemory, "":
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
}

// defaultWorkflows registers the standing investigation workflow: correlate
// first, then mine policy impact, continuing past miner errors.
func defaultWorkflows() map[string]orchestrator.Workflow {
	return map[string]orchestrator.Workflow{
		"seller-investigation": {
			Name: "seller-investigation",
			Steps: []orchestrator.Step{
				{Name: "correlate", Agent: agents.CrossDomainAgentName},
				{Name: "policy-impact", Agent: agents.PolicyEvolutionAgentName, ContinueOnError: true},
			},
		},
	}
}
