package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/config"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/streaming"
)

func memoryConfig() *config.Config {
	cfg := config.Load()
	cfg.StorageBackend = config.BackendMemory
	return cfg
}

func TestNewWiresMemoryBackend(t *testing.T) {
	app, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Risk)
	assert.NotNil(t, app.CrossDomain)
	assert.NotNil(t, app.Server)

	// Both agents registered with the orchestrator.
	assert.Len(t, app.Orchestrator.Agents(), 2)

	// The streaming engine carries the configured retention.
	for _, info := range app.Engine.Topics() {
		assert.Equal(t, app.Config.MessageRetention.Milliseconds(), info.RetentionMs)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.StorageBackend = config.StorageBackend("tape")
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestStartAndServeEndToEnd(t *testing.T) {
	app, err := New(memoryConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Start(ctx))
	defer func() {
		cancel()
		_ = app.Close()
	}()

	router := app.Server.Router()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Producing through the engine bridges onto the bus.
	ch := app.Bus.Subscribe(events.EventRiskEvent)
	_, err = app.Engine.Produce(streaming.TopicRiskEvents, "S-1", []byte(`{"seller_id":"S-1"}`))
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, streaming.TopicRiskEvents, event.Topic)
		assert.Equal(t, "S-1", event.Key)
	case <-time.After(time.Second):
		t.Fatal("produced message never reached the bus")
	}
}
