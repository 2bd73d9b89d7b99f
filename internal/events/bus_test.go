package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.Subscribe(EventRiskEvent)
	bus.Publish(NewEvent(EventRiskEvent, "test", map[string]interface{}{"seller_id": "S-1"}).WithKey("S-1"))

	select {
	case event := <-ch:
		assert.Equal(t, EventRiskEvent, event.Type)
		assert.Equal(t, "S-1", event.Key)
		assert.NotEmpty(t, event.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeMultiple(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.SubscribeMultiple(EventRiskEvent, EventRiskTierChanged)
	bus.Publish(NewEvent(EventRiskTierChanged, "risk-engine", nil))
	bus.Publish(NewEvent(EventAlertCreated, "risk-engine", nil))
	bus.Publish(NewEvent(EventRiskEvent, "risk-engine", nil))

	var got []EventType
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case event := <-ch:
			got = append(got, event.Type)
		case <-timeout:
			t.Fatal("expected two events")
		}
	}
	assert.Equal(t, []EventType{EventRiskTierChanged, EventRiskEvent}, got)

	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	all := bus.SubscribeAll()
	bus.Publish(NewEvent(EventSystemStartup, "container", nil))
	bus.Publish(NewEvent(DetectionEventType("cross-domain-agent"), "scheduler", nil))

	first := <-all
	second := <-all
	assert.Equal(t, EventSystemStartup, first.Type)
	assert.Equal(t, EventType("cross-domain-agent:detection"), second.Type)
}

func TestFilteredSubscription(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.SubscribeMultipleWithFilter(func(e *Event) bool {
		return e.Key == "S-2"
	}, EventRiskEvent)

	bus.Publish(NewEvent(EventRiskEvent, "test", nil).WithKey("S-1"))
	bus.Publish(NewEvent(EventRiskEvent, "test", nil).WithKey("S-2"))

	event := <-ch
	assert.Equal(t, "S-2", event.Key)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(&BusConfig{
		BufferSize:      1,
		PublishTimeout:  5 * time.Millisecond,
		CleanupInterval: time.Minute,
	})
	defer bus.Close()

	bus.Subscribe(EventRiskEvent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			bus.Publish(NewEvent(EventRiskEvent, "test", nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	metrics := bus.Metrics()
	assert.Equal(t, int64(5), metrics.EventsPublished)
	assert.Positive(t, metrics.EventsDropped)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.Subscribe(EventAgentAction)
	bus.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount(EventAgentAction))
}

func TestWait(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Publish(NewEvent(EventFeatureMaterialized, "materializer", nil))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, err := bus.Wait(ctx, EventFeatureMaterialized)
	require.NoError(t, err)
	assert.Equal(t, EventFeatureMaterialized, event.Type)
}

func TestWaitContextCancelled(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := bus.Wait(ctx, EventAlertCreated)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe(EventRiskEvent)
	require.NoError(t, bus.Close())

	bus.Publish(NewEvent(EventRiskEvent, "test", nil))
	_, ok := <-ch
	assert.False(t, ok)
}
