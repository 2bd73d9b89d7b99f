package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/errs"
)

func TestMessengerSendDirect(t *testing.T) {
	messenger := NewMessenger(nil)
	inbox := messenger.Register("bob")

	err := messenger.Send(&Message{Type: MessageDirect, From: "alice", To: "bob", Subject: "hi"})
	require.NoError(t, err)

	msg := <-inbox
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "hi", msg.Subject)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestMessengerSendUnknownRecipient(t *testing.T) {
	messenger := NewMessenger(nil)
	err := messenger.Send(&Message{To: "ghost"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestMessengerBroadcastSkipsSender(t *testing.T) {
	messenger := NewMessenger(nil)
	alice := messenger.Register("alice")
	bob := messenger.Register("bob")
	carol := messenger.Register("carol")

	messenger.Broadcast("alice", "alert", map[string]interface{}{"k": "v"})

	assert.Equal(t, MessageBroadcast, (<-bob).Type)
	assert.Equal(t, MessageBroadcast, (<-carol).Type)
	select {
	case <-alice:
		t.Fatal("sender received its own broadcast")
	default:
	}
}

func TestMessengerFullInboxDrops(t *testing.T) {
	messenger := NewMessenger(nil)
	messenger.Register("slow")

	for i := 0; i < inboxCapacity+5; i++ {
		require.NoError(t, messenger.Send(&Message{To: "slow", Subject: "x"}))
	}

	inbox := messenger.Register("slow")
	assert.Len(t, inbox, inboxCapacity)
}

func TestRequestHelpTimesOut(t *testing.T) {
	messenger := NewMessenger(nil)

	_, err := messenger.RequestHelp(context.Background(), "alice", "graph-analysis", nil, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errs.CodeTimeout, errs.CodeOf(err))

	// The expired request is still queued for the router to fail explicitly.
	assert.Len(t, messenger.DrainHelpRequests(), 1)
}

func TestRequestHelpRoundTrip(t *testing.T) {
	messenger := NewMessenger(nil)

	go func() {
		var pending []*HelpRequest
		for len(pending) == 0 {
			pending = messenger.DrainHelpRequests()
			time.Sleep(time.Millisecond)
		}
		messenger.RespondHelp(pending[0].CorrelationID, "bob", map[string]interface{}{"answer": 42}, true)
	}()

	response, err := messenger.RequestHelp(context.Background(), "alice", "graph-analysis", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageHelpResponse, response.Type)
	assert.Equal(t, "bob", response.From)
	assert.True(t, response.Success)
	assert.Equal(t, 42, response.Payload["answer"])
}

func TestRequestHelpCancelledContext(t *testing.T) {
	messenger := NewMessenger(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := messenger.RequestHelp(ctx, "alice", "anything", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, errs.CodeTimeout, errs.CodeOf(err))
}

func TestRequeueAndFailHelp(t *testing.T) {
	messenger := NewMessenger(nil)

	done := make(chan error, 1)
	go func() {
		_, err := messenger.RequestHelp(context.Background(), "alice", "rare-skill", nil, time.Second)
		done <- err
	}()

	var pending []*HelpRequest
	require.Eventually(t, func() bool {
		pending = messenger.DrainHelpRequests()
		return len(pending) == 1
	}, time.Second, time.Millisecond)

	messenger.RequeueHelp(pending[0])
	requeued := messenger.DrainHelpRequests()
	require.Len(t, requeued, 1)

	messenger.FailHelp(requeued[0].CorrelationID, "no capable agent")
	err := <-done
	require.NoError(t, err)
}
