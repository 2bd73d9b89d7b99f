package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
)

// MessageType classifies inter-agent messages.
type MessageType string

const (
	MessageDirect       MessageType = "DIRECT"
	MessageBroadcast    MessageType = "BROADCAST"
	MessageHelpRequest  MessageType = "HELP_REQUEST"
	MessageHelpResponse MessageType = "HELP_RESPONSE"
	MessageDelegation   MessageType = "DELEGATION"
	MessageVoteRequest  MessageType = "VOTE_REQUEST"
	MessageVote         MessageType = "VOTE"
)

// DefaultHelpTimeout bounds a help request when the caller gives none.
const DefaultHelpTimeout = 30 * time.Second

// inboxCapacity bounds each agent's mailbox; overflow drops the message.
const inboxCapacity = 64

// Message is one inter-agent communication.
type Message struct {
	ID            string                 `json:"id"`
	Type          MessageType            `json:"type"`
	From          string                 `json:"from"`
	To            string                 `json:"to,omitempty"`
	Subject       string                 `json:"subject"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Capability    string                 `json:"capability,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Success       bool                   `json:"success"`
	Timestamp     time.Time              `json:"timestamp"`
}

// HelpRequest is a pending request awaiting routing by the orchestrator.
type HelpRequest struct {
	CorrelationID string
	From          string
	Capability    string
	Payload       map[string]interface{}
	RequestedAt   time.Time
}

// Messenger is the in-process message bus between agents. Help-request
// routing is pull-based: requests queue here until the orchestrator drains
// and delivers them.
type Messenger struct {
	inboxes     map[string]chan *Message
	pendingHelp []*HelpRequest
	waiters     map[string]chan *Message
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewMessenger creates an empty messenger.
func NewMessenger(logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		inboxes: make(map[string]chan *Message),
		waiters: make(map[string]chan *Message),
		logger:  logger,
	}
}

// Register creates (or returns) an agent's inbox.
func (m *Messenger) Register(agentID string) <-chan *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inbox, ok := m.inboxes[agentID]; ok {
		return inbox
	}
	inbox := make(chan *Message, inboxCapacity)
	m.inboxes[agentID] = inbox
	return inbox
}

func (m *Messenger) stamp(msg *Message) *Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// deliver enqueues without blocking; a full inbox drops the message.
func (m *Messenger) deliver(agentID string, msg *Message) {
	inbox, ok := m.inboxes[agentID]
	if !ok {
		return
	}
	select {
	case inbox <- msg:
	default:
		m.logger.Warn("Dropping message for full inbox",
			zap.String("agent", agentID),
			zap.String("type", string(msg.Type)))
	}
}

// Send delivers a direct message to one agent.
func (m *Messenger) Send(msg *Message) error {
	m.stamp(msg)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inboxes[msg.To]; !ok {
		return errs.NotFound("agent inbox", msg.To)
	}
	m.deliver(msg.To, msg)
	return nil
}

// Broadcast delivers a message to every registered agent except the sender.
func (m *Messenger) Broadcast(from, subject string, payload map[string]interface{}) {
	msg := m.stamp(&Message{
		Type:    MessageBroadcast,
		From:    from,
		Subject: subject,
		Payload: payload,
		Success: true,
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	for agentID := range m.inboxes {
		if agentID == from {
			continue
		}
		m.deliver(agentID, msg)
	}
}

// Delegate hands a task to another agent as a fire-and-forget message.
func (m *Messenger) Delegate(from, to, task string, payload map[string]interface{}) error {
	return m.Send(&Message{
		Type:    MessageDelegation,
		From:    from,
		To:      to,
		Subject: task,
		Payload: payload,
		Success: true,
	})
}

// RequestHelp queues a capability request for orchestrator routing and
// blocks until a response arrives or the timeout elapses. A zero timeout
// uses the default of 30 s.
func (m *Messenger) RequestHelp(ctx context.Context, from, capability string, payload map[string]interface{}, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = DefaultHelpTimeout
	}
	correlationID := uuid.NewString()
	waiter := make(chan *Message, 1)

	m.mu.Lock()
	m.waiters[correlationID] = waiter
	m.pendingHelp = append(m.pendingHelp, &HelpRequest{
		CorrelationID: correlationID,
		From:          from,
		Capability:    capability,
		Payload:       payload,
		RequestedAt:   time.Now().UTC(),
	})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, correlationID)
		m.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.CodeTimeout, "help request cancelled", ctx.Err())
	case <-timer.C:
		return nil, errs.Timeout("help request for capability " + capability)
	case response := <-waiter:
		return response, nil
	}
}

// RespondHelp completes a pending help request by correlation id.
func (m *Messenger) RespondHelp(correlationID, from string, payload map[string]interface{}, success bool) {
	response := m.stamp(&Message{
		Type:          MessageHelpResponse,
		From:          from,
		CorrelationID: correlationID,
		Payload:       payload,
		Success:       success,
	})
	m.mu.Lock()
	waiter, ok := m.waiters[correlationID]
	m.mu.Unlock()
	if ok {
		select {
		case waiter <- response:
		default:
		}
	}
}

// DrainHelpRequests removes and returns all queued help requests; the
// orchestrator calls this on its routing tick.
func (m *Messenger) DrainHelpRequests() []*HelpRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pendingHelp
	m.pendingHelp = nil
	return pending
}

// RequeueHelp puts an unroutable request back for a later tick.
func (m *Messenger) RequeueHelp(request *HelpRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingHelp = append(m.pendingHelp, request)
}

// FailHelp completes a request with a failed response, used on routing
// timeout.
func (m *Messenger) FailHelp(correlationID, reason string) {
	m.RespondHelp(correlationID, "orchestrator", map[string]interface{}{"error": reason}, false)
}
