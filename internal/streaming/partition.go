package streaming

import (
	"sync"
	"time"
)

// Message is an immutable record appended to a partition.
type Message struct {
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Partition is an ordered append-only sequence of messages. Offsets are
// index-based: after retention drops a prefix of k messages, remaining
// messages are renumbered down by k so committed offsets stay valid after
// the engine rebases them by the same amount.
type Partition struct {
	id       int
	messages []Message
	mu       sync.RWMutex
}

// NewPartition creates a new partition.
func NewPartition(id int) *Partition {
	return &Partition{
		id:       id,
		messages: make([]Message, 0, 256),
	}
}

// ID returns the partition ID.
func (p *Partition) ID() int {
	return p.id
}

// Append appends a message and returns its offset.
func (p *Partition) Append(key string, value []byte, ts time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	offset := int64(len(p.messages))
	p.messages = append(p.messages, Message{
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: ts,
	})
	return offset
}

// Read returns up to maxCount messages starting at offset.
func (p *Partition) Read(offset int64, maxCount int) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(p.messages)) || maxCount <= 0 {
		return []Message{}
	}

	end := offset + int64(maxCount)
	if end > int64(len(p.messages)) {
		end = int64(len(p.messages))
	}

	out := make([]Message, end-offset)
	copy(out, p.messages[offset:end])
	return out
}

// HighWaterMark returns the offset the next message will be assigned.
func (p *Partition) HighWaterMark() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int64(len(p.messages))
}

// Len returns the number of retained messages.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.messages)
}

// DropExpired removes the contiguous prefix of messages older than cutoff
// and renumbers the remainder. Returns the number of dropped messages.
func (p *Partition) DropExpired(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := 0
	for k < len(p.messages) && p.messages[k].Timestamp.Before(cutoff) {
		k++
	}
	if k == 0 {
		return 0
	}

	remaining := make([]Message, len(p.messages)-k, cap(p.messages))
	copy(remaining, p.messages[k:])
	for i := range remaining {
		remaining[i].Offset -= int64(k)
	}
	p.messages = remaining
	return k
}
