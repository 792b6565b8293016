package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one event captured by the in-memory publisher.
type Message struct {
	Topic string
	Data  []byte
}

// MemoryPublisher records events in memory for tests and local runs.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemory constructs an empty in-memory publisher.
func NewMemory() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish stores the JSON-encoded payload and returns a synthetic ID.
func (m *MemoryPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Data: data})
	return fmt.Sprintf("mem-%d", len(m.messages)), nil
}

// Messages returns a copy of everything published so far.
func (m *MemoryPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
