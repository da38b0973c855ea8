// Package memory keeps run summaries in process for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded publish. Data is the JSON body a real
// topic would have received.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher records summaries instead of sending them.
type Publisher struct {
	mu   sync.Mutex
	seq  int
	sent []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode run summary: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := PublishedMessage{
		ID:      fmt.Sprintf("memory-%d", p.seq),
		Topic:   topic,
		Payload: payload,
		Data:    data,
	}
	p.sent = append(p.sent, msg)
	return msg.ID, nil
}

// Messages returns a snapshot of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.sent...)
}
