package notify

import (
	"context"
	"sync"
)

// MockSender records messages instead of delivering them.
type MockSender struct {
	PlatformName string
	Err          error

	mu   sync.Mutex
	sent []Message
}

// Name returns PlatformName, or "mock".
func (m *MockSender) Name() string {
	if m.PlatformName == "" {
		return "mock"
	}
	return m.PlatformName
}

// Send records msg and returns Err.
func (m *MockSender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.Err
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
