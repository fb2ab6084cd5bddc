package transport

import (
	"context"
	"net/netip"
	"sync"

	"janim-toolbox/internal/wire"
)

// Sent is one message recorded by Memory.
type Sent struct {
	To      netip.AddrPort
	Message *wire.Message
}

// Memory is an in-process Sender that records every message instead of
// writing it to the network.
type Memory struct {
	mu   sync.Mutex
	sent []Sent

	// Err, when set, is returned from Send after the message is recorded.
	Err error
	// OnSend runs after each recorded send, outside the lock.
	OnSend func(Sent)
}

// NewMemory creates an empty recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Send records msg.
func (m *Memory) Send(ctx context.Context, dst netip.AddrPort, msg *wire.Message) error {
	s := Sent{To: dst, Message: msg}
	m.mu.Lock()
	m.sent = append(m.sent, s)
	hook := m.OnSend
	err := m.Err
	m.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return err
}

// Sent returns a copy of all recorded messages in send order.
func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// Types returns the recorded message types in send order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.Message.Type)
	}
	return out
}

// Reset drops all recorded messages.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}
