package speech

import (
	"context"
	"sync"
)

// Mock is a Notifier for tests. It records spoken texts.
type Mock struct {
	mu     sync.Mutex
	err    error
	spoken []string
}

// NewMock returns a mock that accepts every announcement.
func NewMock() *Mock {
	return &Mock{}
}

// WithError makes every Speak call fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *Mock) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return m.err
}

func (m *Mock) Close() error { return nil }

// Spoken returns all recorded texts.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// CallCount returns how many Speak calls were made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spoken)
}

var _ Notifier = (*Mock)(nil)
