package motion

import "sync"

// Mock is a Checker for tests. By default every frame triggers.
type Mock struct {
	mu      sync.Mutex
	results []Result
	next    int
	err     error
	calls   int

	// ProcessFunc overrides the canned behavior when set.
	ProcessFunc func(jpeg []byte) (Result, error)
}

// NewMock returns a mock that reports full change for every frame.
func NewMock() *Mock {
	return &Mock{
		results: []Result{{Triggered: true, ChangePercent: 100.0}},
	}
}

// WithResults replaces the canned results. Calls cycle through them.
func (m *Mock) WithResults(results ...Result) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	m.next = 0
	return m
}

// WithError makes every call fail open with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *Mock) Process(jpeg []byte) (Result, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	override := m.ProcessFunc
	var result Result
	if len(m.results) > 0 {
		result = m.results[m.next%len(m.results)]
		m.next++
	}
	m.mu.Unlock()

	if override != nil {
		return override(jpeg)
	}
	if err != nil {
		return failOpen(), err
	}
	return result, nil
}

func (m *Mock) Close() error { return nil }

// CallCount returns how many frames were processed.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Checker = (*Mock)(nil)
