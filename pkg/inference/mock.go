package inference

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// DescribeFunc is called when Describe is invoked.
	DescribeFunc func(ctx context.Context, req *Request) (*Result, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		DescribeFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return &Result{
				Description: "I see a mock image",
				Provider:    "mock",
				Usage:       Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// FixedMock creates a mock that always returns the given description.
func FixedMock(description string) *Mock {
	return &Mock{
		DescribeFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return &Result{Description: description, Provider: "mock"}, nil
		},
	}
}

// WithError returns a mock whose every method returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		DescribeFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Name identifies the mock.
func (m *Mock) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// Describe calls DescribeFunc and records the call.
func (m *Mock) Describe(ctx context.Context, req *Request) (*Result, error) {
	m.record("Describe")
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, req)
	}
	return nil, WrapError(m.Name(), ErrProviderUnavailable)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record adds a call to the tracking list.
func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Time:   time.Now(),
	})
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
