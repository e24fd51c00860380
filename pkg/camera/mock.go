package camera

import (
	"context"
	"sync"
	"time"
)

// FixtureJPEG returns a minimal JPEG byte sequence for tests. The
// bytes carry the SOI marker so transport-level checks accept them;
// the image itself is not decodable.
func FixtureJPEG() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01, 0xFF, 0xD9}
}

// Mock is a Source for tests. It serves canned frames and counts
// capture calls.
type Mock struct {
	mu        sync.Mutex
	frames    [][]byte
	next      int
	err       error
	delay     time.Duration
	available bool
	closed    bool
	captures  int

	// CaptureFunc overrides the canned behavior when set.
	CaptureFunc func(ctx context.Context) (*Frame, error)
}

// NewMock returns a mock that always serves a fixture frame.
func NewMock() *Mock {
	return &Mock{
		frames:    [][]byte{FixtureJPEG()},
		available: true,
	}
}

// WithFrames replaces the served frames. Captures cycle through them.
func (m *Mock) WithFrames(frames ...[]byte) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = frames
	m.next = 0
	return m
}

// WithError makes every capture fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay makes each capture block for d before returning.
func (m *Mock) WithDelay(d time.Duration) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// SetAvailable controls what Available reports.
func (m *Mock) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
}

func (m *Mock) Capture(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	m.captures++
	err := m.err
	delay := m.delay
	override := m.CaptureFunc
	var jpeg []byte
	if len(m.frames) > 0 {
		src := m.frames[m.next%len(m.frames)]
		m.next++
		jpeg = make([]byte, len(src))
		copy(jpeg, src)
	}
	m.mu.Unlock()

	if override != nil {
		return override(ctx)
	}

	// Delay outside the lock so tests can observe overlapping calls.
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	if jpeg == nil {
		return nil, ErrNoFrame
	}
	return &Frame{
		JPEG:      jpeg,
		Timestamp: time.Now(),
		Width:     640,
		Height:    480,
	}, nil
}

func (m *Mock) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available && !m.closed
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// CallCount returns how many captures were attempted.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

var _ Source = (*Mock)(nil)
