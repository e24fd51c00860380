// Package ingest streams captured frames to an upstream collector
// over a websocket. Delivery is best effort: the queue drops the
// oldest frame under pressure and the worker redials forever, so a
// dead collector never slows capture down.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerostar/corpus-vision/internal/log"
)

const (
	// queueSize bounds buffered frames awaiting delivery.
	queueSize = 100

	reconnectDelay = 2 * time.Second
	dialTimeout    = 5 * time.Second
	writeTimeout   = 10 * time.Second
)

// hello announces the stream format to the collector.
type hello struct {
	Type   string `json:"type"`
	Width  int    `json:"w"`
	Height int    `json:"h"`
	Format string `json:"fmt"`
}

// Publisher pushes JPEG frames to one collector endpoint.
type Publisher struct {
	url    string
	logger *slog.Logger
	queue  chan []byte
	retry  time.Duration

	mu      sync.Mutex
	width   int
	height  int
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPublisher creates a publisher for the collector at url. An empty
// url disables publishing entirely.
func NewPublisher(url string) *Publisher {
	return &Publisher{
		url:    url,
		logger: log.Component("ingest"),
		queue:  make(chan []byte, queueSize),
		retry:  reconnectDelay,
	}
}

// SetDims records the frame dimensions announced in the hello.
func (p *Publisher) SetDims(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = w
	p.height = h
}

// Start launches the delivery worker. Reports false when no collector
// is configured, true when the worker is running (including when it
// already was).
func (p *Publisher) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.url == "" {
		p.logger.Info("ingest disabled, no collector url")
		return false
	}
	if p.running {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	p.logger.Info("ingest publisher started", "url", p.url)
	return true
}

// Stop halts delivery and waits for the worker. Safe to call when
// idle.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("ingest publisher stopped")
}

// Running reports whether the worker is active.
func (p *Publisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Enqueue queues a frame without blocking. When the queue is full the
// oldest frame is dropped; a live stream has no use for backlog.
func (p *Publisher) Enqueue(jpeg []byte) {
	if p.url == "" {
		return
	}
	select {
	case p.queue <- jpeg:
		return
	default:
	}

	select {
	case <-p.queue:
	default:
	}
	select {
	case p.queue <- jpeg:
	default:
	}
}

// run redials the collector until ctx is cancelled.
func (p *Publisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := p.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("ingest connection lost, retrying", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retry):
		}
	}
}

// session dials, announces the stream, and forwards frames until the
// connection breaks or ctx is cancelled.
func (p *Publisher) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	p.mu.Lock()
	h := hello{Type: "hello", Width: p.width, Height: p.height, Format: "jpeg"}
	p.mu.Unlock()

	payload, err := json.Marshal(h)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	p.logger.Debug("ingest session open", "w", h.Width, "h", h.Height)

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case frame := <-p.queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		}
	}
}
