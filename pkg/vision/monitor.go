package vision

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerostar/corpus-vision/internal/log"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/motion"
)

// MonitorConfig holds the motion-gated monitor settings.
type MonitorConfig struct {
	// FrameInterval is the capture cadence.
	FrameInterval time.Duration

	// WindowMax is the hard cap on one aggregation window.
	WindowMax time.Duration

	// Quiet is how long triggers must stay silent before an open
	// window closes.
	Quiet time.Duration

	// Cooldown delays opening the next window after one closes.
	// Triggers during cooldown are counted but start no window.
	// Zero disables the cooldown.
	Cooldown time.Duration

	// NoveltyWindow is the horizon for repeat suppression.
	NoveltyWindow time.Duration

	// NoveltyThreshold is the similarity at or above which a summary
	// inside the novelty window is not announced again.
	NoveltyThreshold float64
}

// DefaultMonitorConfig returns the standard monitor settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		FrameInterval:    200 * time.Millisecond,
		WindowMax:        5 * time.Second,
		Quiet:            250 * time.Millisecond,
		Cooldown:         2 * time.Second,
		NoveltyWindow:    60 * time.Second,
		NoveltyThreshold: 0.90,
	}
}

// MonitorStats is a snapshot of monitor activity since the last
// start. StartTime is unix seconds, zero when never started.
type MonitorStats struct {
	Running         bool  `json:"running"`
	FramesProcessed int64 `json:"frames_processed"`
	Triggers        int64 `json:"triggers"`
	APISaves        int64 `json:"api_saves"`
	EventsLogged    int64 `json:"events_logged"`
	StartTime       int64 `json:"start_time"`
}

// Monitor watches the camera continuously and describes only when
// the scene changes. Triggered frames aggregate into a window; when
// triggers go quiet or the window hits its cap, the last frame is
// analyzed and the result is persisted, broadcast, and announced.
// Unchanged scenes cost no API calls.
type Monitor struct {
	system  *System
	checker motion.Checker
	store   *events.Store
	cfg     MonitorConfig
	logger  *slog.Logger

	// OnFrame receives every captured JPEG, for the ingest
	// publisher. Must not block.
	OnFrame func(jpeg []byte)

	// OnEvent receives each closed window's event, for the
	// websocket hub. Must not block.
	OnEvent func(ev events.Event)

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastSummary   string
	lastSummaryAt time.Time

	frames  atomic.Int64
	trigs   atomic.Int64
	saves   atomic.Int64
	logged  atomic.Int64
	startAt atomic.Int64
}

// NewMonitor creates a monitor around an existing System. The store
// may be nil to skip persistence.
func NewMonitor(system *System, checker motion.Checker, store *events.Store, cfg MonitorConfig) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.WindowMax <= 0 {
		cfg.WindowMax = def.WindowMax
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = def.Quiet
	}
	if cfg.NoveltyWindow <= 0 {
		cfg.NoveltyWindow = def.NoveltyWindow
	}
	if cfg.NoveltyThreshold <= 0 {
		cfg.NoveltyThreshold = def.NoveltyThreshold
	}
	return &Monitor{
		system:  system,
		checker: checker,
		store:   store,
		cfg:     cfg,
		logger:  log.Component("monitor"),
	}
}

// Start begins monitoring. Stats reset on each start.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrMonitorRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.running = true
	m.cancel = cancel
	m.done = done
	m.frames.Store(0)
	m.trigs.Store(0)
	m.saves.Store(0)
	m.logged.Store(0)
	m.startAt.Store(time.Now().Unix())

	go m.run(ctx, done)
	return nil
}

// Stop halts monitoring and waits for the worker to exit. An open
// aggregation window is dropped, not analyzed.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrMonitorNotRunning
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns a snapshot of activity counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return MonitorStats{
		Running:         running,
		FramesProcessed: m.frames.Load(),
		Triggers:        m.trigs.Load(),
		APISaves:        m.saves.Load(),
		EventsLogged:    m.logged.Load(),
		StartTime:       m.startAt.Load(),
	}
}

// monitorState is the worker's per-run aggregation state. Owned by
// the worker goroutine, never shared.
type monitorState struct {
	winActive     bool
	winStart      time.Time
	lastTrigger   time.Time
	winFrames     int
	winLast       []byte
	winConfidence float64
	cooldownUntil time.Time
	captureFails  int64
}

// run is the monitor worker. The first frame is processed right away;
// later frames follow the ticker.
func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Info("monitor started",
		"frame_interval", m.cfg.FrameInterval,
		"window_max", m.cfg.WindowMax,
		"quiet", m.cfg.Quiet)

	ticker := time.NewTicker(m.cfg.FrameInterval)
	defer ticker.Stop()

	var st monitorState
	for {
		if ctx.Err() == nil {
			m.step(ctx, &st)
		}

		select {
		case <-ctx.Done():
			if st.winActive {
				m.logger.Debug("dropping open window on stop", "frames", st.winFrames)
			}
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// step processes one frame: capture, forward, filter, aggregate.
func (m *Monitor) step(ctx context.Context, st *monitorState) {
	frame, err := m.system.CaptureImage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Sparse logging; a missing camera floods otherwise.
		if st.captureFails%50 == 0 {
			m.logger.Warn("monitor capture failed", "error", err)
		}
		st.captureFails++
		return
	}
	st.captureFails = 0
	m.frames.Add(1)

	if m.OnFrame != nil {
		m.OnFrame(frame.JPEG)
	}

	result, err := m.checker.Process(frame.JPEG)
	if err != nil {
		m.logger.Debug("filter failed open", "error", err)
	}

	now := time.Now()
	if result.Triggered {
		m.trigs.Add(1)
		if !st.winActive && now.After(st.cooldownUntil) {
			st.winActive = true
			st.winStart = now
			st.winFrames = 0
		}
		if st.winActive {
			st.lastTrigger = now
			st.winFrames++
			st.winLast = frame.JPEG
			st.winConfidence = result.ChangePercent
		}
	} else {
		m.saves.Add(1)
	}

	if !st.winActive {
		return
	}

	duration := now.Sub(st.winStart)
	quiet := now.Sub(st.lastTrigger) > m.cfg.Quiet
	if (!result.Triggered && quiet) || duration >= m.cfg.WindowMax {
		m.closeWindow(ctx, st.winStart, duration, st.winFrames, st.winConfidence, st.winLast)
		*st = monitorState{cooldownUntil: time.Now().Add(m.cfg.Cooldown)}
	}
}

// closeWindow analyzes the window's last frame, persists the event,
// and announces novel descriptions.
func (m *Monitor) closeWindow(ctx context.Context, start time.Time, duration time.Duration, frames int, confidence float64, jpeg []byte) {
	m.logger.Info("event window closed",
		"frames", frames,
		"duration_ms", duration.Milliseconds(),
		"confidence", fmt.Sprintf("%.1f%%", confidence))

	var text string
	if len(jpeg) > 0 {
		desc, err := m.system.AnalyzeImage(ctx, jpeg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The event still persists; only the description is
			// missing.
			m.logger.Warn("window analysis failed", "error", err)
		} else {
			text = desc.Text
		}
	}

	ev := events.NewAt(events.TypeMotionEvent, events.SourceMonitor, start)
	ev.DurationMs = duration.Milliseconds()
	ev.FramesCount = frames
	ev.ConfidenceHint = math.Round(confidence*10) / 10
	ev.Description = text

	if m.store != nil {
		if err := m.store.Append(ev); err != nil {
			m.logger.Warn("event append failed", "error", err)
		} else {
			m.logged.Add(1)
		}
	}
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}

	if text != "" {
		m.announce(text)
	}
}

// announce forwards a summary to speech unless it repeats the
// previous one too closely, too soon.
func (m *Monitor) announce(text string) {
	now := time.Now()

	m.mu.Lock()
	suppress := m.lastSummary != "" &&
		now.Sub(m.lastSummaryAt) < m.cfg.NoveltyWindow &&
		similarity(text, m.lastSummary) >= m.cfg.NoveltyThreshold
	if !suppress {
		m.lastSummary = text
		m.lastSummaryAt = now
	}
	m.mu.Unlock()

	if suppress {
		m.logger.Info("summary suppressed as repeat")
		return
	}
	m.system.Announce(text)
}

// similarity estimates how alike two summaries read using character
// bigram overlap: 1.0 for identical strings, 0.0 for disjoint ones.
func similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}

	ab := bigrams(a)
	bb := bigrams(b)
	if len(ab) == 0 || len(bb) == 0 {
		return 0.0
	}

	inter := 0
	for g := range ab {
		if bb[g] {
			inter++
		}
	}
	union := len(ab) + len(bb) - inter
	return float64(inter) / float64(union)
}

func bigrams(s string) map[string]bool {
	out := make(map[string]bool, len(s))
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = true
	}
	return out
}
