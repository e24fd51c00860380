// Package api exposes the vision system over HTTP and WebSocket.
//
// The original service surface is preserved: /capture, /analyze,
// /describe, /start_loop, /stop_loop, /status. On top of that the
// server carries liveness and metrics endpoints, runtime config
// routes, the motion monitor controls, the event log reads, and two
// WebSocket streams (binary JPEG frames and JSON events).
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nerostar/corpus-vision/internal/log"
	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/hub"
	"github.com/nerostar/corpus-vision/pkg/vision"
)

// Server serves the vision API on one listener. Optional
// collaborators (monitor, camera manager, event store) unlock their
// routes; without them those routes answer 503.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	system  *vision.System
	monitor *vision.Monitor
	camMgr  *camera.Manager
	store   *events.Store

	frameHub *hub.Hub
	eventHub *hub.Hub

	startedAt  time.Time
	requestLog bool
	hubCancel  context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMonitor wires the motion monitor behind /monitor/*.
func WithMonitor(m *vision.Monitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithCameraManager wires runtime camera reconfiguration behind
// /camera/*.
func WithCameraManager(m *camera.Manager) Option {
	return func(s *Server) { s.camMgr = m }
}

// WithEvents wires the event log behind /events and /events/context.
func WithEvents(store *events.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRequestLogging enables per-request access logging. Debug use;
// too noisy for the continuous loop in production.
func WithRequestLogging() Option {
	return func(s *Server) { s.requestLog = true }
}

// NewServer builds the app and registers every route. Call Start to
// listen.
func NewServer(addr string, system *vision.System, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		system:    system,
		logger:    log.Component("api"),
		frameHub:  hub.New("frames"),
		eventHub:  hub.New("events"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "corpus-vision",
		DisableStartupMessage: true,
		// Full-resolution JPEG uploads on /analyze.
		BodyLimit: 32 << 20,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if s.requestLog {
		app.Use(logger.New())
	}

	// Original service surface.
	app.Get("/capture", s.handleCapture)
	app.Post("/analyze", s.handleAnalyze)
	app.Get("/describe", s.handleDescribe)
	app.Post("/start_loop", s.handleStartLoop)
	app.Post("/stop_loop", s.handleStopLoop)
	app.Get("/status", s.handleStatus)

	// Operational endpoints.
	app.Get("/healthz", s.handleHealthz)
	app.Get("/metrics", s.handleMetrics)

	// Runtime configuration.
	app.Get("/config", s.handleGetConfig)
	app.Post("/config", s.handleSetConfig)
	app.Get("/camera/status", s.handleCameraStatus)
	app.Get("/camera/config", s.handleGetCameraConfig)
	app.Post("/camera/config", s.handleSetCameraConfig)

	// Motion monitor.
	app.Post("/monitor/start", s.handleMonitorStart)
	app.Post("/monitor/stop", s.handleMonitorStop)
	app.Get("/monitor/status", s.handleMonitorStatus)

	// Event log.
	app.Get("/events", s.handleEvents)
	app.Get("/events/context", s.handleEventsContext)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start runs the broadcast hubs and blocks serving on the configured
// address.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.frameHub.Run(ctx)
	go s.eventHub.Run(ctx)

	s.logger.Info("api listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops the listener and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hubCancel != nil {
		s.hubCancel()
	}
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app, for tests and for serving on
// a caller-owned listener.
func (s *Server) App() *fiber.App {
	return s.app
}

// BroadcastFrame fans one JPEG frame out to /ws/frames subscribers.
func (s *Server) BroadcastFrame(jpeg []byte) {
	s.frameHub.BroadcastBinary(jpeg)
}

// BroadcastEvent fans one event out to /ws/events subscribers.
func (s *Server) BroadcastEvent(ev events.Event) {
	if err := s.eventHub.BroadcastJSON(ev); err != nil {
		s.logger.Warn("event broadcast failed", "error", err)
	}
}

// handleFramesWS subscribes one connection to the frame stream.
func (s *Server) handleFramesWS(conn *websocket.Conn) {
	hub.NewClient(s.frameHub, conn).Run()
}

// handleEventsWS subscribes one connection to the event stream.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	hub.NewClient(s.eventHub, conn).Run()
}
