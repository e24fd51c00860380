package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/inference"
	"github.com/nerostar/corpus-vision/pkg/vision"
)

// fail maps domain errors onto HTTP statuses: busy loop 409, bad
// input 400, camera trouble 503, provider trouble 502.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var capErr *vision.CaptureError
	var anaErr *vision.AnalysisError

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, vision.ErrAlreadyRunning), errors.Is(err, vision.ErrMonitorRunning):
		status = fiber.StatusConflict
	case errors.Is(err, vision.ErrInvalidInterval):
		status = fiber.StatusBadRequest
	case errors.As(err, &capErr):
		status = fiber.StatusServiceUnavailable
	case errors.As(err, &anaErr):
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleCapture returns one JPEG frame from the camera.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	frame, err := s.system.CaptureImage(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	c.Set("X-Capture-Timestamp", frame.Timestamp.UTC().Format(time.RFC3339Nano))
	c.Type("jpeg")
	return c.Send(frame.JPEG)
}

// handleAnalyze describes a supplied image. Raw bytes and JSON
// {"image": ...} bodies are analyzed as-is; an empty body analyzes
// the current camera view. Neither form touches the status snapshot
// or the speech notifier.
func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	jpeg, err := analyzePayload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if jpeg == nil {
		frame, err := s.system.CaptureImage(c.UserContext())
		if err != nil {
			return s.fail(c, err)
		}
		jpeg = frame.JPEG
	}

	desc, err := s.system.AnalyzeImage(c.UserContext(), jpeg)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"description": desc.Text})
}

// analyzePayload extracts the image from a POST /analyze body. Empty
// body returns nil, nil: the caller captures the current view.
func analyzePayload(c *fiber.Ctx) ([]byte, error) {
	body := c.Body()
	if len(body) == 0 {
		return nil, nil
	}

	ct := c.Get(fiber.HeaderContentType)
	if strings.HasPrefix(ct, fiber.MIMEApplicationJSON) || body[0] == '{' {
		var req struct {
			Image string `json:"image"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		if req.Image == "" {
			return nil, fmt.Errorf("missing image field")
		}
		return decodeImageField(req.Image)
	}

	// Raw bytes. Copy them out of fiber's reused request buffer.
	return append([]byte(nil), body...), nil
}

// decodeImageField accepts standard base64, optionally wrapped in a
// data URI.
func decodeImageField(field string) ([]byte, error) {
	data, err := inference.DecodeBase64Image(field)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return data, nil
}

// handleDescribe runs one full describe cycle: capture, analyze,
// update status, speak, log the event.
func (s *Server) handleDescribe(c *fiber.Ctx) error {
	desc, err := s.system.DescribeCurrentView(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"description": desc.Text})
}

// startLoopRequest carries the loop interval in seconds. Absent or
// empty body falls back to the configured default.
type startLoopRequest struct {
	Interval float64 `json:"interval"`
}

func (s *Server) handleStartLoop(c *fiber.Ctx) error {
	req := startLoopRequest{Interval: s.system.DefaultInterval().Seconds()}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
	}

	interval := time.Duration(req.Interval * float64(time.Second))
	if err := s.system.StartContinuous(interval); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "started"})
}

// handleStopLoop stops the loop. Stopping an idle system is not an
// error; callers only care that nothing is running afterwards.
func (s *Server) handleStopLoop(c *fiber.Ctx) error {
	if err := s.system.StopContinuous(); err != nil && !errors.Is(err, vision.ErrNotRunning) {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.system.Status())
}

// handleHealthz reports liveness plus collaborator availability. A
// missing camera does not fail the probe; the process is still alive.
func (s *Server) handleHealthz(c *fiber.Ctx) error {
	h := s.system.Health()
	body := fiber.Map{
		"status":             "ok",
		"camera_available":   h.CameraAvailable,
		"provider_available": h.ProviderAvailable,
		"loop_running":       h.LoopRunning,
		"speech_enabled":     h.SpeechEnabled,
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
	}
	if s.monitor != nil {
		body["monitor_running"] = s.monitor.Running()
	}
	return c.JSON(body)
}

// configSnapshot is the body served by GET /config and returned after
// updates.
func (s *Server) configSnapshot() fiber.Map {
	return fiber.Map{
		"interval":       s.system.DefaultInterval().Seconds(),
		"first_person":   s.system.FirstPerson(),
		"prompt":         s.system.CustomPrompt(),
		"speech_enabled": s.system.SpeechEnabled(),
	}
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.configSnapshot())
}

// configRequest is a partial update: absent fields keep their current
// values, which is why everything is a pointer.
type configRequest struct {
	Interval      *float64 `json:"interval"`
	FirstPerson   *bool    `json:"first_person"`
	Prompt        *string  `json:"prompt"`
	SpeechEnabled *bool    `json:"speech_enabled"`
}

func (s *Server) handleSetConfig(c *fiber.Ctx) error {
	var req configRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}

	if req.Interval != nil {
		d := time.Duration(*req.Interval * float64(time.Second))
		if err := s.system.SetDefaultInterval(d); err != nil {
			return s.fail(c, err)
		}
	}
	if req.FirstPerson != nil {
		s.system.SetFirstPerson(*req.FirstPerson)
	}
	if req.Prompt != nil {
		s.system.SetCustomPrompt(*req.Prompt)
	}
	if req.SpeechEnabled != nil {
		s.system.SetSpeechEnabled(*req.SpeechEnabled)
	}

	return c.JSON(s.configSnapshot())
}

func (s *Server) handleCameraStatus(c *fiber.Ctx) error {
	h := s.system.Health()
	body := fiber.Map{"available": h.CameraAvailable}
	if s.camMgr != nil {
		cfg := s.camMgr.GetConfig()
		body["config"] = cfg
		body["resolution"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	}
	return c.JSON(body)
}

func (s *Server) handleGetCameraConfig(c *fiber.Ctx) error {
	if s.camMgr == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "camera manager not configured"})
	}
	return c.JSON(fiber.Map{
		"config":       s.camMgr.GetConfig(),
		"capabilities": camera.Capabilities(),
	})
}

// handleSetCameraConfig applies a partial camera update. A "preset"
// key loads that preset before individual overrides apply.
func (s *Server) handleSetCameraConfig(c *fiber.Ctx) error {
	if s.camMgr == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "camera manager not configured"})
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	if err := s.camMgr.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"status": "updated",
		"config": s.camMgr.GetConfig(),
	})
}

func (s *Server) handleMonitorStart(c *fiber.Ctx) error {
	if s.monitor == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "monitor not configured"})
	}
	if err := s.monitor.Start(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "started"})
}

// handleMonitorStop mirrors /stop_loop: stopping an idle monitor
// succeeds.
func (s *Server) handleMonitorStop(c *fiber.Ctx) error {
	if s.monitor == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "monitor not configured"})
	}
	if err := s.monitor.Stop(); err != nil && !errors.Is(err, vision.ErrMonitorNotRunning) {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (s *Server) handleMonitorStatus(c *fiber.Ctx) error {
	if s.monitor == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "monitor not configured"})
	}
	return c.JSON(s.monitor.Stats())
}

// handleEvents returns the most recent events, oldest first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	if s.store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "event log not configured"})
	}

	limit := c.QueryInt("limit", 50)
	evs, err := s.store.Recent(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(fiber.Map{
		"count":  len(evs),
		"events": evs,
	})
}

// handleEventsContext returns the trailing-window summary used as
// prompt context by downstream agents.
func (s *Server) handleEventsContext(c *fiber.Ctx) error {
	if s.store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "event log not configured"})
	}

	minutes := c.QueryInt("minutes", 10)
	limit := c.QueryInt("limit", 20)
	if minutes <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "minutes must be positive"})
	}

	summary, err := s.store.Context(time.Duration(minutes)*time.Minute, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(summary)
}
