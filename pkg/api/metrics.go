package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nerostar/corpus-vision/pkg/vision"
)

// handleMetrics serves Prometheus text exposition, assembled from the
// system and monitor snapshots. No counters live here; everything is
// read from the owning components.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	st := s.system.Status()
	loopRunning := 0
	if st.LoopState == vision.Running.String() {
		loopRunning = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, `# HELP vision_loop_running Continuous loop state
# TYPE vision_loop_running gauge
vision_loop_running %d

# HELP vision_loop_interval_seconds Configured loop interval
# TYPE vision_loop_interval_seconds gauge
vision_loop_interval_seconds %g

# HELP vision_descriptions_total Successful describe cycles
# TYPE vision_descriptions_total counter
vision_descriptions_total %d

# HELP vision_uptime_seconds Process uptime
# TYPE vision_uptime_seconds gauge
vision_uptime_seconds %d
`, loopRunning, st.Interval, st.DescribeCount, int64(time.Since(s.startedAt).Seconds()))

	if s.monitor != nil {
		ms := s.monitor.Stats()
		monRunning := 0
		if ms.Running {
			monRunning = 1
		}
		fmt.Fprintf(&b, `
# HELP vision_monitor_running Motion monitor state
# TYPE vision_monitor_running gauge
vision_monitor_running %d

# HELP vision_monitor_frames_total Frames sampled by the monitor
# TYPE vision_monitor_frames_total counter
vision_monitor_frames_total %d

# HELP vision_monitor_triggers_total Frames that tripped the motion filter
# TYPE vision_monitor_triggers_total counter
vision_monitor_triggers_total %d

# HELP vision_monitor_api_saves_total Quiet frames that skipped analysis
# TYPE vision_monitor_api_saves_total counter
vision_monitor_api_saves_total %d

# HELP vision_monitor_events_total Motion events written to the log
# TYPE vision_monitor_events_total counter
vision_monitor_events_total %d
`, monRunning, ms.FramesProcessed, ms.Triggers, ms.APISaves, ms.EventsLogged)
	}

	fmt.Fprintf(&b, `
# HELP vision_ws_clients Connected WebSocket subscribers
# TYPE vision_ws_clients gauge
vision_ws_clients{stream="frames"} %d
vision_ws_clients{stream="events"} %d
`, s.frameHub.ClientCount(), s.eventHub.ClientCount())

	return c.SendString(b.String())
}
