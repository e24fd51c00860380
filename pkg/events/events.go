// Package events persists scene observations to an append-only JSONL
// log. One JSON object per line keeps the log greppable and lets
// other tools tail it without coordination.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// TypeMotionEvent is an aggregated burst of scene change seen by
	// the monitor.
	TypeMotionEvent = "motion_event"

	// TypeSceneDescribed is a single description produced outside the
	// monitor, by the polling loop or a direct API call.
	TypeSceneDescribed = "scene_described"
)

// Event sources
const (
	SourceMonitor = "monitor"
	SourceLoop    = "loop"
	SourceManual  = "manual"
)

// Event is one observation record.
type Event struct {
	ID             string  `json:"id,omitempty"`
	Type           string  `json:"type"`
	TsMs           int64   `json:"ts_ms"`
	TsISO          string  `json:"ts_iso"`
	DurationMs     int64   `json:"duration_ms,omitempty"`
	FramesCount    int     `json:"frames_count,omitempty"`
	ConfidenceHint float64 `json:"confidence_hint,omitempty"`
	Description    string  `json:"description,omitempty"`
	Source         string  `json:"source,omitempty"`
}

// New creates an event stamped with the current time.
func New(eventType, source string) Event {
	return NewAt(eventType, source, time.Now())
}

// NewAt creates an event stamped with the given time. The monitor
// uses the aggregation window start rather than the write time.
func NewAt(eventType, source string, ts time.Time) Event {
	ts = ts.UTC()
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		TsMs:   ts.UnixMilli(),
		TsISO:  ts.Format(time.RFC3339Nano),
		Source: source,
	}
}

// Time returns the event timestamp, preferring the ISO field and
// falling back to the millisecond epoch. The zero time signals an
// unparseable record.
func (e Event) Time() time.Time {
	if e.TsISO != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.TsISO); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, e.TsISO); err == nil {
			return t
		}
	}
	if e.TsMs > 0 {
		return time.UnixMilli(e.TsMs).UTC()
	}
	return time.Time{}
}
