package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerostar/corpus-vision/internal/log"
)

// maxLineBytes bounds a single JSONL record when reading back.
const maxLineBytes = 1 << 20

// Store is a JSONL-backed event log. An empty path disables
// persistence: appends succeed silently and reads return nothing.
// Safe for concurrent use.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a store writing to path. The parent directory is
// created if missing.
func NewStore(path string) *Store {
	if path != "" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			os.MkdirAll(dir, 0755)
		}
	}
	return &Store{
		path:   path,
		logger: log.Component("events"),
	}
}

// Path returns the backing file path, empty when disabled.
func (s *Store) Path() string { return s.path }

// Append writes one event as a JSON line.
func (s *Store) Append(ev Event) error {
	if s.path == "" {
		return nil
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("events: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("events: write event: %w", err)
	}
	return nil
}

// readAll loads every parseable event. Empty and corrupt lines are
// skipped so one bad write never poisons the log.
func (s *Store) readAll() ([]Event, error) {
	if s.path == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("events: open log: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Debug("skipping corrupt event line", "error", err)
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("events: read log: %w", err)
	}
	return out, nil
}

// Recent returns the last limit events in chronological order. A
// non-positive limit returns everything.
func (s *Store) Recent(limit int) ([]Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		return all[len(all)-limit:], nil
	}
	return all, nil
}

// Range returns events with timestamps in [from, to]. Events whose
// timestamps cannot be parsed are skipped.
func (s *Store) Range(from, to time.Time) ([]Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, ev := range all {
		t := ev.Time()
		if t.IsZero() {
			continue
		}
		if !t.Before(from) && !t.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ContextEvent is the trimmed record handed to prompt builders.
type ContextEvent struct {
	TsISO          string  `json:"ts_iso"`
	DurationMs     int64   `json:"duration_ms"`
	FramesCount    int     `json:"frames_count"`
	Description    string  `json:"description"`
	ConfidenceHint float64 `json:"confidence_hint"`
}

// ContextSummary is a compact view of recent activity.
type ContextSummary struct {
	WindowMinutes int            `json:"window_minutes"`
	Limit         int            `json:"limit"`
	Count         int            `json:"count"`
	Events        []ContextEvent `json:"events"`
}

// Context returns up to limit events from the trailing window, in
// chronological order, trimmed to the fields useful as prompt
// context.
func (s *Store) Context(window time.Duration, limit int) (ContextSummary, error) {
	summary := ContextSummary{
		WindowMinutes: int(window.Minutes()),
		Limit:         limit,
		Events:        []ContextEvent{},
	}

	now := time.Now().UTC()
	recent, err := s.Range(now.Add(-window), now)
	if err != nil {
		return summary, err
	}
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}

	for _, ev := range recent {
		summary.Events = append(summary.Events, ContextEvent{
			TsISO:          ev.TsISO,
			DurationMs:     ev.DurationMs,
			FramesCount:    ev.FramesCount,
			Description:    ev.Description,
			ConfidenceHint: ev.ConfidenceHint,
		})
	}
	summary.Count = len(summary.Events)
	return summary, nil
}
