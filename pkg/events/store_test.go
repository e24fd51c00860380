package events

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "events.jsonl"))
}

func TestAppendAndRecent(t *testing.T) {
	s := tempStore(t)

	for i := 0; i < 5; i++ {
		ev := New(TypeSceneDescribed, SourceLoop)
		ev.Description = strings.Repeat("x", i+1)
		if err := s.Append(ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := s.Recent(3)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Last three, oldest first
	if got[0].Description != "xxx" || got[2].Description != "xxxxx" {
		t.Errorf("wrong events returned: %q .. %q", got[0].Description, got[2].Description)
	}

	all, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent(0) failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected all 5 events, got %d", len(all))
	}
}

func TestEventFields(t *testing.T) {
	ev := New(TypeMotionEvent, SourceMonitor)

	if ev.ID == "" {
		t.Error("expected generated event ID")
	}
	if ev.Type != TypeMotionEvent || ev.Source != SourceMonitor {
		t.Errorf("wrong type/source: %s/%s", ev.Type, ev.Source)
	}
	if ev.TsMs == 0 || ev.TsISO == "" {
		t.Error("expected both timestamp fields set")
	}

	parsed := ev.Time()
	if parsed.IsZero() {
		t.Fatal("timestamp did not round-trip")
	}
	if delta := time.Since(parsed); delta < 0 || delta > time.Minute {
		t.Errorf("timestamp off by %v", delta)
	}
}

func TestTimeFallsBackToMillis(t *testing.T) {
	ev := Event{TsISO: "not a timestamp", TsMs: 1700000000000}
	if got := ev.Time(); got.UnixMilli() != 1700000000000 {
		t.Errorf("expected millis fallback, got %v", got)
	}

	if got := (Event{}).Time(); !got.IsZero() {
		t.Errorf("expected zero time for empty event, got %v", got)
	}
}

func TestCorruptLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s := NewStore(path)

	if err := s.Append(New(TypeSceneDescribed, SourceLoop)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Inject garbage and a blank line between valid records
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	f.WriteString("{not json\n\n")
	f.Close()

	if err := s.Append(New(TypeSceneDescribed, SourceLoop)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 valid events, got %d", len(got))
	}
}

func TestDisabledStore(t *testing.T) {
	s := NewStore("")

	if err := s.Append(New(TypeSceneDescribed, SourceLoop)); err != nil {
		t.Errorf("disabled append should succeed, got %v", err)
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Errorf("disabled recent should succeed, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("disabled store returned %d events", len(got))
	}
}

func TestCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.jsonl")
	s := NewStore(path)

	if err := s.Append(New(TypeSceneDescribed, SourceLoop)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestRange(t *testing.T) {
	s := tempStore(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ev := NewAt(TypeMotionEvent, SourceMonitor, base.Add(time.Duration(i)*time.Hour))
		ev.Description = time.Duration(i).String()
		if err := s.Append(ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	// Inclusive on both ends
	got, err := s.Range(base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("range failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(got))
	}

	none, err := s.Range(base.Add(10*time.Hour), base.Add(11*time.Hour))
	if err != nil {
		t.Fatalf("range failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty range, got %d", len(none))
	}
}

func TestContext(t *testing.T) {
	s := tempStore(t)

	old := NewAt(TypeMotionEvent, SourceMonitor, time.Now().Add(-2*time.Hour))
	old.Description = "ancient history"
	s.Append(old)

	for i := 0; i < 3; i++ {
		ev := NewAt(TypeMotionEvent, SourceMonitor, time.Now().Add(-time.Duration(3-i)*time.Minute))
		ev.Description = "recent"
		ev.FramesCount = i + 1
		s.Append(ev)
	}

	summary, err := s.Context(15*time.Minute, 2)
	if err != nil {
		t.Fatalf("context failed: %v", err)
	}

	if summary.WindowMinutes != 15 || summary.Limit != 2 {
		t.Errorf("summary header wrong: %+v", summary)
	}
	if summary.Count != 2 || len(summary.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", summary.Count)
	}
	// Newest two of the window, chronological order
	if summary.Events[0].FramesCount != 2 || summary.Events[1].FramesCount != 3 {
		t.Errorf("wrong selection or order: %+v", summary.Events)
	}
	for _, ev := range summary.Events {
		if ev.Description != "recent" {
			t.Errorf("old event leaked into context: %+v", ev)
		}
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := tempStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := s.Append(New(TypeSceneDescribed, SourceLoop)); err != nil {
					t.Errorf("append failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("expected 200 events, got %d", len(got))
	}
}
