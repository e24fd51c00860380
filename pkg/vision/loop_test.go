package vision

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/inference"
	"github.com/nerostar/corpus-vision/pkg/speech"
)

func TestStartContinuous(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.FixedMock("a red ball"))

	if err := sys.StartContinuous(30 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	if st := sys.Status(); st.LoopState != "running" {
		t.Errorf("expected running, got %q", st.LoopState)
	}

	eventually(t, 2*time.Second, func() bool { return cam.CallCount() >= 3 }, "loop not ticking")
	eventually(t, 2*time.Second, func() bool {
		return sys.Status().LastDescription == "a red ball"
	}, "description not recorded")
}

func TestStartWhileRunning(t *testing.T) {
	sys := New(camera.NewMock(), inference.NewMock())

	if err := sys.StartContinuous(50 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	err := sys.StartContinuous(5 * time.Millisecond)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := sys.DefaultInterval(); got != 50*time.Millisecond {
		t.Errorf("rejected start must not change the interval, got %v", got)
	}
}

func TestStartInvalidInterval(t *testing.T) {
	sys := New(camera.NewMock(), inference.NewMock())

	for _, d := range []time.Duration{0, -time.Second} {
		if err := sys.StartContinuous(d); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("interval %v: expected ErrInvalidInterval, got %v", d, err)
		}
	}
	if sys.State() != Stopped {
		t.Error("state must stay stopped")
	}
}

func TestStopWhenStopped(t *testing.T) {
	sys := New(camera.NewMock(), inference.NewMock())

	if err := sys.StopContinuous(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestLoopFirstTickImmediate(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.NewMock())

	if err := sys.StartContinuous(500 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	eventually(t, 300*time.Millisecond, func() bool { return cam.CallCount() >= 1 },
		"first cycle should run at start, not one interval later")
}

func TestStopHaltsTicks(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.NewMock())

	if err := sys.StartContinuous(20 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eventually(t, 2*time.Second, func() bool { return cam.CallCount() >= 2 }, "loop not ticking")

	if err := sys.StopContinuous(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if st := sys.Status(); st.LoopState != "stopped" {
		t.Errorf("expected stopped, got %q", st.LoopState)
	}

	before := cam.CallCount()
	time.Sleep(100 * time.Millisecond)
	if after := cam.CallCount(); after != before {
		t.Errorf("ticks continued after stop: %d then %d", before, after)
	}
}

func TestLoopRecordsTickFailure(t *testing.T) {
	sys := New(camera.NewMock(), inference.WithError(errors.New("quota exhausted")))

	if err := sys.StartContinuous(20 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	eventually(t, 2*time.Second, func() bool {
		st := sys.Status()
		return strings.Contains(st.LastError, "analysis failed") && st.LoopState == "running"
	}, "tick failure not recorded while running")

	if got := sys.Status().LastDescription; got != "" {
		t.Errorf("failed ticks must not invent a description, got %q", got)
	}
}

func TestLoopSurvivesFailures(t *testing.T) {
	var n atomic.Int32
	provider := &inference.Mock{
		DescribeFunc: func(ctx context.Context, req *inference.Request) (*inference.Result, error) {
			if n.Add(1) <= 2 {
				return nil, errors.New("transient upstream failure")
			}
			return &inference.Result{Description: "back online"}, nil
		},
	}
	sys := New(camera.NewMock(), provider)

	if err := sys.StartContinuous(20 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	eventually(t, 2*time.Second, func() bool {
		return sys.Status().LastDescription == "back online"
	}, "loop did not recover from failed cycles")

	st := sys.Status()
	if st.LoopState != "running" {
		t.Error("loop must keep running through failures")
	}
	if st.LastError != "" {
		t.Errorf("recovery should clear the error, got %q", st.LastError)
	}
}

func TestRestartAfterStop(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.NewMock())

	if err := sys.StartContinuous(40 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sys.StopContinuous(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := sys.StartContinuous(25 * time.Millisecond); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer sys.StopContinuous()

	if got := sys.DefaultInterval(); got != 25*time.Millisecond {
		t.Errorf("restart interval not adopted, got %v", got)
	}
	eventually(t, 2*time.Second, func() bool { return cam.CallCount() >= 3 }, "restarted loop not ticking")
}

func TestLoopAppendsEvents(t *testing.T) {
	store := events.NewStore(filepath.Join(t.TempDir(), "events.jsonl"))
	sys := New(camera.NewMock(), inference.FixedMock("a courier at the door"), WithEvents(store))

	if err := sys.StartContinuous(25 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	eventually(t, 2*time.Second, func() bool {
		evs, _ := store.Recent(5)
		return len(evs) >= 1
	}, "loop events not persisted")

	evs, err := store.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if evs[0].Type != events.TypeSceneDescribed {
		t.Errorf("type = %q", evs[0].Type)
	}
	if evs[0].Source != events.SourceLoop {
		t.Errorf("source = %q, want %q", evs[0].Source, events.SourceLoop)
	}
}

func TestLoopSpeaks(t *testing.T) {
	spk := speech.NewMock()
	sys := New(camera.NewMock(), inference.FixedMock("someone waving"), WithNotifier(spk))

	if err := sys.StartContinuous(25 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sys.StopContinuous()

	eventually(t, 2*time.Second, func() bool { return spk.CallCount() >= 1 }, "loop descriptions not spoken")
	if got := spk.Spoken()[0]; got != "someone waving" {
		t.Errorf("spoke %q", got)
	}
}

func TestLoopAndManualShareCamera(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool

	cam := camera.NewMock()
	cam.CaptureFunc = func(ctx context.Context) (*camera.Frame, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return &camera.Frame{JPEG: camera.FixtureJPEG(), Timestamp: time.Now()}, nil
	}
	sys := New(cam, inference.NewMock())

	if err := sys.StartContinuous(10 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				sys.DescribeCurrentView(context.Background())
			}
		}()
	}
	wg.Wait()

	if err := sys.StopContinuous(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if overlapped.Load() {
		t.Error("loop and on-demand captures overlapped")
	}
}

func TestShutdown(t *testing.T) {
	sys := New(camera.NewMock(), inference.NewMock())

	// Safe on an idle system.
	sys.Shutdown()

	if err := sys.StartContinuous(50 * time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sys.Shutdown()
	if sys.State() != Stopped {
		t.Error("shutdown should stop the loop")
	}
}
