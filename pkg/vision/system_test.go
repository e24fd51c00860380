package vision

import (
	"context"
	"errors"
	"fmt"
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

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestCaptureImage(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.NewMock())

	frame, err := sys.CaptureImage(context.Background())
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	if len(frame.JPEG) == 0 {
		t.Error("expected frame bytes")
	}
	if cam.CallCount() != 1 {
		t.Errorf("expected 1 capture, got %d", cam.CallCount())
	}
}

func TestCaptureImageError(t *testing.T) {
	cam := camera.NewMock().WithError(errors.New("device gone"))
	sys := New(cam, inference.NewMock())

	_, err := sys.CaptureImage(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var cerr *CaptureError
	if !errors.As(err, &cerr) {
		t.Errorf("expected CaptureError, got %T", err)
	}
	if st := sys.Status(); st.LastError != "" {
		t.Errorf("raw capture must not touch the status snapshot, got %q", st.LastError)
	}
}

func TestAnalyzeImage(t *testing.T) {
	sys := New(camera.NewMock(), inference.FixedMock("a cat on a desk"))

	desc, err := sys.AnalyzeImage(context.Background(), camera.FixtureJPEG())
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if desc.Text != "a cat on a desk" {
		t.Errorf("unexpected description %q", desc.Text)
	}
	if st := sys.Status(); st.LastDescription != "" {
		t.Error("AnalyzeImage must not update the status snapshot")
	}
}

func TestAnalyzeImageEmpty(t *testing.T) {
	provider := inference.NewMock()
	sys := New(camera.NewMock(), provider)

	_, err := sys.AnalyzeImage(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for an empty payload")
	}
	if !errors.Is(err, inference.ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		t.Errorf("expected AnalysisError, got %T", err)
	}
	if provider.CallCount("Describe") != 0 {
		t.Error("provider must not be called for an empty payload")
	}
}

func TestPromptSelection(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	provider := &inference.Mock{
		DescribeFunc: func(ctx context.Context, req *inference.Request) (*inference.Result, error) {
			mu.Lock()
			prompts = append(prompts, req.Prompt)
			mu.Unlock()
			return &inference.Result{Description: "ok"}, nil
		},
	}

	sys := New(camera.NewMock(), provider)
	if _, err := sys.AnalyzeImage(context.Background(), camera.FixtureJPEG()); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	sys.SetFirstPerson(false)
	if _, err := sys.AnalyzeImage(context.Background(), camera.FixtureJPEG()); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	custom := New(camera.NewMock(), provider, WithPrompt("Find the red ball."))
	if _, err := custom.AnalyzeImage(context.Background(), camera.FixtureJPEG()); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{PromptFirstPerson, PromptNeutral, "Find the red ball."}
	if len(prompts) != len(want) {
		t.Fatalf("expected %d prompts, got %d", len(want), len(prompts))
	}
	for i, p := range prompts {
		if p != want[i] {
			t.Errorf("prompt %d = %q, want %q", i, p, want[i])
		}
	}
}

func TestDescribeCurrentView(t *testing.T) {
	sys := New(camera.NewMock(), inference.FixedMock("a red ball on the floor"))

	desc, err := sys.DescribeCurrentView(context.Background())
	if err != nil {
		t.Fatalf("DescribeCurrentView failed: %v", err)
	}
	if desc.Text != "a red ball on the floor" {
		t.Errorf("unexpected description %q", desc.Text)
	}

	st := sys.Status()
	if st.LastDescription != "a red ball on the floor" {
		t.Errorf("status not updated, got %q", st.LastDescription)
	}
	if st.LastError != "" {
		t.Errorf("unexpected error %q", st.LastError)
	}
	if st.LoopState != "stopped" {
		t.Errorf("expected stopped loop, got %q", st.LoopState)
	}
}

func TestDescribeUpdatesEachCall(t *testing.T) {
	var n atomic.Int32
	provider := &inference.Mock{
		DescribeFunc: func(ctx context.Context, req *inference.Request) (*inference.Result, error) {
			return &inference.Result{Description: fmt.Sprintf("view %d", n.Add(1))}, nil
		},
	}
	sys := New(camera.NewMock(), provider)

	for i := 0; i < 2; i++ {
		if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
			t.Fatalf("describe %d failed: %v", i+1, err)
		}
	}
	st := sys.Status()
	if st.LastDescription != "view 2" {
		t.Errorf("expected latest description, got %q", st.LastDescription)
	}
	if st.DescribeCount != 2 {
		t.Errorf("describe_count = %d, want 2", st.DescribeCount)
	}
	if st.DescribedAt == "" {
		t.Error("described_at should be set after a success")
	}
}

func TestCaptureFailurePreservesDescription(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.FixedMock("a quiet room"))

	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("seed describe failed: %v", err)
	}

	cam.WithError(errors.New("usb reset"))
	if _, err := sys.DescribeCurrentView(context.Background()); err == nil {
		t.Fatal("expected capture failure")
	}

	st := sys.Status()
	if st.LastDescription != "a quiet room" {
		t.Errorf("failed cycle must keep the last description, got %q", st.LastDescription)
	}
	if !strings.Contains(st.LastError, "capture failed") {
		t.Errorf("expected capture error in status, got %q", st.LastError)
	}
	if !strings.Contains(st.LastError, "usb reset") {
		t.Errorf("expected cause in status, got %q", st.LastError)
	}

	// Recovery clears the recorded error.
	cam.WithError(nil)
	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("recovery describe failed: %v", err)
	}
	if st := sys.Status(); st.LastError != "" {
		t.Errorf("error should clear on success, got %q", st.LastError)
	}
}

func TestAnalysisFailureRecorded(t *testing.T) {
	sys := New(camera.NewMock(), inference.WithError(errors.New("quota exhausted")))

	_, err := sys.DescribeCurrentView(context.Background())
	if err == nil {
		t.Fatal("expected analysis failure")
	}
	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		t.Errorf("expected AnalysisError, got %T", err)
	}

	st := sys.Status()
	if !strings.Contains(st.LastError, "analysis failed") {
		t.Errorf("expected analysis error in status, got %q", st.LastError)
	}
	if st.LastDescription != "" {
		t.Errorf("no description should be recorded, got %q", st.LastDescription)
	}
}

func TestDescribeAppendsEvent(t *testing.T) {
	store := events.NewStore(filepath.Join(t.TempDir(), "events.jsonl"))
	sys := New(camera.NewMock(), inference.FixedMock("boxes by the door"), WithEvents(store))

	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("describe failed: %v", err)
	}

	evs, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Type != events.TypeSceneDescribed {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.Source != events.SourceManual {
		t.Errorf("source = %q", ev.Source)
	}
	if ev.Description != "boxes by the door" {
		t.Errorf("description = %q", ev.Description)
	}
}

func TestDescribeSpeaks(t *testing.T) {
	spk := speech.NewMock()
	sys := New(camera.NewMock(), inference.FixedMock("a dog in the hallway"), WithNotifier(spk))

	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	eventually(t, time.Second, func() bool { return spk.CallCount() == 1 }, "speech not delivered")
	if got := spk.Spoken()[0]; got != "a dog in the hallway" {
		t.Errorf("spoke %q", got)
	}

	sys.SetSpeechEnabled(false)
	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := spk.CallCount(); got != 1 {
		t.Errorf("speech should stay off, got %d calls", got)
	}
}

func TestNotificationFailureRecorded(t *testing.T) {
	spk := speech.NewMock().WithError(errors.New("speaker offline"))
	sys := New(camera.NewMock(), inference.FixedMock("a chair"), WithNotifier(spk))

	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("describe must not fail on notification trouble: %v", err)
	}

	eventually(t, time.Second, func() bool {
		return strings.Contains(sys.Status().LastError, "notification failed")
	}, "notification error not recorded")

	if got := sys.Status().LastDescription; got != "a chair" {
		t.Errorf("description must survive a notification failure, got %q", got)
	}

	// The next clean cycle clears it.
	sys.SetSpeechEnabled(false)
	if _, err := sys.DescribeCurrentView(context.Background()); err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if got := sys.Status().LastError; got != "" {
		t.Errorf("expected cleared error, got %q", got)
	}
}

func TestStatusDoesNotBlock(t *testing.T) {
	cam := camera.NewMock().WithDelay(300 * time.Millisecond)
	sys := New(cam, inference.NewMock())

	go sys.DescribeCurrentView(context.Background())
	eventually(t, time.Second, func() bool { return cam.CallCount() == 1 }, "capture not started")

	start := time.Now()
	sys.Status()
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("Status blocked for %v during an in-flight capture", d)
	}
}

func TestDescribeSerialized(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool

	cam := camera.NewMock()
	cam.CaptureFunc = func(ctx context.Context) (*camera.Frame, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(10 * time.Millisecond)
		return &camera.Frame{JPEG: camera.FixtureJPEG(), Timestamp: time.Now()}, nil
	}
	sys := New(cam, inference.NewMock())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sys.DescribeCurrentView(context.Background())
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("captures overlapped; the capture path must be serialized")
	}
	if cam.CallCount() != 4 {
		t.Errorf("expected 4 captures, got %d", cam.CallCount())
	}
}

func TestHealth(t *testing.T) {
	cam := camera.NewMock()
	sys := New(cam, inference.NewMock(), WithNotifier(speech.NewMock()))

	h := sys.Health()
	if !h.CameraAvailable {
		t.Error("camera should be available")
	}
	if !h.ProviderAvailable {
		t.Error("provider should be available")
	}
	if !h.SpeechEnabled {
		t.Error("speech should be enabled")
	}
	if h.LoopRunning {
		t.Error("loop should be stopped")
	}

	cam.SetAvailable(false)
	if h := sys.Health(); h.CameraAvailable {
		t.Error("camera loss not reflected")
	}
}

func TestSetDefaultInterval(t *testing.T) {
	sys := New(camera.NewMock(), inference.NewMock())

	if got := sys.DefaultInterval(); got != DefaultInterval {
		t.Errorf("default interval = %v", got)
	}
	if err := sys.SetDefaultInterval(0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	if err := sys.SetDefaultInterval(-time.Second); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	if err := sys.SetDefaultInterval(2 * time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got := sys.DefaultInterval(); got != 2*time.Second {
		t.Errorf("interval = %v, want 2s", got)
	}
}
