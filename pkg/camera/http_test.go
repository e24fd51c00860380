package camera

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSourceCapture(t *testing.T) {
	want := FixtureJPEG()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(want)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	frame, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	if !bytes.Equal(frame.JPEG, want) {
		t.Error("frame bytes do not match served image")
	}
	if frame.Timestamp.IsZero() {
		t.Error("expected a capture timestamp")
	}
	if !src.Available() {
		t.Error("http source should report available")
	}
}

func TestHTTPSourceBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	if _, err := src.Capture(context.Background()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestHTTPSourceNotJPEG(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	if _, err := src.Capture(context.Background()); err == nil {
		t.Fatal("expected error for non-JPEG response")
	}
}

func TestHTTPSourceContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.Write(FixtureJPEG())
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	src := NewHTTPSource(server.URL)
	if _, err := src.Capture(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
