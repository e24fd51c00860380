package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerostar/corpus-vision/internal/httpc"
)

// maxSnapshotBytes caps how much of a snapshot response is read.
const maxSnapshotBytes = 16 << 20

// HTTPSource captures frames from an endpoint that returns one JPEG
// per GET, such as an IP camera snapshot URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a snapshot source for the given URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: httpc.Client,
	}
}

// Capture fetches one frame from the snapshot endpoint.
func (s *HTTPSource) Capture(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("camera: build snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera: snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("camera: read snapshot body: %w", err)
	}
	if !isJPEG(data) {
		return nil, fmt.Errorf("camera: snapshot response is not a JPEG image")
	}

	return &Frame{JPEG: data, Timestamp: time.Now()}, nil
}

// Available always reports true; failures surface per capture.
func (s *HTTPSource) Available() bool { return true }

// Close is a no-op for snapshot sources.
func (s *HTTPSource) Close() error { return nil }

// isJPEG checks for the JPEG SOI marker.
func isJPEG(b []byte) bool {
	return len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF
}

var _ Source = (*HTTPSource)(nil)
