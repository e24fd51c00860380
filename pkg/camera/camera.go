// Package camera provides JPEG frame sources for the vision service.
//
// Three source kinds are supported: local capture devices through
// OpenCV, HTTP snapshot endpoints, and WebRTC streams negotiated over
// a webrtcsink-style signalling server. All sources hand back complete
// JPEG frames so callers never touch raw pixel data.
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Frame is a single captured image.
type Frame struct {
	JPEG      []byte
	Timestamp time.Time
	Width     int
	Height    int
}

// Source produces frames on demand.
type Source interface {
	// Capture grabs one frame. Implementations honor ctx where the
	// underlying device allows it.
	Capture(ctx context.Context) (*Frame, error)

	// Available reports whether the source is ready to capture.
	Available() bool

	// Close releases the underlying device or connection.
	Close() error
}

var (
	// ErrNotAvailable indicates no usable capture device.
	ErrNotAvailable = errors.New("camera: device not available")

	// ErrNoFrame indicates the device is open but produced no frame.
	ErrNoFrame = errors.New("camera: no frame available")
)

// Source kinds accepted by Open.
const (
	SourceWebcam = "webcam"
	SourceHTTP   = "http"
	SourceWebRTC = "webrtc"
	SourceNone   = "none"
)

// Open creates a Source of the given kind. url is required for the
// http and webrtc kinds and ignored otherwise. The none kind returns
// a source that is never available, for hosts without a camera.
func Open(kind, url string, cfg Config) (Source, error) {
	switch kind {
	case SourceWebcam, "":
		return NewWebcam(cfg), nil
	case SourceHTTP:
		if url == "" {
			return nil, fmt.Errorf("camera: http source requires a url")
		}
		return NewHTTPSource(url), nil
	case SourceWebRTC:
		if url == "" {
			return nil, fmt.Errorf("camera: webrtc source requires a signalling url")
		}
		return NewWebRTCSource(url), nil
	case SourceNone:
		return noneSource{}, nil
	default:
		return nil, fmt.Errorf("camera: unknown source kind %q", kind)
	}
}

// noneSource stands in when the host runs headless.
type noneSource struct{}

func (noneSource) Capture(context.Context) (*Frame, error) { return nil, ErrNotAvailable }
func (noneSource) Available() bool                         { return false }
func (noneSource) Close() error                            { return nil }
