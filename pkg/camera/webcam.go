package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/nerostar/corpus-vision/internal/log"
)

// maxProbeDevice bounds the device scan when the configured index
// cannot be opened.
const maxProbeDevice = 5

// Webcam captures frames from a local device via OpenCV. Device
// access is serialized on an internal mutex, so a single Webcam is
// safe for concurrent use.
type Webcam struct {
	mu     sync.Mutex
	cfg    Config
	vc     *gocv.VideoCapture
	device int
	logger *slog.Logger
}

// NewWebcam creates a webcam source. The device is opened lazily on
// the first capture, so construction never fails; hosts without a
// camera stay usable and report errors per capture instead.
func NewWebcam(cfg Config) *Webcam {
	return &Webcam{
		cfg:    cfg,
		device: -1,
		logger: log.Component("camera"),
	}
}

// Open tries to open the device eagerly. Optional; Capture opens on
// demand when this is skipped or fails.
func (w *Webcam) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open()
}

// open probes for a usable device. Caller holds mu.
func (w *Webcam) open() error {
	if w.vc != nil {
		return nil
	}

	candidates := make([]int, 0, maxProbeDevice+2)
	if w.cfg.DeviceID >= 0 {
		candidates = append(candidates, w.cfg.DeviceID)
	}
	for i := 0; i <= maxProbeDevice; i++ {
		if i != w.cfg.DeviceID {
			candidates = append(candidates, i)
		}
	}

	for _, id := range candidates {
		vc, err := gocv.OpenVideoCapture(id)
		if err != nil {
			continue
		}
		if !vc.IsOpened() {
			vc.Close()
			continue
		}
		w.vc = vc
		w.device = id
		w.applyProps(w.cfg)
		if w.cfg.WarmupFrames > 0 {
			// Flush frames buffered by the driver at open time.
			w.vc.Grab(w.cfg.WarmupFrames)
		}
		w.logger.Info("camera opened",
			"device", id,
			"width", w.cfg.Width,
			"height", w.cfg.Height,
			"framerate", w.cfg.Framerate)
		return nil
	}

	return ErrNotAvailable
}

// applyProps sets capture properties on the open device. Caller holds mu.
func (w *Webcam) applyProps(cfg Config) {
	w.vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	w.vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	w.vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
}

// Capture grabs and JPEG-encodes one frame.
func (w *Webcam) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return nil, err
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := w.vc.Read(&img); !ok || img.Empty() {
		// Drop the handle so the next capture re-probes. Covers
		// devices that were unplugged while open.
		w.release()
		return nil, ErrNoFrame
	}

	quality := w.cfg.Quality
	if quality <= 0 {
		quality = DefaultConfig().Quality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("camera: jpeg encode failed: %w", err)
	}
	defer buf.Close()

	// GetBytes returns memory owned by the native buffer; copy
	// before Close frees it.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return &Frame{
		JPEG:      data,
		Timestamp: time.Now(),
		Width:     img.Cols(),
		Height:    img.Rows(),
	}, nil
}

// Available reports whether a device is currently open.
func (w *Webcam) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vc != nil
}

// Device returns the open device index, or -1 when closed.
func (w *Webcam) Device() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

// ApplyConfig reconfigures the device. Resolution changes force a
// reopen since not all drivers apply them on a live capture.
func (w *Webcam) ApplyConfig(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	reopen := w.vc != nil && (cfg.Width != w.cfg.Width || cfg.Height != w.cfg.Height)
	w.cfg = cfg
	if w.vc == nil {
		return nil
	}
	if reopen {
		w.release()
		return w.open()
	}
	w.applyProps(cfg)
	return nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.vc == nil {
		return nil
	}
	err := w.vc.Close()
	w.vc = nil
	w.device = -1
	return err
}

// release drops the open handle. Caller holds mu.
func (w *Webcam) release() {
	if w.vc != nil {
		w.vc.Close()
		w.vc = nil
	}
	w.device = -1
}

var _ Source = (*Webcam)(nil)
