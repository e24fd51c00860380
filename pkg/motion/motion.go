// Package motion detects scene changes between consecutive JPEG
// frames. The monitor uses it to gate expensive vision API calls:
// frames that look like the previous one are not worth describing
// again.
package motion

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Config holds frame differencing parameters.
type Config struct {
	// Threshold is the percentage of changed pixels at or above
	// which a frame counts as motion.
	Threshold float64

	// PixelDelta is the minimum per-pixel intensity difference
	// counted as change. Filters out sensor noise and JPEG
	// compression artifacts.
	PixelDelta int

	// DownscaleWidth bounds the comparison resolution. Frames wider
	// than this are resized before differencing.
	DownscaleWidth int
}

// DefaultConfig returns the standard differencing parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:      5.0,
		PixelDelta:     25,
		DownscaleWidth: 320,
	}
}

// Result is the outcome of evaluating one frame.
type Result struct {
	Triggered     bool
	ChangePercent float64
	ChangedPixels int
}

// failOpen is returned when a frame cannot be evaluated. A broken
// filter must never suppress frames.
func failOpen() Result {
	return Result{Triggered: true, ChangePercent: 100.0}
}

// Checker evaluates frames for scene change. Implemented by Detector
// and by test doubles.
type Checker interface {
	Process(jpeg []byte) (Result, error)
	Close() error
}

// Detector compares each frame against the previous one using
// grayscale absolute differencing. Safe for concurrent use; frames
// are evaluated one at a time.
type Detector struct {
	mu   sync.Mutex
	cfg  Config
	prev gocv.Mat
	has  bool
}

// NewDetector creates a detector. Zero config fields fall back to
// the defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.PixelDelta <= 0 {
		cfg.PixelDelta = def.PixelDelta
	}
	if cfg.DownscaleWidth <= 0 {
		cfg.DownscaleWidth = def.DownscaleWidth
	}
	return &Detector{
		cfg:  cfg,
		prev: gocv.NewMat(),
	}
}

// Process evaluates one frame against the previous one. The first
// frame establishes the baseline and never triggers. On decode
// failure the result fails open (triggered) and the error is
// returned for logging.
func (d *Detector) Process(jpeg []byte) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gray, err := d.decodeGray(jpeg)
	if err != nil {
		return failOpen(), err
	}

	if !d.has {
		d.prev.Close()
		d.prev = gray
		d.has = true
		return Result{}, nil
	}

	// A resolution change invalidates the baseline. Treat it as a
	// full scene change and start over.
	if gray.Cols() != d.prev.Cols() || gray.Rows() != d.prev.Rows() {
		d.prev.Close()
		d.prev = gray
		return Result{Triggered: true, ChangePercent: 100.0}, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(d.prev, gray, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, float32(d.cfg.PixelDelta), 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(mask)
	total := mask.Rows() * mask.Cols()
	percent := 0.0
	if total > 0 {
		percent = float64(changed) / float64(total) * 100.0
	}

	d.prev.Close()
	d.prev = gray

	return Result{
		Triggered:     percent >= d.cfg.Threshold,
		ChangePercent: percent,
		ChangedPixels: changed,
	}, nil
}

// decodeGray decodes a JPEG to a grayscale Mat, downscaled for
// comparison. Caller owns the returned Mat.
func (d *Detector) decodeGray(jpeg []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("motion: decode frame: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("motion: frame decoded empty")
	}

	if img.Cols() > d.cfg.DownscaleWidth {
		scale := float64(d.cfg.DownscaleWidth) / float64(img.Cols())
		height := int(float64(img.Rows()) * scale)
		if height < 1 {
			height = 1
		}
		small := gocv.NewMat()
		gocv.Resize(img, &small, image.Pt(d.cfg.DownscaleWidth, height), 0, 0, gocv.InterpolationLinear)
		img.Close()
		return small, nil
	}
	return img, nil
}

// Reset clears the baseline. The next frame establishes a new one.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.has {
		d.prev.Close()
		d.prev = gocv.NewMat()
		d.has = false
	}
}

// Close releases the retained baseline frame.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev.Close()
	d.has = false
	return nil
}

var _ Checker = (*Detector)(nil)
