// Package vision orchestrates the capture, analyze, describe cycle.
//
// A System ties a camera source to a vision-language provider,
// optionally forwarding each description to a speech notifier and an
// event log. It owns the continuous polling loop and the status
// snapshot the HTTP layer exposes. Camera access is serialized: the
// loop and on-demand describe calls never capture concurrently.
package vision

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nerostar/corpus-vision/internal/log"
	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/inference"
	"github.com/nerostar/corpus-vision/pkg/speech"
)

// Prompts sent with every analysis request.
const (
	// PromptFirstPerson makes descriptions read like the system is
	// narrating its own view.
	PromptFirstPerson = "Describe what you see in this image from a first-person perspective, as if you are an AI companion looking through your camera. Start with 'I can see' or 'I notice' and describe the scene naturally. Keep it concise, around 1-2 sentences."

	// PromptNeutral is used when first-person phrasing is disabled.
	PromptNeutral = "Describe what you see in this image concisely."
)

// DefaultInterval is the loop cadence used when none is configured.
const DefaultInterval = 5 * time.Second

// LoopState is the continuous loop's lifecycle state.
type LoopState int32

const (
	Stopped LoopState = iota
	Running
)

func (s LoopState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Description is the natural-language output of analyzing one image,
// tagged with the capture time of the source frame.
type Description struct {
	Text      string
	Timestamp time.Time
	Provider  string
	Model     string
}

// Status is a read-only snapshot of the system. Reads never block on
// in-flight captures or analyses. The first three fields are always
// present; described_at is omitted until the first success.
type Status struct {
	LoopState       string  `json:"loop_state"`
	LastDescription string  `json:"last_description"`
	LastError       string  `json:"last_error"`
	Interval        float64 `json:"interval"`
	DescribedAt     string  `json:"described_at,omitempty"`
	DescribeCount   int64   `json:"describe_count"`
}

// Health reports collaborator availability for liveness endpoints.
type Health struct {
	CameraAvailable   bool `json:"camera_available"`
	ProviderAvailable bool `json:"provider_available"`
	LoopRunning       bool `json:"loop_running"`
	SpeechEnabled     bool `json:"speech_enabled"`
}

// System orchestrates capture, analysis, and notification.
type System struct {
	source   camera.Source
	provider inference.Provider
	notifier speech.Notifier
	store    *events.Store
	logger   *slog.Logger

	// captureMu serializes the capture+analyze+status-update
	// sequence across the loop and on-demand calls. The camera
	// supports at most one concurrent capture.
	captureMu sync.Mutex

	mu              sync.RWMutex
	state           LoopState
	lastDescription string
	lastDescribedAt time.Time
	lastError       string
	describeCount   int64
	defaultInterval time.Duration
	firstPerson     bool
	customPrompt    string
	speechOn        bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// Option configures a System.
type Option func(*System)

// WithNotifier forwards successful descriptions to n. Enables speech.
func WithNotifier(n speech.Notifier) Option {
	return func(s *System) {
		s.notifier = n
		s.speechOn = n != nil
	}
}

// WithEvents persists each description to store.
func WithEvents(store *events.Store) Option {
	return func(s *System) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) { s.logger = l }
}

// WithPrompt overrides the built-in prompt templates.
func WithPrompt(prompt string) Option {
	return func(s *System) { s.customPrompt = prompt }
}

// WithFirstPerson selects between the first-person and neutral
// prompt templates. Ignored when WithPrompt is set.
func WithFirstPerson(on bool) Option {
	return func(s *System) { s.firstPerson = on }
}

// WithDefaultInterval sets the loop cadence used when a start request
// does not carry one.
func WithDefaultInterval(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.defaultInterval = d
		}
	}
}

// New creates a System around a camera source and a provider.
func New(source camera.Source, provider inference.Provider, opts ...Option) *System {
	s := &System{
		source:          source,
		provider:        provider,
		defaultInterval: DefaultInterval,
		firstPerson:     true,
		logger:          log.Component("vision"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CaptureImage grabs one frame from the camera. Fails with a
// CaptureError when the device is unavailable or returns no frame.
func (s *System) CaptureImage(ctx context.Context) (*camera.Frame, error) {
	if s.source == nil {
		return nil, &CaptureError{Err: ErrNoSource}
	}

	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	frame, err := s.source.Capture(ctx)
	if err != nil {
		return nil, &CaptureError{Err: err}
	}
	return frame, nil
}

// AnalyzeImage describes a supplied JPEG using the configured prompt.
// It does not touch the camera or the status snapshot; those belong
// to the current-view pipeline.
func (s *System) AnalyzeImage(ctx context.Context, jpeg []byte) (Description, error) {
	if s.provider == nil {
		return Description{}, &AnalysisError{Err: ErrNoProvider}
	}
	if len(jpeg) == 0 {
		return Description{}, &AnalysisError{Err: inference.ErrNoImage}
	}

	result, err := s.provider.Describe(ctx, &inference.Request{
		Image:  jpeg,
		Prompt: s.prompt(),
	})
	if err != nil {
		return Description{}, &AnalysisError{Err: err}
	}

	return Description{
		Text:      result.Description,
		Timestamp: time.Now(),
		Provider:  result.Provider,
		Model:     result.Model,
	}, nil
}

// DescribeCurrentView captures a frame and analyzes it. A successful
// cycle updates the status snapshot, forwards the description to the
// notifier, and appends an event; a failed cycle records the error
// and leaves the last description untouched.
func (s *System) DescribeCurrentView(ctx context.Context) (Description, error) {
	return s.describe(ctx, events.SourceManual)
}

// describe runs one capture+analyze+status-update cycle. source tags
// the persisted event with who asked.
func (s *System) describe(ctx context.Context, source string) (Description, error) {
	if s.source == nil {
		return Description{}, &CaptureError{Err: ErrNoSource}
	}
	if s.provider == nil {
		return Description{}, &AnalysisError{Err: ErrNoProvider}
	}

	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	frame, err := s.source.Capture(ctx)
	if err != nil {
		cerr := &CaptureError{Err: err}
		s.recordError(ctx, cerr)
		return Description{}, cerr
	}

	result, err := s.provider.Describe(ctx, &inference.Request{
		Image:  frame.JPEG,
		Prompt: s.prompt(),
	})
	if err != nil {
		aerr := &AnalysisError{Err: err}
		s.recordError(ctx, aerr)
		return Description{}, aerr
	}

	desc := Description{
		Text:      result.Description,
		Timestamp: frame.Timestamp,
		Provider:  result.Provider,
		Model:     result.Model,
	}
	s.recordDescription(desc)
	s.Announce(desc.Text)
	s.persist(desc, source)

	return desc, nil
}

// Announce forwards text to the speech notifier without blocking the
// caller. Delivery failures are recorded as notification errors and
// never abort anything.
func (s *System) Announce(text string) {
	s.mu.RLock()
	notifier := s.notifier
	on := s.speechOn
	s.mu.RUnlock()

	if !on || notifier == nil || text == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), speech.DefaultTimeout)
		defer cancel()
		if err := notifier.Speak(ctx, text); err != nil {
			nerr := &NotificationError{Err: err}
			s.logger.Warn("speech delivery failed", "error", err)
			s.mu.Lock()
			s.lastError = nerr.Error()
			s.mu.Unlock()
		}
	}()
}

// persist appends a scene event. Log-only on failure; the event log
// is an observer, not a dependency.
func (s *System) persist(desc Description, source string) {
	if s.store == nil {
		return
	}
	ev := events.NewAt(events.TypeSceneDescribed, source, desc.Timestamp)
	ev.Description = desc.Text
	if err := s.store.Append(ev); err != nil {
		s.logger.Warn("event append failed", "error", err)
	}
}

// recordError stores the failure in the status snapshot, keeping the
// previous description. Cancellation during shutdown is not a
// failure worth recording.
func (s *System) recordError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// recordDescription stores a successful result and clears the error
// from any earlier failed cycle.
func (s *System) recordDescription(desc Description) {
	s.mu.Lock()
	s.lastDescription = desc.Text
	s.lastDescribedAt = desc.Timestamp
	s.describeCount++
	s.lastError = ""
	s.mu.Unlock()
}

// Status returns the current snapshot. Pure read, never blocks on
// captures in flight.
func (s *System) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		LoopState:       s.state.String(),
		LastDescription: s.lastDescription,
		LastError:       s.lastError,
		Interval:        s.defaultInterval.Seconds(),
		DescribeCount:   s.describeCount,
	}
	if !s.lastDescribedAt.IsZero() {
		st.DescribedAt = s.lastDescribedAt.UTC().Format(time.RFC3339Nano)
	}
	return st
}

// Health reports collaborator availability. Cheap checks only; no
// network calls.
func (s *System) Health() Health {
	s.mu.RLock()
	running := s.state == Running
	speechOn := s.speechOn && s.notifier != nil
	s.mu.RUnlock()

	return Health{
		CameraAvailable:   s.source != nil && s.source.Available(),
		ProviderAvailable: s.provider != nil,
		LoopRunning:       running,
		SpeechEnabled:     speechOn,
	}
}

// State returns the loop state.
func (s *System) State() LoopState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// DefaultInterval returns the cadence used when a start request does
// not carry an interval.
func (s *System) DefaultInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultInterval
}

// SetDefaultInterval updates the default cadence. Takes effect on
// the next start; a running loop keeps its interval.
func (s *System) SetDefaultInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	s.defaultInterval = d
	s.mu.Unlock()
	return nil
}

// FirstPerson reports which prompt template is active.
func (s *System) FirstPerson() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstPerson
}

// SetFirstPerson switches prompt templates at runtime.
func (s *System) SetFirstPerson(on bool) {
	s.mu.Lock()
	s.firstPerson = on
	s.mu.Unlock()
}

// CustomPrompt returns the prompt override, empty when the built-in
// templates are active.
func (s *System) CustomPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customPrompt
}

// SetCustomPrompt overrides the built-in templates at runtime. An
// empty string restores them.
func (s *System) SetCustomPrompt(prompt string) {
	s.mu.Lock()
	s.customPrompt = prompt
	s.mu.Unlock()
}

// SpeechEnabled reports whether descriptions are forwarded to the
// notifier.
func (s *System) SpeechEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speechOn && s.notifier != nil
}

// SetSpeechEnabled toggles forwarding at runtime. Enabling has no
// effect when no notifier is wired.
func (s *System) SetSpeechEnabled(on bool) {
	s.mu.Lock()
	s.speechOn = on
	s.mu.Unlock()
}

// prompt returns the active prompt template.
func (s *System) prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.customPrompt != "" {
		return s.customPrompt
	}
	if s.firstPerson {
		return PromptFirstPerson
	}
	return PromptNeutral
}

// Shutdown stops the loop if running. Collaborators are closed by
// their owner, not here.
func (s *System) Shutdown() {
	if err := s.StopContinuous(); err != nil && err != ErrNotRunning {
		s.logger.Warn("loop stop failed during shutdown", "error", err)
	}
}

// snippet trims long descriptions for log lines.
func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
