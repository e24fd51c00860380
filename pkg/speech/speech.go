// Package speech pushes spoken announcements to a local TTS daemon.
//
// The daemon owns voice synthesis and playback; this package only
// delivers the text. Callers treat delivery as best-effort and must
// not let a dead daemon block the vision loop.
package speech

import "context"

// Notifier delivers a description to be spoken aloud.
type Notifier interface {
	// Speak announces text. Empty text is silently dropped.
	Speak(ctx context.Context, text string) error

	// Close releases the underlying connection.
	Close() error
}

// Nop discards announcements. Used when speech is disabled.
type Nop struct{}

func (Nop) Speak(context.Context, string) error { return nil }
func (Nop) Close() error                        { return nil }

var _ Notifier = Nop{}
