package vision

import (
	"context"
	"time"

	"github.com/nerostar/corpus-vision/pkg/events"
)

// StartContinuous starts the polling loop. The first describe cycle
// runs immediately, then one per interval. The given interval also
// becomes the new default. Fails with ErrAlreadyRunning while a loop
// is active and ErrInvalidInterval for non-positive intervals.
func (s *System) StartContinuous(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.state = Running
	s.defaultInterval = interval
	s.cancel = cancel
	s.done = done

	go s.runLoop(ctx, interval, done)
	return nil
}

// StopContinuous stops the loop and waits for it to exit. After it
// returns no further tick begins; a tick already in flight completes
// first (its context is cancelled, so blocked captures and API calls
// abort promptly). Fails with ErrNotRunning when no loop is active;
// the HTTP layer treats that as success to keep stop idempotent.
func (s *System) StopContinuous() error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = Stopped
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// runLoop drives describe cycles until the context is cancelled.
func (s *System) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	s.logger.Info("continuous vision started", "interval", interval)

	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("continuous vision stopped")
			return
		case <-ticker.C:
			// A stop racing the ticker must win: never start a
			// tick once cancellation is requested.
			if ctx.Err() != nil {
				s.logger.Info("continuous vision stopped")
				return
			}
			s.tick(ctx)
		}
	}
}

// tick runs one describe cycle. Failures are already recorded in
// status by describe; the loop only logs and keeps ticking.
func (s *System) tick(ctx context.Context) {
	desc, err := s.describe(ctx, events.SourceLoop)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("describe cycle failed", "error", err)
		return
	}
	s.logger.Info("scene described", "description", snippet(desc.Text, 80))
}
