package crawler

import (
	"context"
	"time"
)

// pauseController abstracts how the crawl backs off between pages, so tests
// can substitute a recording implementation instead of sleeping.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

// Pause sleeps for delay, returning early when the context finishes.
func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
