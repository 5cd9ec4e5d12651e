package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPauseController_Waits(t *testing.T) {
	t.Parallel()

	p := &timerPauseController{}
	start := time.Now()
	p.Pause(context.Background(), 30*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTimerPauseController_CancellationCutsShort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &timerPauseController{}
	start := time.Now()
	p.Pause(ctx, 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimerPauseController_ZeroDelayReturnsImmediately(t *testing.T) {
	t.Parallel()

	p := &timerPauseController{}
	start := time.Now()
	p.Pause(context.Background(), 0)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
