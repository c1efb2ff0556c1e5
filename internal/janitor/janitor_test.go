package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(_ context.Context) (int, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return 1, nil
}

func TestRunSweepsOnSchedule(t *testing.T) {
	purger := &countingPurger{}
	j := New(purger, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return purger.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on context cancellation")
	}
}

func TestRunContinuesAfterSweepFailure(t *testing.T) {
	purger := &countingPurger{err: errors.New("store unavailable")}
	j := New(purger, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	// Failures must not break the schedule.
	assert.Eventually(t, func() bool {
		return purger.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
