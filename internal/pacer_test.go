package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerFirstFrameDoesNotWait(t *testing.T) {
	p := NewPacer(time.Second)
	start := time.Now()
	assert.NoError(t, p.Wait(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerWaitsForTimestamp(t *testing.T) {
	p := NewPacer(time.Second)
	ctx := context.Background()
	start := time.Now()
	assert.NoError(t, p.Wait(ctx, 0))
	assert.NoError(t, p.Wait(ctx, 60*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerClampsJumps(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	assert.NoError(t, p.Wait(ctx, 0))
	assert.NoError(t, p.Wait(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacerReanchorsWhenTimestampGoesBack(t *testing.T) {
	p := NewPacer(time.Second)
	ctx := context.Background()
	assert.NoError(t, p.Wait(ctx, 10*time.Second))

	start := time.Now()
	assert.NoError(t, p.Wait(ctx, 0))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// the new timeline starts at 0
	assert.NoError(t, p.Wait(ctx, 40*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPacerWaitCancelled(t *testing.T) {
	p := NewPacer(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, p.Wait(ctx, 0))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	assert.ErrorIs(t, p.Wait(ctx, 5*time.Second), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacerShouldDrop(t *testing.T) {
	p := NewPacer(time.Second)
	assert.False(t, p.ShouldDrop(0, 10*time.Millisecond), "not anchored")

	assert.NoError(t, p.Wait(context.Background(), 0))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, p.ShouldDrop(0, 20*time.Millisecond))
	assert.False(t, p.ShouldDrop(0, 0), "threshold disabled")
	assert.False(t, p.ShouldDrop(time.Second, 20*time.Millisecond), "not yet due")
}

func TestPacerShouldDropReanchorsPastMaxWait(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	assert.NoError(t, p.Wait(context.Background(), 0))
	time.Sleep(60 * time.Millisecond)

	assert.False(t, p.ShouldDrop(0, 10*time.Millisecond))
	// anchored on the late frame, so it is on time now
	assert.False(t, p.ShouldDrop(0, 10*time.Millisecond))
}

func TestPacerReset(t *testing.T) {
	p := NewPacer(time.Second)
	assert.NoError(t, p.Wait(context.Background(), 0))
	p.Reset()
	assert.False(t, p.ShouldDrop(0, time.Nanosecond))
	assert.Equal(t, time.Second, p.maxWait)
}
