package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(Epoch)

	got := clock.Advance(3 * time.Second)
	assert.Equal(t, Epoch.Add(3*time.Second), got)
	assert.Equal(t, got, clock.Now())

	// Negative durations never move the clock back.
	clock.Advance(-time.Hour)
	assert.Equal(t, got, clock.Now())
}

func TestManualClock_SetOnlyMovesForward(t *testing.T) {
	clock := NewManualClock(Epoch)

	clock.Set(Epoch.Add(time.Minute))
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())

	clock.Set(Epoch)
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(Epoch)
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Now())
}

func TestSequentialIDGenerator(t *testing.T) {
	gen := NewSequentialIDGenerator("")
	assert.Equal(t, "cohort-0001", gen.Generate())
	assert.Equal(t, "cohort-0002", gen.Generate())

	gen.Reset()
	assert.Equal(t, "cohort-0001", gen.Generate())

	named := NewSequentialIDGenerator("batch")
	assert.Equal(t, "batch-0001", named.Generate())
}
