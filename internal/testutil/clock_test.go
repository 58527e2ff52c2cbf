package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock(time.Second)
	assert.Equal(t, Epoch, clock.Peek())
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_Advances(t *testing.T) {
	clock := NewStepClock(time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(3*time.Second), clock.Peek())
}

func TestStepClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewStepClock(0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, Epoch, clock.Now())
	}
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(time.Minute)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every call got a distinct instant.
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
