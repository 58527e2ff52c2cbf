package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is the retry delay policy shared by every task.
type Backoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Jitter is the randomization factor in [0, 1].
	Jitter float64
}

// DefaultBackoff waits 500ms, then 1s, 2s, ... up to 30s between attempts.
var DefaultBackoff = Backoff{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
	Jitter:          0.5,
}

// policy builds the backoff for one task run: at most retries retries.
func (b Backoff) policy(retries int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if b.InitialInterval > 0 {
		exp.InitialInterval = b.InitialInterval
	}
	if b.MaxInterval > 0 {
		exp.MaxInterval = b.MaxInterval
	}
	if b.Multiplier >= 1 {
		exp.Multiplier = b.Multiplier
	}
	if b.Jitter >= 0 && b.Jitter <= 1 {
		exp.RandomizationFactor = b.Jitter
	}
	// Attempts are bounded by count only.
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(max(retries, 0)))
}
