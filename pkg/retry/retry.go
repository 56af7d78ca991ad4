package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds exponential backoff parameters.
type Config struct {
	MaxAttempts  int           // attempts before giving up (0 = try once)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
	Multiplier   float64       // typically 2.0
	Jitter       bool          // randomize delays to avoid thundering herd
}

// DefaultConfig matches the signaling reconnect policy: doubling delays
// capped at 30s, bounded attempt count.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the backoff delay for the given zero-based attempt.
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	delay := time.Duration(d)
	if c.Jitter && delay > 0 {
		jitter := delay / 4
		delay = delay - jitter + time.Duration(rand.Int63n(int64(2*jitter)))
	}
	return delay
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The delay before retry n is Delay(n-1).
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(cfg.Delay(attempt)):
		}
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}
