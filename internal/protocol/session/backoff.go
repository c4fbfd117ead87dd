package session

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maxBackoff caps an uncapped exponential schedule.
const maxBackoff = time.Hour

// BackoffConfig defines retry delay behavior. Multiplier 1 with no jitter
// gives a fixed delay between attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// FixedBackoff waits d before every retry. Radio retries use it so a
// retried chunk keeps the same airtime spacing as the first attempt.
func FixedBackoff(d time.Duration) BackoffConfig {
	return BackoffConfig{InitialDelay: d, Multiplier: 1, MaxDelay: d}
}

func (b BackoffConfig) Validate() error {
	if b.InitialDelay < 0 || b.MaxDelay < 0 {
		return fmt.Errorf("backoff: delays must not be negative")
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier %.2f below 1", b.Multiplier)
	}
	return nil
}

// Delay returns the wait after failed attempt n (1-based). Growth stops at
// MaxDelay. Jitter draws from [d/2, d), so it never exceeds the cap.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	limit := b.MaxDelay
	if limit <= 0 {
		limit = maxBackoff
	}
	d := float64(b.InitialDelay)
	if n > 1 && b.Multiplier > 1 {
		d *= math.Pow(b.Multiplier, float64(n-1))
	}
	d = math.Min(d, float64(limit))
	if b.Jitter {
		f := 0.75
		if rng != nil {
			f = 0.5 + rng.Float64()/2
		}
		d *= f
	}
	return time.Duration(d)
}
