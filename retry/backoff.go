package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff calculates the delay between retry attempts.
type Backoff interface {
	// Delay returns the wait before the next attempt. The attempt
	// parameter is zero-indexed (0 for the first retry).
	Delay(attempt uint) time.Duration
}

// ExpBackoff implements exponential backoff: Base * Factor^attempt,
// clamped between Base and Max.
type ExpBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func (b ExpBackoff) Delay(attempt uint) time.Duration {
	f := float64(b.Base) * math.Pow(b.Factor, float64(attempt))

	d := time.Duration(f)
	if d < b.Base {
		return b.Base
	} else if d > b.Max {
		return b.Max
	}

	return d
}

// ConstantBackoff waits the same duration between every attempt.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(uint) time.Duration {
	return time.Duration(b)
}

// Jitter adds randomness to backoff delays to avoid retry storms.
//   - Negative: no jitter (exact delay)
//   - 1.0: full jitter, random in [0, delay)
//   - (0, 1): weighted blend of random and deterministic delay
type Jitter float64

// EqualJitter blends 50% random with 50% deterministic delay.
const EqualJitter Jitter = 0.5

// FullJitter picks a completely random delay between 0 and the
// calculated delay.
const FullJitter Jitter = 1.0

// WithoutJitter uses the exact calculated delay. Useful in tests where
// deterministic timing matters.
const WithoutJitter Jitter = -1.0

func (j Jitter) apply(d time.Duration) time.Duration {
	if j <= 0.0 {
		return d
	}

	//nolint:gosec // math/rand is sufficient for jitter
	r := rand.Float64() * float64(d)

	if j < 1.0 {
		r = float64(j)*r + float64(1.0-j)*float64(d)
	}

	return time.Duration(r)
}
