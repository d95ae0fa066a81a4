package lenslink

import (
	"math"
	"time"
)

// ReconnectDelayStrategy computes how long to wait before a reconnect
// attempt. Attempts are counted from zero for the first retry.
type ReconnectDelayStrategy interface {
	DelayFor(attempt uint32) time.Duration
	Reset()
}

// FixedDelayStrategy waits the same delay before every reconnect attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// DelayFor returns the configured delay regardless of attempt count.
func (strategy *FixedDelayStrategy) DelayFor(attempt uint32) time.Duration {
	if strategy == nil {
		return 0
	}
	return strategy.Delay
}

// Reset is a no-op for fixed delays.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy waits BaseDelay * Factor^attempt, capped at
// MaxDelay.
type ExponentialDelayStrategy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
	}
}

// DelayFor returns the backoff delay for the given attempt.
func (strategy *ExponentialDelayStrategy) DelayFor(attempt uint32) time.Duration {
	if strategy == nil {
		return 0
	}

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		scaled := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if scaled > float64(strategy.MaxDelay) {
			scaled = float64(strategy.MaxDelay)
		}
		delay = time.Duration(scaled)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Reset is a no-op; the owning session tracks the attempt counter.
func (strategy *ExponentialDelayStrategy) Reset() {}
