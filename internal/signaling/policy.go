package signaling

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// ReconnectPolicy is capped exponential backoff. MaxAttempts of zero means
// no limit.
type ReconnectPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 6}
}

// NewBackoff returns a fresh, single-use backoff sequence.
func (p ReconnectPolicy) NewBackoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(p.MaxAttempts), b)
	}
	return b
}

// Unbounded is the same delays without an attempt cap.
func (p ReconnectPolicy) Unbounded() ReconnectPolicy {
	p.MaxAttempts = 0
	return p
}
