package queue

import (
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffStrategy selects how the delay between attempts grows.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// MaxBackoff caps a single retry delay.
const MaxBackoff = time.Hour

// Policy is the delivery policy attached to every entry. It is independent of
// the broker implementation.
type Policy struct {
	MaxAttempts     int             `json:"max_attempts"`
	Backoff         BackoffStrategy `json:"backoff"`
	BaseDelay       time.Duration   `json:"base_delay"`
	RetainCompleted int             `json:"retain_completed"`
	RetainFailed    int             `json:"retain_failed"`
}

// DefaultPolicy returns 3 attempts with exponential backoff from 5s, keeping
// the last 100 completed and 50 failed entries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Backoff:         BackoffExponential,
		BaseDelay:       5 * time.Second,
		RetainCompleted: 100,
		RetainFailed:    50,
	}
}

// Validate checks that the policy can be applied.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("queue policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("queue policy: base delay must be positive, got %s", p.BaseDelay)
	}
	switch p.Backoff {
	case BackoffExponential, BackoffFixed:
	default:
		return fmt.Errorf("queue policy: unknown backoff strategy %q", p.Backoff)
	}
	if p.RetainCompleted < 0 || p.RetainFailed < 0 {
		return fmt.Errorf("queue policy: retention counts cannot be negative")
	}
	return nil
}

// Delay returns how long to wait before the next delivery once `attempt`
// deliveries have failed. Exponential backoff yields base, 2*base, 4*base...
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultPolicy().BaseDelay
	}

	var b retry.Backoff
	if p.Backoff == BackoffFixed {
		b = retry.NewConstant(base)
	} else {
		b = retry.NewExponential(base)
	}
	b = retry.WithCappedDuration(MaxBackoff, b)

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}
