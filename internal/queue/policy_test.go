package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDelay(t *testing.T) {
	t.Parallel()

	exp := DefaultPolicy()
	fixed := DefaultPolicy()
	fixed.Backoff = BackoffFixed

	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"exponential first", exp, 1, 5 * time.Second},
		{"exponential second", exp, 2, 10 * time.Second},
		{"exponential third", exp, 3, 20 * time.Second},
		{"exponential capped", exp, 30, MaxBackoff},
		{"zero attempt treated as first", exp, 0, 5 * time.Second},
		{"fixed first", fixed, 1, 5 * time.Second},
		{"fixed third", fixed, 3, 5 * time.Second},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.policy.Delay(tc.attempt))
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"no attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"zero delay", func(p *Policy) { p.BaseDelay = 0 }},
		{"unknown backoff", func(p *Policy) { p.Backoff = "linear" }},
		{"negative retention", func(p *Policy) { p.RetainFailed = -1 }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestIsFinal(t *testing.T) {
	t.Parallel()

	transient := errors.New("connection reset")
	e := &Entry{Policy: DefaultPolicy(), Attempt: 1}

	assert.False(t, IsFinal(e, transient))
	assert.True(t, IsFinal(e, Permanent(transient)))
	assert.True(t, errors.Is(Permanent(transient), transient))
	assert.Nil(t, Permanent(nil))

	e.Attempt = 3
	assert.True(t, IsFinal(e, transient))
}
