package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker. Entries are lost on restart, which
// leaves affected jobs pending until they are retried or recovered.
type MemoryBroker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	seq     map[uuid.UUID]uint64
	next    uint64
	lease   time.Duration
	now     func() time.Time
	wake    chan struct{}
	down    error
}

// NewMemoryBroker creates an empty broker with the default lease.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		entries: make(map[uuid.UUID]*Entry),
		seq:     make(map[uuid.UUID]uint64),
		lease:   DefaultLease,
		now:     func() time.Time { return time.Now().UTC() },
		wake:    make(chan struct{}, 1),
	}
}

// SetClock replaces the broker's time source. Intended for tests.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetUnavailable makes every operation fail with err until called with nil.
// Intended for tests of broker outages.
func (b *MemoryBroker) SetUnavailable(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = err
}

// Wake implements Waker.
func (b *MemoryBroker) Wake() <-chan struct{} {
	return b.wake
}

func (b *MemoryBroker) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Push implements Broker.
func (b *MemoryBroker) Push(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}

	if _, exists := b.entries[e.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	if e.Policy == (Policy{}) {
		e.Policy = DefaultPolicy()
	}
	now := b.now()
	if e.RunAt.IsZero() {
		e.RunAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.State = StateWaiting
	e.Attempt = 0

	b.entries[e.ID] = &e
	b.next++
	b.seq[e.ID] = b.next
	b.signal()
	return nil
}

// Claim implements Broker. Due entries are handed out oldest RunAt first.
func (b *MemoryBroker) Claim(_ context.Context) (*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}

	now := b.now()
	var pick *Entry
	for _, e := range b.entries {
		if !b.due(e, now) {
			continue
		}
		if pick == nil || e.RunAt.Before(pick.RunAt) ||
			(e.RunAt.Equal(pick.RunAt) && b.seq[e.ID] < b.seq[pick.ID]) {
			pick = e
		}
	}
	if pick == nil {
		return nil, nil
	}

	lease := now.Add(b.lease)
	pick.State = StateActive
	pick.Attempt++
	pick.LeaseUntil = &lease

	out := *pick
	return &out, nil
}

func (b *MemoryBroker) due(e *Entry, now time.Time) bool {
	switch e.State {
	case StateWaiting:
		return !e.RunAt.After(now)
	case StateActive:
		return e.LeaseUntil != nil && e.LeaseUntil.Before(now)
	default:
		return false
	}
}

func (b *MemoryBroker) active(id uuid.UUID) (*Entry, error) {
	e, ok := b.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if e.State != StateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrEntryNotActive, id, e.State)
	}
	return e, nil
}

// Ack implements Broker.
func (b *MemoryBroker) Ack(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}

	e, err := b.active(id)
	if err != nil {
		return err
	}
	b.finish(e, StateCompleted, "")
	return nil
}

// Retry implements Broker.
func (b *MemoryBroker) Retry(_ context.Context, id uuid.UUID, delay time.Duration, cause string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}

	e, err := b.active(id)
	if err != nil {
		return err
	}
	e.State = StateWaiting
	e.RunAt = b.now().Add(delay)
	e.LeaseUntil = nil
	e.LastError = cause
	b.signal()
	return nil
}

// Fail implements Broker.
func (b *MemoryBroker) Fail(_ context.Context, id uuid.UUID, cause string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}

	e, err := b.active(id)
	if err != nil {
		return err
	}
	b.finish(e, StateFailed, cause)
	return nil
}

// finish settles e and trims finished entries beyond the policy's retention.
func (b *MemoryBroker) finish(e *Entry, state State, cause string) {
	now := b.now()
	e.State = state
	e.FinishedAt = &now
	e.LeaseUntil = nil
	if cause != "" {
		e.LastError = cause
	}

	keep := e.Policy.RetainCompleted
	if state == StateFailed {
		keep = e.Policy.RetainFailed
	}

	finished := b.collect(state)
	for i := keep; i < len(finished); i++ {
		delete(b.entries, finished[i].ID)
		delete(b.seq, finished[i].ID)
	}
}

// collect returns entries in state, most recent first.
func (b *MemoryBroker) collect(state State) []*Entry {
	now := b.now()
	var out []*Entry
	for _, e := range b.entries {
		switch {
		case state == StateDelayed && e.State == StateWaiting && e.RunAt.After(now):
		case state == StateWaiting && e.State == StateWaiting && !e.RunAt.After(now):
		case state != StateDelayed && state != StateWaiting && e.State == state:
		default:
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := sortTime(out[i]), sortTime(out[j])
		if ti.Equal(tj) {
			return b.seq[out[i].ID] > b.seq[out[j].ID]
		}
		return ti.After(tj)
	})
	return out
}

func sortTime(e *Entry) time.Time {
	if e.FinishedAt != nil {
		return *e.FinishedAt
	}
	return e.CreatedAt
}

// RemoveByJob implements Broker.
func (b *MemoryBroker) RemoveByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return 0, b.down
	}

	removed := 0
	for id, e := range b.entries {
		if e.JobID == jobID && e.State == StateWaiting {
			delete(b.entries, id)
			delete(b.seq, id)
			removed++
		}
	}
	return removed, nil
}

// HasLive implements Broker.
func (b *MemoryBroker) HasLive(_ context.Context, jobID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return false, b.down
	}

	for _, e := range b.entries {
		if e.JobID == jobID && (e.State == StateWaiting || e.State == StateActive) {
			return true, nil
		}
	}
	return false, nil
}

// Stats implements Broker.
func (b *MemoryBroker) Stats(_ context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return Stats{}, b.down
	}

	now := b.now()
	var s Stats
	for _, e := range b.entries {
		switch e.State {
		case StateWaiting:
			if e.RunAt.After(now) {
				s.Delayed++
			} else {
				s.Waiting++
			}
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

// List implements Broker.
func (b *MemoryBroker) List(_ context.Context, state State, limit int) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}

	found := b.collect(state)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]Entry, len(found))
	for i, e := range found {
		out[i] = *e
	}
	return out, nil
}
