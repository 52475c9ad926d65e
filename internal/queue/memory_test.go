package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker() (*MemoryBroker, *fakeClock) {
	clock := newFakeClock()
	b := NewMemoryBroker()
	b.SetClock(clock.Now)
	return b, clock
}

func testEntry() Entry {
	return Entry{ID: uuid.New(), JobID: uuid.New(), ReportType: "student-progress"}
}

func TestMemoryBroker_ClaimIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()

	require.NoError(t, b.Push(ctx, testEntry()))

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := b.Claim(ctx)
			assert.NoError(t, err)
			if e != nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claimed)
}

func TestMemoryBroker_ClaimOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()

	first, second := testEntry(), testEntry()
	require.NoError(t, b.Push(ctx, first))
	require.NoError(t, b.Push(ctx, second))

	e, err := b.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, e.ID)
	assert.Equal(t, 1, e.Attempt)
	assert.Equal(t, StateActive, e.State)
	assert.Equal(t, DefaultPolicy(), e.Policy)
}

func TestMemoryBroker_DuplicatePush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()

	e := testEntry()
	require.NoError(t, b.Push(ctx, e))
	assert.ErrorIs(t, b.Push(ctx, e), ErrDuplicateEntry)
}

func TestMemoryBroker_RetryDelay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clock := newTestBroker()

	require.NoError(t, b.Push(ctx, testEntry()))
	e, err := b.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Retry(ctx, e.ID, e.Policy.Delay(e.Attempt), "boom"))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)

	next, err := b.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "entry should not be due before its delay")

	clock.Advance(5 * time.Second)
	next, err = b.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, "boom", next.LastError)
}

func TestMemoryBroker_SettleRequiresActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()

	e := testEntry()
	require.NoError(t, b.Push(ctx, e))

	assert.ErrorIs(t, b.Ack(ctx, e.ID), ErrEntryNotActive)
	assert.ErrorIs(t, b.Fail(ctx, uuid.New(), "x"), ErrEntryNotFound)
}

func TestMemoryBroker_Retention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clock := newTestBroker()

	policy := DefaultPolicy()
	policy.RetainCompleted = 2
	policy.RetainFailed = 1

	var completed []uuid.UUID
	for i := 0; i < 4; i++ {
		e := testEntry()
		e.Policy = policy
		require.NoError(t, b.Push(ctx, e))
		claimed, err := b.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, b.Ack(ctx, claimed.ID))
		completed = append(completed, claimed.ID)
		clock.Advance(time.Second)
	}
	for i := 0; i < 3; i++ {
		e := testEntry()
		e.Policy = policy
		require.NoError(t, b.Push(ctx, e))
		claimed, err := b.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, b.Fail(ctx, claimed.ID, "bad"))
		clock.Advance(time.Second)
	}

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)

	list, err := b.List(ctx, StateCompleted, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, completed[3], list[0].ID, "most recent first")
	assert.Equal(t, completed[2], list[1].ID)
}

func TestMemoryBroker_RemoveByJobSkipsActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()

	jobID := uuid.New()
	active := Entry{ID: uuid.New(), JobID: jobID}
	require.NoError(t, b.Push(ctx, active))
	_, err := b.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Push(ctx, Entry{ID: uuid.New(), JobID: jobID}))

	removed, err := b.RemoveByJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	live, err := b.HasLive(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, live, "active entry survives")

	require.NoError(t, b.Ack(ctx, active.ID))
	live, err = b.HasLive(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestMemoryBroker_ExpiredLeaseIsRedelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clock := newTestBroker()

	require.NoError(t, b.Push(ctx, testEntry()))
	first, err := b.Claim(ctx)
	require.NoError(t, err)

	again, err := b.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	clock.Advance(DefaultLease + time.Second)
	again, err = b.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestMemoryBroker_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBroker()
	outage := errors.New("connection refused")

	b.SetUnavailable(outage)
	assert.ErrorIs(t, b.Push(ctx, testEntry()), outage)
	_, err := b.Stats(ctx)
	assert.ErrorIs(t, err, outage)

	b.SetUnavailable(nil)
	assert.NoError(t, b.Push(ctx, testEntry()))
}
