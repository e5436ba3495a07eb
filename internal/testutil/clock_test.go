package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_AdvancesOnRead(t *testing.T) {
	clock := NewStepClock(Epoch, time.Millisecond)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Millisecond), clock.Peek())
}

func TestStepClock_AdvanceAndReset(t *testing.T) {
	clock := NewStepClock(Epoch, 0)

	clock.Advance(5 * time.Second)
	assert.Equal(t, Epoch.Add(5*time.Second), clock.Now())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_Sleep(t *testing.T) {
	clock := NewStepClock(Epoch, 0)

	require.NoError(t, clock.Sleep(context.Background(), 3*time.Second))
	assert.Equal(t, Epoch.Add(3*time.Second), clock.Peek())

	require.NoError(t, clock.Sleep(context.Background(), -time.Second))
	assert.Equal(t, Epoch.Add(3*time.Second), clock.Peek(), "negative waits are no-ops")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, clock.Sleep(ctx, time.Second), context.Canceled)
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(Epoch, time.Nanosecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	seen := make(chan time.Time, numGoroutines*callsPerGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	require.Len(t, unique, numGoroutines*callsPerGoroutine, "every read must be distinct")
}

func TestSequenceIDs(t *testing.T) {
	ids := NewSequenceIDs("op")
	assert.Equal(t, "op-0001", ids.Generate())
	assert.Equal(t, "op-0002", ids.Generate())
	assert.Equal(t, "ch-0001", NewSequenceIDs("ch").Generate())
}

func TestScriptedExecutor(t *testing.T) {
	s := NewScriptedExecutor().
		Script("sms", Fail("boom"), Fail("again"), OK).
		Script("pdf", Fail("broken"))

	assert.EqualError(t, s.Next("sms"), "boom")
	assert.EqualError(t, s.Next("sms"), "again")
	assert.NoError(t, s.Next("sms"))
	assert.NoError(t, s.Next("sms"), "last outcome repeats")
	assert.Equal(t, 4, s.Calls("sms"))

	assert.EqualError(t, s.Next("pdf"), "broken")
	assert.EqualError(t, s.Next("pdf"), "broken")

	assert.NoError(t, s.Next("email"), "unscripted keys succeed")
	assert.Equal(t, 1, s.Calls("email"))
}

func TestScriptedExecutor_Panic(t *testing.T) {
	s := NewScriptedExecutor().Script("pdf", Outcome{Fail: "renderer crashed", Panic: true})
	assert.PanicsWithValue(t, "renderer crashed", func() { _ = s.Next("pdf") })
}
