package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityBound(t *testing.T) {
	r := New(2)

	_, ok1 := r.TryReserveSlot()
	_, ok2 := r.TryReserveSlot()
	_, ok3 := r.TryReserveSlot()

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "a third reservation must fail while capacity is 2")
}

func TestExecIDUniqueness(t *testing.T) {
	r := New(2)

	tok1, _ := r.TryReserveSlot()
	tok2, _ := r.TryReserveSlot()

	_, err := r.Bind(tok1, "exec-1", func() {})
	require.NoError(t, err)

	_, err = r.Bind(tok2, "exec-1", func() {})
	assert.Error(t, err, "binding the same execution id twice while active must fail")
}

func TestSlotBalanceAfterRelease(t *testing.T) {
	r := New(1)

	tok, ok := r.TryReserveSlot()
	require.True(t, ok)
	_, err := r.Bind(tok, "exec-1", func() {})
	require.NoError(t, err)

	_, ok = r.TryReserveSlot()
	assert.False(t, ok, "capacity is exhausted while the slot is bound")

	r.Release(tok)

	newTok, ok := r.TryReserveSlot()
	assert.True(t, ok, "the slot must be available again after Release")
	assert.NotEmpty(t, newTok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New(1)
	tok, _ := r.TryReserveSlot()
	_, err := r.Bind(tok, "exec-1", func() {})
	require.NoError(t, err)

	r.Release(tok)
	assert.NotPanics(t, func() { r.Release(tok) })

	assert.Equal(t, 0, r.Occupancy())
}

func TestUnreserveReturnsUnboundToken(t *testing.T) {
	r := New(1)
	tok, ok := r.TryReserveSlot()
	require.True(t, ok)

	r.Unreserve(tok)

	_, ok = r.TryReserveSlot()
	assert.True(t, ok, "an unreserved token must be available for reservation again")
}

func TestLookupByExecID(t *testing.T) {
	r := New(1)
	tok, _ := r.TryReserveSlot()
	_, err := r.Bind(tok, "exec-1", func() {})
	require.NoError(t, err)

	aw, ok := r.LookupByExecID("exec-1")
	require.True(t, ok)
	assert.Equal(t, "exec-1", aw.ExecID)

	_, ok = r.LookupByExecID("missing")
	assert.False(t, ok)
}

func TestConcurrentReserveNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	r := New(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0

	for i := 0; i < capacity*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TryReserveSlot(); ok {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, reserved)
}
