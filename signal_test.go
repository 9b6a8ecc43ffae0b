package evcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalCoalescesBeforeDispatch(t *testing.T) {
	loop, _, tp := newTestLoop(t)

	var count int
	var s *AsyncSignal
	s = NewAsyncSignal(loop, func() {
		count++
		loop.Stop()
	})

	s.Signal()
	s.Signal()
	s.Signal()

	require.NoError(t, loop.Run())
	require.Equal(t, 1, count)
	require.True(t, loop.pendingList.lonely())
	require.True(t, loop.dispatchList.lonely())
	_ = tp
}

func TestSignalsFireInQueueOrder(t *testing.T) {
	loop, _, _ := newTestLoop(t)

	var order []string
	mk := func(name string, stop bool) *AsyncSignal {
		return NewAsyncSignal(loop, func() {
			order = append(order, name)
			if stop {
				loop.Stop()
			}
		})
	}

	s1 := mk("s1", false)
	s2 := mk("s2", false)
	s3 := mk("s3", true)

	s2.Signal()
	s1.Signal()
	s1.Signal() // coalesced
	s3.Signal()

	require.NoError(t, loop.Run())
	require.Equal(t, []string{"s2", "s1", "s3"}, order)
}

func TestSelfSignalDoesNotStarve(t *testing.T) {
	loop, clock, tp := newTestLoop(t)

	var sigCount, timCount int
	var s *AsyncSignal
	s = NewAsyncSignal(loop, func() {
		sigCount++
		s.Signal()
	})
	tm := NewTimer(loop, func() {
		timCount++
	})
	tm.SetAt(ms(5))

	clock.AdvanceTo(ms(10))
	s.Signal()

	tp.maxWaits = 0
	require.ErrorIs(t, loop.Run(), errWaitBudget)

	// Only the already-batched occurrence fired; the self-signal is
	// queued for the next iteration and timer work was not starved.
	require.Equal(t, 1, sigCount)
	require.Equal(t, 1, timCount)
	require.False(t, loop.pendingList.lonely())

	s.Reset()
	require.True(t, loop.pendingList.lonely())
}

func TestCrossThreadSignalWakesWait(t *testing.T) {
	loop, _, tp := newTestLoop(t)

	var count int
	var s *AsyncSignal
	s = NewAsyncSignal(loop, func() {
		count++
		loop.Stop()
	})

	far := NewTimer(loop, func() {})
	far.SetAt(ms(10_000))

	tp.blockOnWake = true

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Signal()
		close(done)
	}()

	start := time.Now()
	require.NoError(t, loop.Run())
	<-done

	require.Equal(t, 1, count)
	require.Less(t, time.Since(start), 5*time.Second)

	far.Unset()
}

func TestResetWithdrawsPendingSignal(t *testing.T) {
	loop, _, tp := newTestLoop(t)

	var count int
	s := NewAsyncSignal(loop, func() {
		count++
	})

	s.Signal()
	s.Reset()

	tp.maxWaits = 0
	require.ErrorIs(t, loop.Run(), errWaitBudget)
	require.Equal(t, 0, count)

	// Reset is idempotent and a closed signal stays detached.
	s.Reset()
	s.Close()
	require.True(t, loop.pendingList.lonely())
}

func TestMutexNotHeldDuringSignalHandler(t *testing.T) {
	loop, _, _ := newTestLoop(t)

	var s *AsyncSignal
	s = NewAsyncSignal(loop, func() {
		require.True(t, loop.asyncMu.TryLock())
		loop.asyncMu.Unlock()

		// Signaling from inside a handler must not deadlock.
		s.Signal()
		loop.Stop()
	})

	s.Signal()
	require.NoError(t, loop.Run())
	s.Reset()
}

func TestSignalHandlerNeverNested(t *testing.T) {
	loop, _, _ := newTestLoop(t)

	inHandler := false
	mk := func(stop bool) *AsyncSignal {
		var s *AsyncSignal
		s = NewAsyncSignal(loop, func() {
			require.False(t, inHandler)
			inHandler = true
			defer func() { inHandler = false }()
			if stop {
				loop.Stop()
			}
		})
		return s
	}

	a := mk(false)
	b := mk(true)
	a.Signal()
	b.Signal()

	require.NoError(t, loop.Run())
}
