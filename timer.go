package evcore

import (
	"time"

	"github.com/evcore/evcore/evclock"
)

const timerStateOrderBits = 2

const timerStateOrderMask = (1 << timerStateOrderBits) - 1

// Timer states. The low two bits are the heap order class:
// Dispatch < TempUnset = TempSet < Pending. TempSet shares TempUnset's
// class but records that the handler re-armed the timer.
type timerState uint8

const (
	timerIdle      timerState = 0
	timerDispatch  timerState = 1
	timerTempUnset timerState = 2
	timerTempSet   timerState = 2 | (1 << timerStateOrderBits)
	timerPending   timerState = 3
)

func (s timerState) inHeap() bool {
	return s != timerIdle
}

// Timer invokes a handler on its loop's thread at or after a deadline.
// All methods must be called from the loop thread. The timer must not
// outlive its loop.
type Timer struct {
	loop      *EventLoop
	handler   func()
	deadline  evclock.Time
	state     timerState
	heapIndex int
}

// NewTimer creates an unarmed timer. onExpired runs on the loop thread;
// it may re-arm, unset, or close any timer, including this one.
func NewTimer(loop *EventLoop, onExpired func()) *Timer {
	if loop == nil || onExpired == nil {
		panic("evcore: NewTimer requires a loop and a handler")
	}
	return &Timer{
		loop:      loop,
		handler:   onExpired,
		state:     timerIdle,
		heapIndex: -1,
	}
}

// SetAt arms the timer to fire at or after t. Inside the timer's own
// handler this only records the re-arm; the loop folds it back into the
// pending set after dispatch.
func (tm *Timer) SetAt(t evclock.Time) {
	tm.deadline = t

	switch tm.state {
	case timerTempUnset, timerTempSet:
		// Ordering against Pending timers is re-established when the
		// loop promotes TempSet back to Pending. The deadline is part
		// of the heap key, so the node still has to be repositioned to
		// keep container/heap operations sound.
		tm.state = timerTempSet
		tm.loop.timers.fixup(tm)
	case timerIdle:
		tm.state = timerPending
		tm.loop.timers.insert(tm)
	default: // Dispatch or Pending
		tm.state = timerPending
		tm.loop.timers.fixup(tm)
	}
}

// SetAfter arms the timer relative to the loop's frozen event time, so
// relative deadlines computed during one iteration share a reference.
func (tm *Timer) SetAfter(d time.Duration) {
	tm.SetAt(tm.loop.eventTime.Add(d))
}

// Unset disarms the timer. No-op if not armed.
func (tm *Timer) Unset() {
	switch tm.state {
	case timerTempUnset, timerTempSet:
		tm.state = timerTempUnset
	case timerIdle:
	default:
		tm.loop.timers.remove(tm)
		tm.state = timerIdle
	}
}

// IsSet reports whether the timer is armed. A timer whose handler is
// running and has not re-armed it reports false.
func (tm *Timer) IsSet() bool {
	return tm.state != timerIdle && tm.state != timerTempUnset
}

// Deadline returns the most recently armed deadline. Only meaningful
// while the timer is set.
func (tm *Timer) Deadline() evclock.Time {
	return tm.deadline
}

// Close detaches the timer from the loop. Safe to call from within the
// timer's own handler. The timer must not be used afterwards.
func (tm *Timer) Close() {
	if tm.state != timerIdle {
		tm.loop.timers.remove(tm)
		tm.state = timerIdle
	}
}
