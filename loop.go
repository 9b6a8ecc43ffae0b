package evcore

import (
	"sync"

	"github.com/evcore/evcore/evclock"
	"github.com/evcore/evcore/poller"
)

// EventLoop multiplexes timers, fd readiness and cross-thread signals
// onto a single thread of execution. All methods except those documented
// otherwise must be called from the goroutine that calls Run.
type EventLoop struct {
	poll  poller.Poller
	clock evclock.Clock

	timers       timerHeap
	watchers     int
	stopFlag     bool
	eventTime    evclock.Time
	lastWaitTime evclock.Time

	asyncMu      sync.Mutex
	pendingList  signalNode
	dispatchList signalNode
}

func New(opts *Options) (*EventLoop, error) {
	if opts == nil {
		opts = NewOptions()
	}
	clock := opts.Clock
	if clock == nil {
		clock = evclock.System()
	}
	newPoller := opts.NewPoller
	if newPoller == nil {
		newPoller = poller.New
	}

	loop := &EventLoop{
		clock:        clock,
		lastWaitTime: evclock.MaxTime,
	}
	loop.eventTime = clock.Now()
	loop.pendingList.initLonely()
	loop.dispatchList.initLonely()

	poll, err := newPoller(clock, loop)
	if err != nil {
		return nil, err
	}
	loop.poll = poll

	return loop, nil
}

// Now reads the clock directly.
func (lp *EventLoop) Now() evclock.Time {
	return lp.clock.Now()
}

// EventTime returns the instant sampled at the start of the current
// iteration. Frozen while handlers run, so relative deadlines armed
// during one iteration share a reference.
func (lp *EventLoop) EventTime() evclock.Time {
	return lp.eventTime
}

// Stop makes Run return no later than the next handler boundary. Sticky;
// must be called from the loop thread, typically inside a handler.
func (lp *EventLoop) Stop() {
	lp.stopFlag = true
}

// Stopping reports the stop flag. Part of the poller.Control surface.
func (lp *EventLoop) Stopping() bool {
	return lp.stopFlag
}

// Run dispatches timers, fd events and async signals until Stop is
// called. Returns nil when stopped, or the fatal provider error.
func (lp *EventLoop) Run() error {
	if lp.stopFlag {
		return nil
	}

	for {
		lp.eventTime = lp.clock.Now()

		lp.prepareTimersForDispatch(lp.eventTime)

		if !lp.dispatchTimers() {
			return nil
		}

		if !lp.poll.DispatchEvents() {
			return nil
		}

		firstTime, timeChanged := lp.prepareTimersForWait()

		if err := lp.poll.Wait(firstTime, timeChanged); err != nil {
			return err
		}
	}
}

// Close releases the loop's poller. All timers, watchers and signals
// must already be detached.
func (lp *EventLoop) Close() error {
	if !lp.timers.empty() {
		panic("evcore: close of event loop with live timers")
	}
	if lp.watchers != 0 {
		panic("evcore: close of event loop with registered fd watchers")
	}
	if !lp.pendingList.lonely() || !lp.dispatchList.lonely() {
		panic("evcore: close of event loop with live async signals")
	}
	return lp.poll.Close()
}

// prepareTimersForDispatch marks every due Pending timer as Dispatch.
// Dispatch is the smallest order class, so due timers rise to the root.
func (lp *EventLoop) prepareTimersForDispatch(now evclock.Time) {
	lp.timers.findAllLE(now, func(tm *Timer) {
		tm.state = timerDispatch
	})
}

// dispatchTimers fires every timer marked Dispatch, in heap order. Each
// timer is parked in TempUnset before its handler runs; the fixup sinks
// it below the remaining Dispatch timers and uncovers the next one.
// Returns false iff a handler stopped the loop.
func (lp *EventLoop) dispatchTimers() bool {
	for {
		tm := lp.timers.first()
		if tm == nil {
			break
		}
		if !tm.state.inHeap() {
			panic("evcore: idle timer in heap")
		}
		if tm.state != timerDispatch {
			break
		}

		tm.state = timerTempUnset
		lp.timers.fixup(tm)

		tm.handler()

		if lp.stopFlag {
			return false
		}
	}

	return true
}

// prepareTimersForWait resolves the transient handler states: TempUnset
// timers leave the heap, TempSet timers become Pending at their recorded
// deadline. Returns the nearest Pending deadline (MaxTime if none) and
// whether it moved since the last wait.
func (lp *EventLoop) prepareTimersForWait() (evclock.Time, bool) {
	firstTime := evclock.MaxTime

	for {
		tm := lp.timers.first()
		if tm == nil {
			break
		}

		switch tm.state {
		case timerTempUnset:
			lp.timers.remove(tm)
			tm.state = timerIdle
		case timerTempSet:
			tm.state = timerPending
			lp.timers.fixup(tm)
		case timerPending:
			firstTime = tm.deadline
			return firstTime, lp.noteWaitTime(firstTime)
		default:
			panic("evcore: unexpected timer state before wait")
		}
	}

	return firstTime, lp.noteWaitTime(firstTime)
}

func (lp *EventLoop) noteWaitTime(firstTime evclock.Time) bool {
	changed := firstTime != lp.lastWaitTime
	lp.lastWaitTime = firstTime
	return changed
}

// DispatchAsyncSignals drains the batch of signals pending at the moment
// of the call. Part of the poller.Control surface; must only be invoked
// by the loop's poller, on the loop thread. Signals raised by a handler
// (including self-signaling) land in the next batch, so a signal cannot
// starve timer or fd work. Returns false iff a handler stopped the loop.
func (lp *EventLoop) DispatchAsyncSignals() bool {
	if !lp.dispatchList.lonely() {
		panic("evcore: nested async signal dispatch")
	}

	lp.asyncMu.Lock()

	if lp.pendingList.lonely() {
		lp.asyncMu.Unlock()
		return true
	}

	lp.dispatchList.adoptAll(&lp.pendingList)

	for {
		node := lp.dispatchList.next
		if node == &lp.dispatchList {
			break
		}

		node.unlink()
		node.markRemoved()
		sig := node.owner

		lp.asyncMu.Unlock()

		sig.handler()

		if lp.stopFlag {
			return false
		}

		lp.asyncMu.Lock()
	}

	lp.asyncMu.Unlock()
	return true
}
