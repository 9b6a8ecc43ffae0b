package evcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evcore/evcore/evclock"
	"github.com/evcore/evcore/poller"
	"github.com/evcore/evcore/util"
)

// errWaitBudget terminates Run deterministically after a configured
// number of waits, letting tests observe state with finalize completed.
var errWaitBudget = errors.New("wait budget exhausted")

type testReady struct {
	fd     int
	events poller.Event
}

type testWatch struct {
	events poller.Event
	cb     poller.Callback
}

// testPoller is a deterministic in-process provider. Wait advances the
// simulated clock to the requested deadline instead of sleeping, except
// when blockOnWake makes it behave like a real blocking poller.
type testPoller struct {
	clock *evclock.Simulated
	ctl   poller.Control

	watches map[int]*testWatch
	ready   []testReady
	calls   []string

	wake        chan struct{}
	signalCheck util.AtomicBool

	maxWaits    int
	waits       int
	blockOnWake bool

	lastDeadline evclock.Time
	lastChanged  bool
	onWait       func(deadline evclock.Time, changed bool)
}

func newTestLoop(t *testing.T) (*EventLoop, *evclock.Simulated, *testPoller) {
	t.Helper()

	clock := new(evclock.Simulated)
	tp := &testPoller{
		clock:    clock,
		watches:  make(map[int]*testWatch),
		wake:     make(chan struct{}, 1),
		maxWaits: 1 << 20,
	}

	loop, err := New(NewOptions().
		SetClock(clock).
		SetNewPoller(func(_ evclock.Clock, ctl poller.Control) (poller.Poller, error) {
			tp.ctl = ctl
			return tp, nil
		}))
	require.NoError(t, err)

	return loop, clock, tp
}

func (tp *testPoller) injectReady(fd int, events poller.Event) {
	tp.ready = append(tp.ready, testReady{fd: fd, events: events})
}

func (tp *testPoller) InitFd(fd int, events poller.Event, cb poller.Callback) error {
	if _, ok := tp.watches[fd]; ok {
		return poller.ErrFdRegistered
	}
	tp.watches[fd] = &testWatch{events: events, cb: cb}
	tp.calls = append(tp.calls, "init")
	return nil
}

func (tp *testPoller) UpdateEvents(fd int, events poller.Event) error {
	w, ok := tp.watches[fd]
	if !ok {
		return poller.ErrFdNotRegistered
	}
	w.events = events
	tp.calls = append(tp.calls, "update")
	return nil
}

func (tp *testPoller) ResetFd(fd int) error {
	if _, ok := tp.watches[fd]; !ok {
		return poller.ErrFdNotRegistered
	}
	delete(tp.watches, fd)
	tp.calls = append(tp.calls, "reset")
	return nil
}

func (tp *testPoller) DispatchEvents() bool {
	for len(tp.ready) > 0 {
		ev := tp.ready[0]
		tp.ready = tp.ready[1:]

		w, ok := tp.watches[ev.fd]
		if !ok {
			continue
		}

		w.cb(ev.events)

		if tp.ctl.Stopping() {
			return false
		}
	}

	if tp.signalCheck.IsSet() {
		tp.signalCheck.Unset()
		if !tp.ctl.DispatchAsyncSignals() {
			return false
		}
	}

	return true
}

func (tp *testPoller) Wait(deadline evclock.Time, deadlineChanged bool) error {
	tp.lastDeadline = deadline
	tp.lastChanged = deadlineChanged
	if tp.onWait != nil {
		tp.onWait(deadline, deadlineChanged)
	}

	if tp.waits >= tp.maxWaits {
		return errWaitBudget
	}
	tp.waits++

	select {
	case <-tp.wake:
		return nil
	default:
	}

	if tp.blockOnWake || deadline == evclock.MaxTime {
		<-tp.wake
		return nil
	}

	tp.clock.AdvanceTo(deadline)
	return nil
}

func (tp *testPoller) Wakeup() error {
	tp.signalCheck.Set()
	select {
	case tp.wake <- struct{}{}:
	default:
	}
	return nil
}

func (tp *testPoller) Close() error {
	return nil
}

// requireAllPending asserts invariant: on entry to wait every in-heap
// timer is Pending and the root has the minimum deadline.
func requireAllPending(t *testing.T, loop *EventLoop) {
	t.Helper()
	min := evclock.MaxTime
	for _, tm := range loop.timers.s {
		require.Equal(t, timerPending, tm.state)
		if tm.deadline < min {
			min = tm.deadline
		}
	}
	if root := loop.timers.first(); root != nil {
		require.Equal(t, min, root.deadline)
	}
}
