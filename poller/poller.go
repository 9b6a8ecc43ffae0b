package poller

import (
	"errors"

	"github.com/evcore/evcore/evclock"
)

type (
	// Event is a bitset of fd readiness conditions.
	Event uint32

	// Callback receives the readiness observed for a watched fd.
	Callback func(Event)
)

const (
	EventRead  Event = 0x1
	EventWrite Event = 0x2
	EventErr   Event = 0x4
	EventHup   Event = 0x8

	EventsAll = EventRead | EventWrite | EventErr | EventHup
)

const waitEventsBeginNum = 128

var (
	ErrClosed          = errors.New("poller is not running")
	ErrFdRegistered    = errors.New("poller: fd already registered")
	ErrFdNotRegistered = errors.New("poller: fd not registered")
)

// Control is the loop-side surface a poller calls back into while
// dispatching. It is implemented by evcore.EventLoop.
type Control interface {
	// DispatchAsyncSignals drains queued cross-thread signals on the
	// loop thread. Returns false iff the loop was stopped by a handler.
	DispatchAsyncSignals() bool

	// Stopping reports whether the loop's stop flag is set.
	Stopping() bool
}

// Poller multiplexes fd readiness, a wait deadline and cross-thread
// wakeups for a single event loop. All methods except Wakeup must be
// called from the loop thread.
type Poller interface {
	InitFd(fd int, events Event, cb Callback) error
	UpdateEvents(fd int, events Event) error
	ResetFd(fd int) error

	// DispatchEvents invokes callbacks for readiness collected by the
	// previous Wait, then drains async signals through Control.
	// Returns false iff the loop was stopped during dispatch.
	DispatchEvents() bool

	// Wait blocks until deadline, fd readiness, or Wakeup. A deadline
	// of evclock.MaxTime means wait indefinitely. deadlineChanged is a
	// hint that the deadline differs from the previous Wait.
	Wait(deadline evclock.Time, deadlineChanged bool) error

	// Wakeup makes an ongoing or next Wait return promptly. Idempotent
	// and safe from any thread.
	Wakeup() error

	Close() error
}

type readyEvent struct {
	fd     int
	events Event
}

type fdWatch struct {
	events Event
	cb     Callback
}
