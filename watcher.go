package evcore

import (
	"github.com/evcore/evcore/evlog"
	"github.com/evcore/evcore/poller"
)

// FdWatcher binds an OS descriptor and an interest mask to a readiness
// handler. Registration is 1:1 between watcher and fd. All methods must
// be called from the loop thread; the watcher must not outlive its loop.
type FdWatcher struct {
	loop    *EventLoop
	handler poller.Callback
	fd      int
	events  poller.Event
}

// NewFdWatcher creates an unregistered watcher. onReady runs on the loop
// thread with the readiness observed for the watched fd.
func NewFdWatcher(loop *EventLoop, onReady poller.Callback) *FdWatcher {
	if loop == nil || onReady == nil {
		panic("evcore: NewFdWatcher requires a loop and a handler")
	}
	return &FdWatcher{
		loop:    loop,
		handler: onReady,
		fd:      -1,
	}
}

// Init registers fd with the given interest mask. The watcher must be
// unregistered and fd must be valid.
func (w *FdWatcher) Init(fd int, events poller.Event) error {
	if w.fd != -1 {
		panic("evcore: fd watcher already registered")
	}
	if fd < 0 {
		panic("evcore: negative fd")
	}
	checkEventMask(events)

	if err := w.loop.poll.InitFd(fd, events, w.handler); err != nil {
		return err
	}
	w.loop.watchers++
	w.fd = fd
	w.events = events
	return nil
}

// UpdateEvents changes the interest mask. No-op if the mask is unchanged.
func (w *FdWatcher) UpdateEvents(events poller.Event) error {
	if w.fd < 0 {
		panic("evcore: fd watcher not registered")
	}
	checkEventMask(events)

	if events == w.events {
		return nil
	}
	if err := w.loop.poll.UpdateEvents(w.fd, events); err != nil {
		return err
	}
	w.events = events
	return nil
}

// Reset unregisters the watcher. No-op if not registered. The handler is
// not invoked afterwards.
func (w *FdWatcher) Reset() {
	if w.fd < 0 {
		return
	}
	if err := w.loop.poll.ResetFd(w.fd); err != nil {
		evlog.Errorf("[poller.ResetFd]: %s", err.Error())
	}
	w.loop.watchers--
	w.fd = -1
	w.events = 0
}

func (w *FdWatcher) HasFd() bool {
	return w.fd >= 0
}

func (w *FdWatcher) Fd() int {
	return w.fd
}

func (w *FdWatcher) Events() poller.Event {
	return w.events
}

// Close detaches the watcher from the loop. The watcher must not be used
// afterwards.
func (w *FdWatcher) Close() {
	w.Reset()
}

func checkEventMask(events poller.Event) {
	if events&^poller.EventsAll != 0 {
		panic("evcore: event mask outside defined bits")
	}
}
