//go:build darwin || netbsd || freebsd || openbsd || dragonfly
// +build darwin netbsd freebsd openbsd dragonfly

package poller

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/evcore/evcore/evclock"
	"github.com/evcore/evcore/evlog"
	"github.com/evcore/evcore/util"
)

type KQueue struct {
	fd int

	clock evclock.Clock
	ctl   Control

	watches      map[int]*fdWatch
	ready        *queue.Queue
	events       []unix.Kevent_t
	checkSignals bool

	closed util.AtomicBool
}

func New(clock evclock.Clock, ctl Control) (Poller, error) {
	return KQueueCreate(clock, ctl)
}

func KQueueCreate(clock evclock.Clock, ctl Control) (*KQueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	// Ident 0 with EVFILT_USER is the wakeup channel. kqueue keys events
	// by (ident, filter), so a read/write watch on fd 0 does not collide.
	_, err = unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	kq := &KQueue{
		fd:      fd,
		clock:   clock,
		ctl:     ctl,
		watches: make(map[int]*fdWatch),
		ready:   queue.New(),
		events:  make([]unix.Kevent_t, waitEventsBeginNum),
	}
	return kq, nil
}

func (kq *KQueue) InitFd(fd int, events Event, cb Callback) error {
	if _, ok := kq.watches[fd]; ok {
		return ErrFdRegistered
	}
	if err := kq.applyFilters(fd, 0, events); err != nil {
		return err
	}
	kq.watches[fd] = &fdWatch{events: events, cb: cb}
	return nil
}

func (kq *KQueue) UpdateEvents(fd int, events Event) error {
	w, ok := kq.watches[fd]
	if !ok {
		return ErrFdNotRegistered
	}
	if err := kq.applyFilters(fd, w.events, events); err != nil {
		return err
	}
	w.events = events
	return nil
}

func (kq *KQueue) ResetFd(fd int) error {
	w, ok := kq.watches[fd]
	if !ok {
		return ErrFdNotRegistered
	}
	delete(kq.watches, fd)
	return kq.applyFilters(fd, w.events, 0)
}

func (kq *KQueue) Wakeup() error {
	_, err := unix.Kevent(kq.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}, nil, nil)
	return err
}

func (kq *KQueue) Wait(deadline evclock.Time, deadlineChanged bool) error {
	if kq.closed.IsSet() {
		return ErrClosed
	}
	_ = deadlineChanged // the timeout is recomputed on every wait

	var ts *unix.Timespec
	if deadline != evclock.MaxTime {
		d := deadline.Sub(kq.clock.Now())
		if d < 0 {
			d = 0
		}
		spec := unix.NsecToTimespec(int64(d))
		ts = &spec
	}

	n, err := unix.Kevent(kq.fd, nil, kq.events, ts)
	if err != nil {
		if util.TemporaryErr(err) {
			return nil
		}
		evlog.Errorf("[unix.Kevent]: %s", err.Error())
		return err
	}

	for i := 0; i < n; i++ {
		ev := kq.events[i]
		if ev.Filter == unix.EVFILT_USER {
			kq.checkSignals = true
			continue
		}

		var events Event
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventErr
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHup
		}
		if ev.Filter == unix.EVFILT_READ {
			events |= EventRead
		}
		if ev.Filter == unix.EVFILT_WRITE {
			events |= EventWrite
		}
		kq.ready.Add(readyEvent{fd: int(ev.Ident), events: events})
	}
	if n == len(kq.events) {
		kq.events = make([]unix.Kevent_t, int(float64(n)*1.5))
	}

	return nil
}

func (kq *KQueue) DispatchEvents() bool {
	for kq.ready.Length() > 0 {
		ev := kq.ready.Remove().(readyEvent)

		w, ok := kq.watches[ev.fd]
		if !ok {
			continue
		}
		events := ev.events & (w.events | EventErr | EventHup)
		if events == 0 {
			continue
		}

		w.cb(events)

		if kq.ctl.Stopping() {
			return false
		}
	}

	if kq.checkSignals {
		kq.checkSignals = false
		if !kq.ctl.DispatchAsyncSignals() {
			return false
		}
	}

	return true
}

func (kq *KQueue) Close() error {
	if kq.closed.Swap() {
		return ErrClosed
	}
	return unix.Close(kq.fd)
}

// applyFilters reconciles the kqueue read/write filters for fd from the
// previous interest mask to the requested one.
func (kq *KQueue) applyFilters(fd int, prev, next Event) error {
	var changes []unix.Kevent_t

	if prev&EventRead != next&EventRead {
		ev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD}
		if next&EventRead == 0 {
			ev.Flags = unix.EV_DELETE
		}
		changes = append(changes, ev)
	}

	if prev&EventWrite != next&EventWrite {
		ev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD}
		if next&EventWrite == 0 {
			ev.Flags = unix.EV_DELETE
		}
		changes = append(changes, ev)
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(kq.fd, changes, nil, nil)
	return err
}
