//go:build linux
// +build linux

package poller

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/evcore/evcore/evclock"
	"github.com/evcore/evcore/evlog"
	"github.com/evcore/evcore/util"
)

var wakeWriteBytes = []byte{1, 0, 0, 0, 0, 0, 0, 0}

type Epoll struct {
	fd      int
	eventFd int
	timerFd int

	clock evclock.Clock
	ctl   Control

	watches      map[int]*fdWatch
	ready        *queue.Queue
	events       []unix.EpollEvent
	checkSignals bool

	timerArmed bool
	timerFired bool

	drainBuf [8]byte
	closed   util.AtomicBool
}

func New(clock evclock.Clock, ctl Control) (Poller, error) {
	return EpollCreate(clock, ctl)
}

func EpollCreate(clock evclock.Clock, ctl Control) (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	timerFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(eventFd)
		return nil, err
	}

	ep := &Epoll{
		fd:      fd,
		eventFd: eventFd,
		timerFd: timerFd,
		clock:   clock,
		ctl:     ctl,
		watches: make(map[int]*fdWatch),
		ready:   queue.New(),
		events:  make([]unix.EpollEvent, waitEventsBeginNum),
	}

	for _, ifd := range []int{eventFd, timerFd} {
		if err := ep.ctlAdd(ifd, unix.EPOLLIN); err != nil {
			_ = unix.Close(fd)
			_ = unix.Close(eventFd)
			_ = unix.Close(timerFd)
			return nil, err
		}
	}

	return ep, nil
}

func (ep *Epoll) InitFd(fd int, events Event, cb Callback) error {
	if _, ok := ep.watches[fd]; ok {
		return ErrFdRegistered
	}
	if err := ep.ctlAdd(fd, toEpollEvents(events)); err != nil {
		return err
	}
	ep.watches[fd] = &fdWatch{events: events, cb: cb}
	return nil
}

func (ep *Epoll) UpdateEvents(fd int, events Event) error {
	w, ok := ep.watches[fd]
	if !ok {
		return ErrFdNotRegistered
	}
	ev := &unix.EpollEvent{
		Fd:     int32(fd),
		Events: toEpollEvents(events),
	}
	if err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	w.events = events
	return nil
}

func (ep *Epoll) ResetFd(fd int) error {
	if _, ok := ep.watches[fd]; !ok {
		return ErrFdNotRegistered
	}
	delete(ep.watches, fd)
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (ep *Epoll) Wakeup() error {
	_, err := unix.Write(ep.eventFd, wakeWriteBytes)
	return err
}

func (ep *Epoll) Wait(deadline evclock.Time, deadlineChanged bool) error {
	if ep.closed.IsSet() {
		return ErrClosed
	}

	timeout := -1
	if deadline == evclock.MaxTime {
		if ep.timerArmed {
			if err := ep.armTimer(0); err != nil {
				return err
			}
			ep.timerArmed = false
		}
	} else if deadlineChanged || ep.timerFired || !ep.timerArmed {
		d := deadline.Sub(ep.clock.Now())
		if d <= 0 {
			// Already due; poll without blocking and let the loop
			// dispatch on its next pass.
			timeout = 0
		} else {
			if err := ep.armTimer(d); err != nil {
				return err
			}
			ep.timerArmed = true
			ep.timerFired = false
		}
	}

	n, err := unix.EpollWait(ep.fd, ep.events, timeout)
	if err != nil {
		if util.TemporaryErr(err) {
			return nil
		}
		evlog.Errorf("[unix.EpollWait]: %s", err.Error())
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(ep.events[i].Fd)
		switch fd {
		case ep.eventFd:
			_, _ = unix.Read(ep.eventFd, ep.drainBuf[:])
			ep.checkSignals = true
		case ep.timerFd:
			_, _ = unix.Read(ep.timerFd, ep.drainBuf[:])
			ep.timerFired = true
		default:
			ep.ready.Add(readyEvent{fd: fd, events: fromEpollEvents(ep.events[i].Events)})
		}
	}
	if n == len(ep.events) {
		ep.events = make([]unix.EpollEvent, int(float64(n)*1.5))
	}

	return nil
}

func (ep *Epoll) DispatchEvents() bool {
	for ep.ready.Length() > 0 {
		ev := ep.ready.Remove().(readyEvent)

		// The watcher may have been reset or rewired by a handler that
		// ran after this readiness was collected.
		w, ok := ep.watches[ev.fd]
		if !ok {
			continue
		}
		events := ev.events & (w.events | EventErr | EventHup)
		if events == 0 {
			continue
		}

		w.cb(events)

		if ep.ctl.Stopping() {
			return false
		}
	}

	if ep.checkSignals {
		ep.checkSignals = false
		if !ep.ctl.DispatchAsyncSignals() {
			return false
		}
	}

	return true
}

func (ep *Epoll) Close() error {
	if ep.closed.Swap() {
		return ErrClosed
	}
	_ = unix.Close(ep.timerFd)
	_ = unix.Close(ep.eventFd)
	return unix.Close(ep.fd)
}

func (ep *Epoll) armTimer(d evclock.Duration) error {
	var spec unix.ItimerSpec
	if d > 0 {
		spec.Value = unix.NsecToTimespec(int64(d))
	}
	return unix.TimerfdSettime(ep.timerFd, 0, &spec, nil)
}

func (ep *Epoll) ctlAdd(fd int, events uint32) error {
	ev := &unix.EpollEvent{
		Fd:     int32(fd),
		Events: events,
	}
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, ev)
}

func toEpollEvents(events Event) uint32 {
	var ev uint32
	if events&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if events&EventHup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

func fromEpollEvents(ev uint32) Event {
	var events Event
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		events |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		events |= EventErr
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHup
	}
	return events
}
