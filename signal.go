package evcore

import "github.com/evcore/evcore/evlog"

// signalNode is an intrusive node of a circular doubly-linked list. A
// self-looped member node means "not on any list"; the same shape on a
// list head means the list is empty.
type signalNode struct {
	next, prev *signalNode
	owner      *AsyncSignal
}

func (n *signalNode) initLonely() {
	n.next = n
	n.prev = n
}

func (n *signalNode) lonely() bool {
	return n.next == n
}

func (n *signalNode) removed() bool {
	return n.next == n
}

func (n *signalNode) markRemoved() {
	n.next = n
	n.prev = n
}

func (n *signalNode) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
}

// insertBefore links n at the tail of the list headed by head.
func (n *signalNode) insertBefore(head *signalNode) {
	n.prev = head.prev
	n.next = head
	head.prev.next = n
	head.prev = n
}

// adoptAll transfers every node of the non-lonely list headed by src to
// the list headed by dst, which must be lonely.
func (dst *signalNode) adoptAll(src *signalNode) {
	dst.next = src.next
	dst.prev = src.prev
	dst.next.prev = dst
	dst.prev.next = dst
	src.initLonely()
}

// AsyncSignal delivers a handler invocation on the loop thread in
// response to Signal, which may be called from any thread. Each pending
// episode fires the handler at most once.
type AsyncSignal struct {
	node    signalNode
	loop    *EventLoop
	handler func()
}

// NewAsyncSignal creates a signal object. onSignal runs on the loop
// thread, never nested inside another handler.
func NewAsyncSignal(loop *EventLoop, onSignal func()) *AsyncSignal {
	if loop == nil || onSignal == nil {
		panic("evcore: NewAsyncSignal requires a loop and a handler")
	}
	s := &AsyncSignal{
		loop:    loop,
		handler: onSignal,
	}
	s.node.owner = s
	s.node.markRemoved()
	return s
}

// Signal queues the handler for delivery on the loop thread. Callable
// from any thread. Signaling an already-pending signal is a no-op.
func (s *AsyncSignal) Signal() {
	insertedFirst := false

	s.loop.asyncMu.Lock()
	if s.node.removed() {
		insertedFirst = s.loop.pendingList.lonely()
		s.node.insertBefore(&s.loop.pendingList)
	}
	s.loop.asyncMu.Unlock()

	if insertedFirst {
		if err := s.loop.poll.Wakeup(); err != nil {
			evlog.Errorf("[poller.Wakeup]: %s", err.Error())
		}
	}
}

// Reset withdraws a pending signal, if any. Must be called from the loop
// thread; safe from within the signal's own handler.
func (s *AsyncSignal) Reset() {
	s.loop.asyncMu.Lock()
	if !s.node.removed() {
		s.node.unlink()
		s.node.markRemoved()
	}
	s.loop.asyncMu.Unlock()
}

// Close detaches the signal from the loop. The signal must not be used
// afterwards.
func (s *AsyncSignal) Close() {
	s.Reset()
}
