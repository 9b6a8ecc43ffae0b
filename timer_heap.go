package evcore

import (
	"container/heap"

	"github.com/evcore/evcore/evclock"
)

// timerHeap is a min-heap of timers keyed by (state order class, deadline).
// Dispatch sorts below TempUnset/TempSet, which sort below Pending, so due
// timers surface at the root and timers whose handler is running sink out
// of the way with a single fixup.
type timerHeap struct {
	s []*Timer
}

func (h *timerHeap) Len() int { return len(h.s) }

func (h *timerHeap) Less(i, j int) bool {
	a, b := h.s[i], h.s[j]
	oa, ob := a.state&timerStateOrderMask, b.state&timerStateOrderMask
	if oa != ob {
		return oa < ob
	}
	return a.deadline < b.deadline
}

func (h *timerHeap) Swap(i, j int) {
	h.s[i], h.s[j] = h.s[j], h.s[i]
	h.s[i].heapIndex = i
	h.s[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.heapIndex = len(h.s)
	h.s = append(h.s, t)
}

func (h *timerHeap) Pop() interface{} {
	old := h.s
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	h.s = old[:n-1]
	return t
}

func (h *timerHeap) insert(t *Timer) {
	heap.Push(h, t)
}

func (h *timerHeap) remove(t *Timer) {
	heap.Remove(h, t.heapIndex)
}

func (h *timerHeap) fixup(t *Timer) {
	heap.Fix(h, t.heapIndex)
}

func (h *timerHeap) first() *Timer {
	if len(h.s) == 0 {
		return nil
	}
	return h.s[0]
}

func (h *timerHeap) empty() bool {
	return len(h.s) == 0
}

// findAllLE visits every Pending timer with deadline <= now. The visitor
// may change the visited timer's state but not its deadline. Called when
// all in-heap timers are Pending, so subtrees rooted above now can be
// pruned; since a due timer's ancestors are also due, marking the visited
// set keeps the heap ordered without restructuring.
func (h *timerHeap) findAllLE(now evclock.Time, visit func(*Timer)) {
	h.walkLE(0, now, visit)
}

func (h *timerHeap) walkLE(i int, now evclock.Time, visit func(*Timer)) {
	if i >= len(h.s) {
		return
	}
	t := h.s[i]
	if t.deadline > now {
		return
	}
	if t.state == timerPending {
		visit(t)
	}
	h.walkLE(2*i+1, now, visit)
	h.walkLE(2*i+2, now, visit)
}
