package loop

import (
	"container/heap"
	"time"
)

// Timer is a callback armed on the loop clock. It fires as a loop task.
type Timer struct {
	loop     *Loop
	deadline time.Time
	seq      uint64
	fn       func()
	index    int // position in the heap, -1 once fired or stopped
}

// AfterFunc runs fn as a loop task once d has elapsed on the loop clock. Timers sharing a
// deadline fire in arming order. It is safe to call from any goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.mu.Lock()
	l.timerSeq++
	t := &Timer{
		loop:     l,
		deadline: l.clock.Now().Add(d),
		seq:      l.timerSeq,
		fn:       fn,
	}
	heap.Push(&l.timers, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Stop disarms the timer. It reports whether the timer was still armed.
func (t *Timer) Stop() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

// Deadline returns the time the timer fires at
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Timers returns the number of armed timers
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// fireDue moves every timer whose deadline has passed onto the task queue, in deadline order
func (l *Loop) fireDue() {
	now := l.clock.Now()
	l.mu.Lock()
	var due []*Timer
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*Timer))
	}
	l.mu.Unlock()

	for _, t := range due {
		l.Post(t.fn)
	}
}

func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].deadline, true
}

// timerHeap orders timers by deadline, then by arming order
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
