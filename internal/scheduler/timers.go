package scheduler

import (
	"container/heap"
	"time"
)

type timerAction uint8

// Order matters: at equal fire times a release runs before a drain so the
// previous key is up before the next one goes down.
const (
	actionRelease timerAction = iota
	actionDrain
)

func (a timerAction) String() string {
	switch a {
	case actionRelease:
		return "release-active"
	case actionDrain:
		return "drain-next"
	}
	return "unknown"
}

type timer struct {
	at     time.Time
	action timerAction
	noteID int
	seq    uint64
	index  int
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.action != b.action {
		return a.action < b.action
	}
	return a.seq < b.seq
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q *timerQueue) schedule(t *timer) {
	heap.Push(q, t)
}

// cancel removes t if it is still pending. Cancelling a fired or already
// cancelled timer is a no-op.
func (q *timerQueue) cancel(t *timer) bool {
	if t == nil || t.index < 0 || t.index >= len(*q) || (*q)[t.index] != t {
		return false
	}
	heap.Remove(q, t.index)
	return true
}

func (q *timerQueue) peek() (*timer, bool) {
	if len(*q) == 0 {
		return nil, false
	}
	return (*q)[0], true
}

func (q *timerQueue) popDue(now time.Time) (*timer, bool) {
	t, ok := q.peek()
	if !ok || t.at.After(now) {
		return nil, false
	}
	return heap.Pop(q).(*timer), true
}
