package scheduler

import (
	"container/heap"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
)

// entry is the scheduler's handle on one check of one configuration.
type entry struct {
	check   check.Check
	service string
	epoch   uint64

	// due is the StartExpected of the check when it was queued.
	due   time.Time
	index int

	// Guarded by the scheduler's mutex.
	runs int64
	last check.Result
}

// dueQueue is a min-heap of idle checks ordered by due time.
type dueQueue []*entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].service < q[j].service
	}
	return q[i].due.Before(q[j].due)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// push queues e at the current due time of its check.
func (q *dueQueue) push(e *entry) {
	e.due = e.check.StartExpected()
	heap.Push(q, e)
}

// popDue removes and returns every entry due at or before now, earliest
// first.
func (q *dueQueue) popDue(now time.Time) []*entry {
	var due []*entry
	for q.Len() > 0 && !(*q)[0].due.After(now) {
		due = append(due, heap.Pop(q).(*entry))
	}
	return due
}

// next returns the earliest due time.
func (q dueQueue) next() (time.Time, bool) {
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].due, true
}
