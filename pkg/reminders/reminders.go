// Package reminders holds overdue notices waiting to be surfaced. The
// queue is in-memory only; it is rebuilt from the overdue query whenever
// the service refreshes notifications.
package reminders

import (
	"sync"
	"time"
)

// Reminder is one pending overdue alert. RemindAt gates delivery so a
// freshly enqueued reminder is not drained in the same refresh cycle.
type Reminder struct {
	LoanUid  string
	Message  string
	RemindAt time.Time
}

type Queue struct {
	mu    sync.Mutex
	items []Reminder
	seen  map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{seen: make(map[string]struct{})}
}

// Enqueue adds a reminder unless one for the same loan is already pending.
func (q *Queue) Enqueue(r Reminder) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.seen[r.LoanUid]; ok {
		return false
	}
	q.seen[r.LoanUid] = struct{}{}
	q.items = append(q.items, r)
	return true
}

// Due removes and returns every reminder whose RemindAt has passed.
func (q *Queue) Due(now time.Time) []Reminder {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Reminder
	remaining := q.items[:0]
	for _, r := range q.items {
		if !r.RemindAt.After(now) {
			due = append(due, r)
			delete(q.seen, r.LoanUid)
		} else {
			remaining = append(remaining, r)
		}
	}
	q.items = remaining
	return due
}

// Drop removes a pending reminder, used when its loan is returned before
// the alert fires.
func (q *Queue) Drop(loanUid string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.seen[loanUid]; !ok {
		return
	}
	delete(q.seen, loanUid)
	for i, r := range q.items {
		if r.LoanUid == loanUid {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot copies the pending reminders for listing without draining them.
func (q *Queue) Snapshot() []Reminder {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Reminder, len(q.items))
	copy(out, q.items)
	return out
}
