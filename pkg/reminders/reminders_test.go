package reminders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueDeduplicatesByLoan(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	assert.True(t, q.Enqueue(Reminder{LoanUid: "l-1", Message: "overdue", RemindAt: now}))
	assert.False(t, q.Enqueue(Reminder{LoanUid: "l-1", Message: "overdue again", RemindAt: now}))
	assert.True(t, q.Enqueue(Reminder{LoanUid: "l-2", Message: "overdue", RemindAt: now}))
	assert.Equal(t, 2, q.Size())
}

func TestDueReturnsOnlyElapsedReminders(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Enqueue(Reminder{LoanUid: "past", RemindAt: now.Add(-time.Hour)})
	q.Enqueue(Reminder{LoanUid: "future", RemindAt: now.Add(time.Hour)})

	due := q.Due(now)
	assert.Len(t, due, 1)
	assert.Equal(t, "past", due[0].LoanUid)
	assert.Equal(t, 1, q.Size())

	// A drained loan can be enqueued again later.
	assert.True(t, q.Enqueue(Reminder{LoanUid: "past", RemindAt: now}))
}

func TestDropRemovesPendingReminder(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Enqueue(Reminder{LoanUid: "l-1", RemindAt: now})
	q.Enqueue(Reminder{LoanUid: "l-2", RemindAt: now})

	q.Drop("l-1")
	assert.Equal(t, 1, q.Size())
	q.Drop("l-1") // already gone, no-op
	assert.Equal(t, 1, q.Size())

	snapshot := q.Snapshot()
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "l-2", snapshot[0].LoanUid)
}

func TestSnapshotDoesNotDrain(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Reminder{LoanUid: "l-1", RemindAt: time.Now()})

	assert.Len(t, q.Snapshot(), 1)
	assert.Len(t, q.Snapshot(), 1)
	assert.Equal(t, 1, q.Size())
}
