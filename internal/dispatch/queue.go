package dispatch

import (
	"sort"

	"github.com/hookline/hookline/pkg/types"
)

// pendingExecution is one queued (hook, trigger) pair. Ownership transfers
// to the drain loop when dequeued.
type pendingExecution struct {
	hook    *types.Hook
	trigger *types.TriggerContext
	seq     uint64
}

// fileQueue holds the pending executions for a single file path. One drain
// loop instance consumes it; the dispatcher mutex guards all access.
type fileQueue struct {
	items []*pendingExecution
}

// push appends an entry and re-sorts by priority descending. The sort is
// stable over the enqueue sequence number, so equal priorities run in
// first-enqueued-first-served order. The currently executing entry was
// already dequeued and is never reordered.
func (q *fileQueue) push(p *pendingExecution) {
	q.items = append(q.items, p)
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].hook.Priority != q.items[j].hook.Priority {
			return q.items[i].hook.Priority > q.items[j].hook.Priority
		}
		return q.items[i].seq < q.items[j].seq
	})
}

// pop removes and returns the head entry, or nil when the queue is empty.
func (q *fileQueue) pop() *pendingExecution {
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return head
}

func (q *fileQueue) len() int {
	return len(q.items)
}
