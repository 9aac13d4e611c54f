package dispatch

import (
	"testing"

	"github.com/hookline/hookline/pkg/types"
)

func queued(id string, priority int, seq uint64) *pendingExecution {
	return &pendingExecution{
		hook:    &types.Hook{ID: id, Priority: priority},
		trigger: &types.TriggerContext{FilePath: "main.go"},
		seq:     seq,
	}
}

func popIDs(q *fileQueue) []string {
	var ids []string
	for p := q.pop(); p != nil; p = q.pop() {
		ids = append(ids, p.hook.ID)
	}
	return ids
}

func TestFileQueue_PriorityDescending(t *testing.T) {
	q := &fileQueue{}
	q.push(queued("low", 1, 0))
	q.push(queued("high", 10, 1))
	q.push(queued("mid", 5, 2))

	got := popIDs(q)
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestFileQueue_EqualPriorityPreservesEnqueueOrder(t *testing.T) {
	q := &fileQueue{}
	q.push(queued("first", 50, 0))
	q.push(queued("second", 50, 1))
	q.push(queued("third", 50, 2))

	got := popIDs(q)
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestFileQueue_LaterHighPriorityJumpsAhead(t *testing.T) {
	q := &fileQueue{}
	q.push(queued("a", 10, 0))
	q.push(queued("b", 10, 1))

	// The head that is already executing has been dequeued and cannot
	// be displaced by a later, higher-priority arrival.
	head := q.pop()
	if head.hook.ID != "a" {
		t.Fatalf("head = %q, want a", head.hook.ID)
	}

	q.push(queued("urgent", 99, 2))

	got := popIDs(q)
	want := []string{"urgent", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order after dequeue = %v, want %v", got, want)
		}
	}
}

func TestFileQueue_PopEmpty(t *testing.T) {
	q := &fileQueue{}
	if p := q.pop(); p != nil {
		t.Fatalf("pop on empty queue = %v, want nil", p)
	}
	if q.len() != 0 {
		t.Fatalf("len = %d, want 0", q.len())
	}
}
