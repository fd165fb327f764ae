package scheduler

import (
	"testing"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

func makeTask(name string, priority types.Priority) *types.Task {
	return &types.Task{
		ID:       types.TaskID(name),
		Kind:     types.TaskKind(name),
		Priority: priority,
		Handler:  func(any) error { return nil },
	}
}

func popOrder(t *testing.T, q *taskQueue) []string {
	t.Helper()
	var order []string
	for {
		task, ok := q.pop()
		if !ok {
			return order
		}
		order = append(order, string(task.ID))
	}
}

func TestQueueOrdering(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*types.Task
		want  []string
	}{
		{
			name: "higher priority first",
			tasks: []*types.Task{
				makeTask("low", 1),
				makeTask("high", 10),
				makeTask("mid", 5),
			},
			want: []string{"high", "mid", "low"},
		},
		{
			name: "fifo within equal priority",
			tasks: []*types.Task{
				makeTask("A", 1),
				makeTask("B", 5),
				makeTask("C", 1),
			},
			want: []string{"B", "A", "C"},
		},
		{
			name: "all equal priority is pure fifo",
			tasks: []*types.Task{
				makeTask("first", 3),
				makeTask("second", 3),
				makeTask("third", 3),
			},
			want: []string{"first", "second", "third"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTaskQueue(10)
			for _, task := range tt.tasks {
				if evicted, accepted := q.push(task); evicted != nil || !accepted {
					t.Fatalf("unexpected eviction on push of %s", task.ID)
				}
			}
			got := popOrder(t, q)
			if len(got) != len(tt.want) {
				t.Fatalf("popped %d tasks, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("position %d: got %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestQueueOverflowEvictsLowest(t *testing.T) {
	q := newTaskQueue(2)
	q.push(makeTask("keep", 5))
	q.push(makeTask("victim", 1))

	evicted, accepted := q.push(makeTask("new", 10))
	if !accepted {
		t.Fatal("higher priority task should be accepted")
	}
	if evicted == nil || evicted.ID != "victim" {
		t.Fatalf("expected victim to be evicted, got %v", evicted)
	}

	got := popOrder(t, q)
	if len(got) != 2 || got[0] != "new" || got[1] != "keep" {
		t.Errorf("queue after eviction: got %v, want [new keep]", got)
	}
}

func TestQueueOverflowEvictsYoungestAmongLowest(t *testing.T) {
	q := newTaskQueue(2)
	q.push(makeTask("older", 1))
	q.push(makeTask("younger", 1))

	evicted, _ := q.push(makeTask("new", 5))
	if evicted == nil || evicted.ID != "younger" {
		t.Fatalf("expected youngest of lowest priority evicted, got %v", evicted)
	}
}

func TestQueueOverflowRejectsIncomingWhenLowest(t *testing.T) {
	q := newTaskQueue(2)
	q.push(makeTask("a", 5))
	q.push(makeTask("b", 5))

	incoming := makeTask("weak", 1)
	evicted, accepted := q.push(incoming)
	if accepted {
		t.Fatal("incoming task at lowest priority should not displace queued work")
	}
	if evicted != incoming {
		t.Fatalf("the incoming task itself should be the eviction victim, got %v", evicted)
	}
	if q.len() != 2 {
		t.Errorf("queue length changed: got %d, want 2", q.len())
	}
}

func TestQueueRemoveIf(t *testing.T) {
	q := newTaskQueue(10)
	q.push(makeTask("keep1", 5))
	q.push(makeTask("drop1", 1))
	q.push(makeTask("keep2", 3))
	q.push(makeTask("drop2", 1))

	removed := q.removeIf(func(task *types.Task) bool { return task.Priority == 1 })
	if len(removed) != 2 {
		t.Fatalf("removed %d tasks, want 2", len(removed))
	}

	got := popOrder(t, q)
	if len(got) != 2 || got[0] != "keep1" || got[1] != "keep2" {
		t.Errorf("remaining queue: got %v, want [keep1 keep2]", got)
	}
}
