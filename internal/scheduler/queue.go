// ============================================================================
// 有界優先佇列
// 職責：
// 1. 依優先級遞減排序，同級任務保持 FIFO（以單調序號決定先後）
// 2. 佇列永不超過設定上限：溢位時淘汰恰好一個最低優先級任務
// 3. 支援以述詞過濾移除尚未出佇列的任務
// ============================================================================

package scheduler

import (
	"container/heap"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// queueItem 佇列節點
type queueItem struct {
	task     *types.Task
	sequence uint64 // 入佇列序號，保證同優先級 FIFO
	index    int    // heap 內部索引
}

// taskHeap 實作 heap.Interface：優先級高者先出，同級序號小者先出
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // 避免記憶體洩漏
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue 有界穩定優先佇列（非併發安全，由 Scheduler 持鎖呼叫）
type taskQueue struct {
	heap         taskHeap
	maxSize      int
	nextSequence uint64
}

func newTaskQueue(maxSize int) *taskQueue {
	return &taskQueue{
		heap:    make(taskHeap, 0, 16),
		maxSize: maxSize,
	}
}

// push 將任務插入佇列
//
// 溢位處理：佇列已滿時淘汰恰好一個最低優先級任務並回傳之。
// 若新任務本身不高於現有最低優先級（同級任務中它最新），
// 則淘汰新任務自己，讓已等待的任務保住位置。
//
// 返回值：
//   - evicted: 被淘汰的任務，無淘汰時為 nil
//   - accepted: 新任務是否實際進入佇列
func (q *taskQueue) push(task *types.Task) (evicted *types.Task, accepted bool) {
	if len(q.heap) >= q.maxSize {
		victim := q.lowestIndex()
		if victim < 0 || q.heap[victim].task.Priority >= task.Priority {
			return task, false
		}
		evicted = q.heap[victim].task
		heap.Remove(&q.heap, victim)
	}

	item := &queueItem{task: task, sequence: q.nextSequence}
	q.nextSequence++
	heap.Push(&q.heap, item)
	return evicted, true
}

// pop 取出最高優先級任務；同級依入佇列順序
func (q *taskQueue) pop() (*types.Task, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	return item.task, true
}

// lowestIndex 掃描出最低優先級節點的索引；同級取最新入佇列者
// heap 不維護最小端順序，只能線性掃描（上限為佇列容量，成本可控）
func (q *taskQueue) lowestIndex() int {
	idx := -1
	for i, item := range q.heap {
		if idx < 0 {
			idx = i
			continue
		}
		low := q.heap[idx]
		if item.task.Priority < low.task.Priority ||
			(item.task.Priority == low.task.Priority && item.sequence > low.sequence) {
			idx = i
		}
	}
	return idx
}

// removeIf 移除所有滿足述詞的任務並回傳之（提交順序不保證）
func (q *taskQueue) removeIf(pred func(*types.Task) bool) []*types.Task {
	var removed []*types.Task
	kept := make(taskHeap, 0, len(q.heap))
	for _, item := range q.heap {
		if pred(item.task) {
			removed = append(removed, item.task)
		} else {
			kept = append(kept, item)
		}
	}
	if len(removed) > 0 {
		q.heap = kept
		for i := range q.heap {
			q.heap[i].index = i
		}
		heap.Init(&q.heap)
	}
	return removed
}

func (q *taskQueue) len() int { return len(q.heap) }
