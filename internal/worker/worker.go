// ============================================================================
// Otter-Perf Worker - Offloaded Computation Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Executes offloaded heavy computations, each worker runs in an
//           independent goroutine
//
// How it works:
//   Each worker continuously executes the following loop:
//   1. Receive a call from callCh (blocking wait)
//   2. Check the caller's context before starting (expired calls are skipped)
//   3. Run the computation with panic recovery
//   4. Deliver the result on the call's dedicated channel
//   5. Repeat until callCh is closed
//
// Deadline control:
//   The caller supplies the context; the computation receives it and must
//   honor cancellation itself. A call whose context already expired before
//   a worker picked it up is answered with ctx.Err() without running.
//
// Failure escalation:
//   A panicking computation is a systemic failure, not a per-call error:
//   besides the error result, the pool raises a CRITICAL alert through the
//   configured escalation hook.
//
// ============================================================================

package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

var log = slog.Default()

// runner 單一工作 goroutine 的執行狀態
type runner struct {
	id   int
	pool *Pool
}

// run 是 worker 的主循環：從呼叫通道取出計算並執行，結果送回專屬通道
func (r *runner) run() {
	for call := range r.pool.callCh {
		// 截止時間已過的呼叫不再執行
		if err := call.ctx.Err(); err != nil {
			call.resultCh <- Result{CallID: call.ID, Err: err}
			continue
		}

		start := time.Now()
		value, err := r.execute(call)
		duration := time.Since(start)

		if r.pool.recorder != nil {
			r.pool.recorder.RecordOperation(categoryWorker, call.Kind,
				float64(duration)/float64(time.Millisecond), err == nil)
		}

		call.resultCh <- Result{
			CallID:   call.ID,
			Value:    value,
			Err:      err,
			Duration: duration,
		}
	}
}

// execute 執行計算本體並攔截 panic
//
// panic 是系統性故障：除了以錯誤回報呼叫端，還會升級為 CRITICAL 警報
func (r *runner) execute(call Call) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("offloaded computation panicked: %v", rec)
			log.Error("Worker computation panicked",
				"worker", r.id,
				"call", call.ID,
				"kind", call.Kind,
				"panic", rec)
			r.pool.escalate(types.Alert{
				Type:     types.AlertWorkerCrash,
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("offloaded computation %s (call %s) crashed: %v", call.Kind, call.ID, rec),
				Context: map[string]any{
					"worker": r.id,
					"call":   call.ID,
					"kind":   call.Kind,
				},
			})
		}
	}()
	return call.Fn(call.ctx)
}
