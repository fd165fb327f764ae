// ============================================================================
// Otter-Perf 排程器 - 協作式批次任務執行
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 有界優先佇列 + 協作式批次執行循環
//
// 設計理念:
//   1. 單一執行 goroutine - 任務處理函式之間沒有真正的平行執行，
//      處理函式一旦開始就跑到完為止（不可搶佔），因此必須是短工作
//   2. 批次時間預算 - 每輪批次最多執行 BatchBudget（預設為 tick 的一半），
//      預算用盡即讓出，避免單一批次餓死其他待處理工作
//   3. 提交永不阻塞 - 佇列滿時淘汰恰好一個最低優先級任務；
//      淘汰不是靜默的：會觸發 Done 回呼與 OnDrop 掛鉤並累計計數
//
// 狀態機:
//   Idle → Draining    (佇列由空變為非空)
//   Draining → Draining (批次預算用盡但仍有工作，立即重新排定)
//   Draining → Idle    (佇列清空)
//   * → Shutdown       (Shutdown() 清空餘量後永久停止週期觸發)
//
// 失敗語義:
//   處理函式的 error 與 panic 都被就地攔截，計入該操作的錯誤數並記錄日誌，
//   循環繼續處理下一個任務；附帶的池化資源在所有離開路徑上保證釋放
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrInvalidTask 任務格式不合法（缺 kind 或 handler），拒收且不入佇列
	ErrInvalidTask = errors.New("invalid task: kind and handler are required")
	// ErrSchedulerClosed 排程器已關閉，不再接受提交
	ErrSchedulerClosed = errors.New("scheduler is closed")
	// ErrEvicted 任務因佇列溢位被淘汰，從未執行
	ErrEvicted = errors.New("task evicted on queue overflow")
	// ErrCancelled 任務在出佇列前被過濾移除
	ErrCancelled = errors.New("task cancelled while queued")
)

// ============================================================================
// 設定與狀態
// ============================================================================

// 預設值
const (
	DefaultMaxQueueSize = 1024
	DefaultTickInterval = 50 * time.Millisecond
)

// Recorder 指標記錄介面（由 metrics.Collector 實作）
type Recorder interface {
	RecordOperation(category, operation string, durationMs float64, success bool)
}

// categoryScheduler 排程器回報指標時使用的分類名稱
const categoryScheduler = "scheduler"

// Config 排程器配置
type Config struct {
	MaxQueueSize int              // 佇列上限，<=0 時使用 DefaultMaxQueueSize
	TickInterval time.Duration    // 週期觸發間隔，<=0 時使用 DefaultTickInterval
	BatchBudget  time.Duration    // 單批次時間預算，<=0 時使用 TickInterval/2
	Recorder     Recorder         // 完成與失敗的記錄端，可為 nil
	OnDrop       func(types.Task) // 淘汰事件掛鉤，可為 nil
	Clock        clockz.Clock     // 時間來源，nil 時使用真實時鐘
}

// State 排程器狀態
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Stats 排程器統計
type Stats struct {
	Queued   int    // 目前待處理任務數
	Dropped  uint64 // 因溢位被淘汰的任務總數
	Rejected uint64 // 因格式不合法被拒收的任務總數
	Executed uint64 // 已執行完畢（含失敗）的任務總數
	State    State
}

// Scheduler 協作式優先任務排程器
type Scheduler struct {
	mu    sync.Mutex
	queue *taskQueue
	state State

	cfg      Config
	clock    clockz.Clock
	tick     time.Duration
	budget   time.Duration
	recorder Recorder

	wake   chan struct{}
	stopCh chan struct{}
	loopWg sync.WaitGroup
	closed bool

	dropped  atomic.Uint64
	rejected atomic.Uint64
	executed atomic.Uint64
}

// New 建立排程器並啟動批次循環
func New(cfg Config) *Scheduler {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.BatchBudget <= 0 {
		cfg.BatchBudget = cfg.TickInterval / 2
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}

	s := &Scheduler{
		queue:    newTaskQueue(cfg.MaxQueueSize),
		cfg:      cfg,
		clock:    clock,
		tick:     cfg.TickInterval,
		budget:   cfg.BatchBudget,
		recorder: cfg.Recorder,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}

	s.loopWg.Add(1)
	go s.loop()
	return s
}

// Submit 提交任務
//
// 參數說明：
//   - kind: 任務種類（同時作為指標的 operation 名稱）
//   - payload: 不透明資料載荷
//   - priority: 優先級，越大越先執行
//   - handler: 任務執行邏輯
//
// 返回值：
//   - types.TaskID: 自動配發的任務識別碼
//   - error: ErrInvalidTask 或 ErrSchedulerClosed；容量不足不會回傳錯誤
//
// 容量語義：佇列已滿時淘汰一個最低優先級任務騰出空間，提交本身永不阻塞
func (s *Scheduler) Submit(kind types.TaskKind, payload any, priority types.Priority, handler types.Handler) (types.TaskID, error) {
	task := &types.Task{
		ID:       types.TaskID(uuid.NewString()),
		Kind:     kind,
		Payload:  payload,
		Priority: priority,
		Handler:  handler,
	}
	if err := s.SubmitTask(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// SubmitTask 提交完整建構的任務（可附帶 Done 回呼與 Release 掛鉤）
func (s *Scheduler) SubmitTask(task *types.Task) error {
	if task == nil || task.Kind == "" || task.Handler == nil {
		s.rejected.Add(1)
		if s.recorder != nil {
			s.recorder.RecordOperation(categoryScheduler, "validation", 0, false)
		}
		return ErrInvalidTask
	}
	if task.ID == "" {
		task.ID = types.TaskID(uuid.NewString())
	}
	task.EnqueuedAt = s.clock.Now().UnixMilli()

	s.mu.Lock()
	// 提交失敗時任務從未進入系統，所有權仍在呼叫端，不觸發回呼
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	evicted, accepted := s.queue.push(task)
	if accepted {
		s.state = StateDraining
	}
	s.mu.Unlock()

	if evicted != nil {
		s.dropped.Add(1)
		log.Warn("Task evicted on queue overflow",
			"evicted", evicted.ID,
			"kind", evicted.Kind,
			"priority", evicted.Priority)
		s.finalize(evicted, types.Outcome{TaskID: evicted.ID, Kind: evicted.Kind, Evicted: true, Err: ErrEvicted})
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop(*evicted)
		}
	}
	if accepted {
		s.wakeLoop()
	}
	return nil
}

// Cancel 以述詞過濾移除尚未出佇列的任務
//
// 已出佇列、正在執行的任務無法取消
//
// 返回值：
//   - int: 被移除的任務數
func (s *Scheduler) Cancel(pred func(types.Task) bool) int {
	s.mu.Lock()
	removed := s.queue.removeIf(func(t *types.Task) bool { return pred(*t) })
	if s.queue.len() == 0 && s.state == StateDraining {
		s.state = StateIdle
	}
	s.mu.Unlock()

	for _, task := range removed {
		s.finalize(task, types.Outcome{TaskID: task.ID, Kind: task.Kind, Evicted: true, Err: ErrCancelled})
	}
	return len(removed)
}

// ProbeLag 量測協作循環延遲
//
// 提交一個瑣碎的低優先級任務，計時它真正被執行前的等待時間，
// 作為循環壅塞程度的代理指標
func (s *Scheduler) ProbeLag(cb func(time.Duration)) {
	enqueued := s.clock.Now()
	// 關閉中的探測提交失敗可以忽略
	s.Submit("probe:lag", nil, types.PriorityLow, func(any) error {
		cb(s.clock.Now().Sub(enqueued))
		return nil
	})
}

// Stats 取得排程器統計
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	queued := s.queue.len()
	state := s.state
	s.mu.Unlock()
	return Stats{
		Queued:   queued,
		Dropped:  s.dropped.Load(),
		Rejected: s.rejected.Load(),
		Executed: s.executed.Load(),
		State:    state,
	}
}

// Shutdown 清空餘量後永久停止排程器
//
// 流程：
//  1. 拒絕新提交
//  2. 停止批次循環（週期觸發永久停止）
//  3. 將佇列中剩餘任務全部執行完畢（不受批次預算限制）
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWg.Wait()

	// 清空餘量
	for {
		s.mu.Lock()
		task, ok := s.queue.pop()
		s.mu.Unlock()
		if !ok {
			break
		}
		s.runTask(task)
	}

	s.mu.Lock()
	s.state = StateShutdown
	s.mu.Unlock()
	log.Info("Scheduler stopped", "executed", s.executed.Load(), "dropped", s.dropped.Load())
}

// ============================================================================
// 批次循環
// ============================================================================

// loop 批次循環主體：被喚醒或週期觸發時執行一輪批次
func (s *Scheduler) loop() {
	defer s.loopWg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.runBatch(s.budget)
	}
}

// runBatch 執行一輪批次：持續出佇列直到預算用盡或佇列清空
//
// 預算用盡但仍有工作時立即自我喚醒（Draining → Draining），
// 佇列清空時轉入 Idle 等待下一次提交或週期觸發
func (s *Scheduler) runBatch(budget time.Duration) int {
	deadline := s.clock.Now().Add(budget)
	executed := 0

	for {
		s.mu.Lock()
		task, ok := s.queue.pop()
		if !ok {
			if s.state == StateDraining {
				s.state = StateIdle
			}
			s.mu.Unlock()
			return executed
		}
		s.state = StateDraining
		s.mu.Unlock()

		s.runTask(task)
		executed++

		if !s.clock.Now().Before(deadline) {
			s.mu.Lock()
			remaining := s.queue.len() > 0
			s.mu.Unlock()
			if remaining {
				s.wakeLoop()
			}
			return executed
		}
	}
}

// runTask 執行單一任務：攔截 error 與 panic，保證資源釋放與結果記錄
func (s *Scheduler) runTask(task *types.Task) {
	start := s.clock.Now()
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				log.Error("Task handler panicked",
					"task", task.ID,
					"kind", task.Kind,
					"panic", r)
			}
		}()
		err = task.Handler(task.Payload)
	}()

	duration := s.clock.Now().Sub(start)
	s.executed.Add(1)
	if s.recorder != nil {
		s.recorder.RecordOperation(categoryScheduler, string(task.Kind),
			float64(duration)/float64(time.Millisecond), err == nil)
	}
	if err != nil {
		log.Warn("Task failed", "task", task.ID, "kind", task.Kind, "error", err)
	}
	s.finalize(task, types.Outcome{
		TaskID:   task.ID,
		Kind:     task.Kind,
		Err:      err,
		Duration: duration,
	})
}

// finalize 任務離開系統的唯一出口：釋放池化資源並通知 Done 回呼
func (s *Scheduler) finalize(task *types.Task, outcome types.Outcome) {
	if task.Release != nil {
		task.Release()
		task.Release = nil
	}
	if task.Done != nil {
		task.Done(outcome)
	}
}

// wakeLoop 非阻塞喚醒批次循環
func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
