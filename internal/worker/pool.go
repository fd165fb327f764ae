// ============================================================================
// Otter-Perf Worker Pool - 重型計算卸載器
// ============================================================================
//
// Package: internal/worker
// 文件: pool.go
// 功能: 管理多個 worker goroutine 的生命週期與計算分發
//
// 設計動機:
//   協作式排程循環是單一執行 goroutine：任何長時間計算都會卡住整個佇列。
//   真正的平行計算只能透過把指定的重型純計算卸載到隔離的工作單元達成，
//   以訊息傳遞溝通，用呼叫識別碼回配結果，讓協調端能持續清空佇列
//
// 併發控制:
//   - callCh: 帶緩衝的呼叫通道，分發計算給 worker
//   - 每個呼叫有專屬的容量 1 結果通道，結果投遞永不阻塞 worker
//   - WaitGroup 追蹤所有 worker，確保優雅關閉
//   - Mutex 保護 started/stopped 狀態
//
// 截止時間:
//   呼叫端透過 context 提供截止時間：Wait 在結果與 ctx.Done 之間擇先，
//   超時的計算結果事後送達時被靜默丟棄（專屬通道有緩衝，worker 不阻塞）
//
// 優雅關閉:
//   Stop() 流程：
//   1. 關閉 stopCh，不再接受新呼叫
//   2. 關閉 callCh，worker 處理完當前計算後退出
//   3. WaitGroup 等待所有 worker 完成
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 卸載池已關閉，無法提交新計算
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 卸載池尚未啟動
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrNilCompute 提交了空的計算函式
	ErrNilCompute = errors.New("compute function is required")
)

// categoryWorker 卸載計算回報指標時使用的分類名稱
const categoryWorker = "worker"

// Recorder 卸載計算的指標記錄端（由 metrics.Collector 實作）
type Recorder interface {
	RecordOperation(category, operation string, durationMs float64, success bool)
}

// Config 卸載池配置
type Config struct {
	Buffer   int                     // 呼叫通道緩衝大小，<=0 時預設 16
	Recorder Recorder                // 可為 nil
	Escalate func(alert types.Alert) // 系統性故障升級掛鉤，可為 nil
}

// Pool 重型計算卸載池
type Pool struct {
	callCh   chan Call
	stopCh   chan struct{}
	wg       sync.WaitGroup
	recorder Recorder
	onAlert  func(types.Alert)

	mu      sync.Mutex
	started bool
	stopped bool
	workers int
}

// NewPool 建立卸載池（尚未啟動任何 worker）
func NewPool(cfg Config) *Pool {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Pool{
		callCh:   make(chan Call, buffer),
		stopCh:   make(chan struct{}),
		recorder: cfg.Recorder,
		onAlert:  cfg.Escalate,
	}
}

// Start 啟動指定數量的 worker goroutine
func (p *Pool) Start(workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}

	for i := 0; i < workerCount; i++ {
		r := &runner{id: i, pool: p}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			r.run()
		}()
	}

	p.started = true
	p.workers = workerCount
	log.Info("Worker pool started", "workers", workerCount)
	return nil
}

// Offload 提交一個重型純計算
//
// 參數說明：
//   - ctx: 呼叫端提供的截止時間與取消
//   - kind: 計算種類名稱
//   - fn: 計算本體，必須尊重 ctx
//
// 返回值：
//   - <-chan Result: 專屬結果通道，恰好投遞一個結果
//   - string: 呼叫識別碼，與結果中的 CallID 對應
//   - error: 池未啟動或已關閉時返回錯誤
func (p *Pool) Offload(ctx context.Context, kind string, fn Compute) (<-chan Result, string, error) {
	if fn == nil {
		return nil, "", ErrNilCompute
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, "", ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return nil, "", ErrPoolClosed
	}
	callCh := p.callCh
	stopCh := p.stopCh
	p.mu.Unlock()

	call := Call{
		ID:       uuid.NewString(),
		Kind:     kind,
		Fn:       fn,
		ctx:      ctx,
		resultCh: make(chan Result, 1),
	}

	// 停止訊號與呼叫端取消都能讓提交安全退出
	select {
	case callCh <- call:
		return call.resultCh, call.ID, nil
	case <-stopCh:
		return nil, "", ErrPoolClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Wait 等待卸載結果，呼叫端截止時間優先
//
// ctx 先到期時返回 ctx.Err()；遲到的結果會被留在緩衝通道中丟棄，
// 不會阻塞任何 worker
func Wait(ctx context.Context, resultCh <-chan Result) (Result, error) {
	select {
	case result := <-resultCh:
		return result, result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run 卸載並同步等待結果的便利方法
func (p *Pool) Run(ctx context.Context, kind string, fn Compute) (any, error) {
	resultCh, _, err := p.Offload(ctx, kind, fn)
	if err != nil {
		return nil, err
	}
	result, err := Wait(ctx, resultCh)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// WorkerCount 返回已啟動的 worker 數量
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Stop 優雅關閉卸載池：拒絕新呼叫，等待進行中的計算完成
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	close(p.callCh)
	p.wg.Wait()
	log.Info("Worker pool stopped")
}

// escalate 將系統性故障交給升級掛鉤
func (p *Pool) escalate(alert types.Alert) {
	if p.onAlert != nil {
		p.onAlert(alert)
	}
}
