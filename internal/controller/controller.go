// ============================================================================
// Otter-Perf 控制器 - 效能治理核心協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 系統核心控制器，持有並協調所有效能治理組件
//
// 架構設計:
//   這是整個子系統的"大腦"，以單一明確的 context 物件取代模組層級
//   的單例狀態：宿主應用程式建構一次，傳參考給所有呼叫端，
//   生命週期由明確的 Start/Stop 管理。持有以下組件：
//   - Scheduler: 協作式優先任務排程器（有界佇列 + 批次執行）
//   - pool.Registry: 可重用物件資源池
//   - cache.Store: 記憶化快取與身份鍵側表
//   - metrics.Collector: 操作/快取/系統指標與快照歷史
//   - monitor.Monitor: 閾值檢查與警報廣播
//   - worker.Pool: 重型純計算卸載單元
//
// 核心循環 (3 個並發 Goroutine):
//   1. Sample Loop - 定期採樣程序層級記憶體與 goroutine 數
//   2. Probe Loop  - 定期提交瑣碎任務量測協作循環延遲
//   3. Cycle Loop  - 定期建立指標快照並執行閾值檢查、廣播警報
//
// 關閉順序:
//   1. close(stopCh) 通知所有循環退出
//   2. loopWg.Wait() 等待循環停止（不再有人碰排程器與收集器）
//   3. Scheduler.Shutdown() 清空佇列餘量
//   4. worker.Pool.Stop() 等待進行中的卸載計算完成
//   5. Monitor.Close() 關閉警報訂閱通道
//
// ============================================================================

package controller

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"

	"github.com/ChuLiYu/otter-perf/internal/cache"
	"github.com/ChuLiYu/otter-perf/internal/metrics"
	"github.com/ChuLiYu/otter-perf/internal/monitor"
	"github.com/ChuLiYu/otter-perf/internal/pool"
	"github.com/ChuLiYu/otter-perf/internal/scheduler"
	"github.com/ChuLiYu/otter-perf/internal/trend"
	"github.com/ChuLiYu/otter-perf/internal/worker"
	"github.com/ChuLiYu/otter-perf/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 配置
// ============================================================================

// 預設循環間隔
const (
	DefaultSampleInterval   = 5 * time.Second
	DefaultProbeInterval    = 2 * time.Second
	DefaultSnapshotInterval = 10 * time.Second
)

// Config Controller 配置，全部在建構時提供、存於記憶體
type Config struct {
	MaxQueueSize int           // 排程佇列上限
	TickInterval time.Duration // 排程循環週期
	BatchBudget  time.Duration // 單批次時間預算

	CacheEntryLimit int // 每個具名快取的條目上限
	HistoryLimit    int // 快照歷史保留數量

	WorkerCount  int // 卸載單元 worker 數量
	WorkerBuffer int // 卸載呼叫通道緩衝

	SampleInterval   time.Duration // 系統採樣間隔
	ProbeInterval    time.Duration // 延遲探測間隔
	SnapshotInterval time.Duration // 快照與閾值檢查間隔

	Thresholds types.Thresholds // 告警閾值，零值欄位停用

	Registry prometheus.Registerer // 非 nil 時啟用 Prometheus 匯出
	Clock    clockz.Clock          // 時間來源，nil 時使用真實時鐘
}

// Controller 效能治理核心控制器
type Controller struct {
	scheduler *scheduler.Scheduler
	pools     *pool.Registry
	cache     *cache.Store
	collector *metrics.Collector
	monitor   *monitor.Monitor
	workers   *worker.Pool

	config    Config
	clock     clockz.Clock
	stopCh    chan struct{}
	loopWg    sync.WaitGroup
	startTime time.Time

	mu      sync.Mutex
	started bool
	stopped bool
}

// ============================================================================
// 建構與生命週期
// ============================================================================

// NewController 建構所有組件並完成接線（尚未啟動任何循環）
func NewController(config Config) (*Controller, error) {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultSampleInterval
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultProbeInterval
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = DefaultSnapshotInterval
	}
	clock := config.Clock
	if clock == nil {
		clock = clockz.RealClock
	}

	// 1. 指標收集器（可選 Prometheus 橋接）
	var bridge *metrics.Bridge
	if config.Registry != nil {
		bridge = metrics.NewBridge(config.Registry)
	}
	collector := metrics.NewCollector(metrics.Config{
		HistoryLimit: config.HistoryLimit,
		Clock:        clock,
		Bridge:       bridge,
	})

	// 2. 閾值監控
	mon := monitor.NewMonitor(config.Thresholds)

	// 3. 排程器（完成與失敗記入收集器）
	sched := scheduler.New(scheduler.Config{
		MaxQueueSize: config.MaxQueueSize,
		TickInterval: config.TickInterval,
		BatchBudget:  config.BatchBudget,
		Recorder:     collector,
		Clock:        clock,
	})

	// 4. 資源池與快取（hit/miss 記入收集器）
	pools := pool.NewRegistry(collector)
	store := cache.NewStore(cache.Config{
		EntryLimit: config.CacheEntryLimit,
		Recorder:   collector,
	})

	// 5. 卸載單元（崩潰升級為 CRITICAL 警報）
	workers := worker.NewPool(worker.Config{
		Buffer:   config.WorkerBuffer,
		Recorder: collector,
		Escalate: mon.Escalate,
	})

	return &Controller{
		scheduler: sched,
		pools:     pools,
		cache:     store,
		collector: collector,
		monitor:   mon,
		workers:   workers,
		config:    config,
		clock:     clock,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start 啟動卸載單元與三個觀測循環
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	c.startTime = time.Now()

	if err := c.workers.Start(c.config.WorkerCount); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	c.loopWg.Add(3)
	go c.sampleLoop()
	go c.probeLoop()
	go c.cycleLoop()

	log.Info("Controller started",
		"workers", c.workers.WorkerCount(),
		"snapshot_interval", c.config.SnapshotInterval)
	return nil
}

// Stop 優雅關閉：先停循環，再清空排程器，最後停卸載單元
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		log.Info("Controller already stopped")
		return
	}
	c.stopped = true
	c.mu.Unlock()

	log.Info("Stopping controller...")

	close(c.stopCh)
	c.loopWg.Wait()

	c.scheduler.Shutdown()
	c.workers.Stop()

	// 保留最終狀態的一份快照
	c.collector.Snapshot()
	c.monitor.Close()

	log.Info("Controller stopped", "uptime", time.Since(c.startTime))
}

// ============================================================================
// 三個觀測循環
// ============================================================================

// sampleLoop 定期採樣程序層級指標
func (c *Controller) sampleLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Sample loop stopped")
			return
		case <-ticker.C:
			c.collector.CollectSystemMetrics()
		}
	}
}

// probeLoop 定期量測協作循環延遲
func (c *Controller) probeLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Probe loop stopped")
			return
		case <-ticker.C:
			c.scheduler.ProbeLag(c.collector.RecordSchedulerLag)
		}
	}
}

// cycleLoop 定期建立快照並執行閾值檢查
func (c *Controller) cycleLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Cycle loop stopped")
			return
		case <-ticker.C:
			snap := c.collector.Snapshot()
			alerts := c.monitor.Check(snap)
			if len(alerts) > 0 {
				log.Warn("Threshold check found breaches", "alerts", len(alerts))
			}
		}
	}
}

// ============================================================================
// 公開介面
// ============================================================================

// Scheduler 取得任務排程器
func (c *Controller) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Pools 取得資源池註冊表
func (c *Controller) Pools() *pool.Registry { return c.pools }

// Cache 取得記憶化快取儲存
func (c *Controller) Cache() *cache.Store { return c.cache }

// Workers 取得重型計算卸載單元
func (c *Controller) Workers() *worker.Pool { return c.workers }

// Collector 取得指標收集器
func (c *Controller) Collector() *metrics.Collector { return c.collector }

// Submit 提交任務給排程器
func (c *Controller) Submit(kind types.TaskKind, payload any, priority types.Priority, handler types.Handler) (types.TaskID, error) {
	return c.scheduler.Submit(kind, payload, priority, handler)
}

// Alerts 訂閱警報串流
func (c *Controller) Alerts(buffer int) <-chan types.Alert {
	return c.monitor.Subscribe(buffer)
}

// GetMetrics 取得目前指標狀態的深拷貝快照（不進入歷史）
func (c *Controller) GetMetrics() types.Snapshot {
	return c.collector.Current()
}

// GetTrend 計算指定視窗內的趨勢報告
//
// 視窗內不足兩個快照時返回 trend.ErrInsufficientData
func (c *Controller) GetTrend(window time.Duration) (*types.TrendReport, error) {
	return trend.FromHistory(c.collector.SnapshotsInWindow(window))
}

// GetStatus 取得系統狀態摘要
func (c *Controller) GetStatus() map[string]any {
	stats := c.scheduler.Stats()
	snap := c.collector.Current()

	return map[string]any{
		"uptime":   time.Since(c.startTime).String(),
		"workers":  c.workers.WorkerCount(),
		"state":    stats.State.String(),
		"queued":   stats.Queued,
		"executed": stats.Executed,
		"dropped":  stats.Dropped,
		"rejected": stats.Rejected,
		"history":  len(c.collector.History()),
		"heap":     snap.System.HeapAllocBytes,
		"lag_ms":   snap.System.SchedulerLagMs,
	}
}
