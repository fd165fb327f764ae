// ============================================================================
// Otter-Perf Metrics Collector - 操作 / 快取 / 系統指標
// ============================================================================
//
// Package: internal/metrics
// 文件: collector.go
// 功能: 收集操作耗時、快取命中與程序層級採樣，維護有界快照歷史
//
// 設計理念:
//   1. 單一 Collector 作為所有觀測資料的匯聚點（排程器、資源池、快取
//      都只透過明確的記錄呼叫寫入，不做隱式攔截）
//   2. 快照恆深拷貝 - 任務循環與週期性計時器都會觸碰同一份指標結構，
//      歷史與告警只能拿到複本，避免之後的原地更新汙染已記錄的狀態
//   3. 歷史為有界環形緩衝 - 超過保留上限時淘汰最舊快照
//
// 不變量:
//   - count > 0 時 AvgTime == TotalTime / Count（每次記錄後重算）
//   - len(history) <= historyLimit
//
// 併發安全:
//   - 所有讀寫都由 sync.Mutex 保護
//   - 時間來源注入 clockz.Clock，測試可使用 FakeClock
//
// ============================================================================

package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// DefaultHistoryLimit 快照歷史的預設保留筆數
const DefaultHistoryLimit = 60

// Config Collector 配置
type Config struct {
	HistoryLimit int          // 快照歷史保留筆數，<=0 時使用 DefaultHistoryLimit
	Clock        clockz.Clock // 時間來源，nil 時使用真實時鐘
	Bridge       *Bridge      // Prometheus 橋接，nil 時停用匯出
}

// Collector 指標收集器
type Collector struct {
	mu           sync.Mutex
	clock        clockz.Clock
	operations   map[string]map[string]*types.OperationStats // category → operation → stats
	caches       map[string]*types.CacheStats
	system       types.SystemStats
	history      []types.Snapshot
	historyLimit int
	bridge       *Bridge
}

// NewCollector 建立新的指標收集器
func NewCollector(cfg Config) *Collector {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Collector{
		clock:        clock,
		operations:   make(map[string]map[string]*types.OperationStats),
		caches:       make(map[string]*types.CacheStats),
		history:      make([]types.Snapshot, 0, limit),
		historyLimit: limit,
		bridge:       cfg.Bridge,
	}
}

// RecordOperation 記錄一次操作執行
//
// 參數說明：
//   - category: 操作分類（例如 "scheduler"、"pool"）
//   - operation: 操作名稱（通常為任務種類）
//   - durationMs: 耗時（毫秒）
//   - success: 執行是否成功
//
// 每次記錄後重算 AvgTime，維持 AvgTime == TotalTime / Count
//
// 併發安全：使用互斥鎖保護
func (c *Collector) RecordOperation(category, operation string, durationMs float64, success bool) {
	c.mu.Lock()
	ops, ok := c.operations[category]
	if !ok {
		ops = make(map[string]*types.OperationStats)
		c.operations[category] = ops
	}
	stats, ok := ops[operation]
	if !ok {
		stats = &types.OperationStats{}
		ops[operation] = stats
	}

	stats.Count++
	stats.TotalTime += durationMs
	stats.AvgTime = stats.TotalTime / float64(stats.Count)
	if !success {
		stats.ErrorCount++
	}
	c.mu.Unlock()

	if c.bridge != nil {
		c.bridge.observeOperation(category, operation, durationMs, success)
	}
}

// RecordCacheEvent 記錄一次快取存取
//
// 參數說明：
//   - name: 快取名稱
//   - hit: 是否命中
//   - size: 事件發生後的快取大小
//   - eviction: 此次存取是否伴隨淘汰
//
// 併發安全：使用互斥鎖保護
func (c *Collector) RecordCacheEvent(name string, hit bool, size int, eviction bool) {
	c.mu.Lock()
	stats, ok := c.caches[name]
	if !ok {
		stats = &types.CacheStats{}
		c.caches[name] = stats
	}
	// 淘汰通知只更新大小與淘汰數，不計入 hit/miss
	if eviction {
		stats.Evictions++
	} else if hit {
		stats.Hits++
	} else {
		stats.Misses++
	}
	stats.Size = size
	c.mu.Unlock()

	if c.bridge != nil {
		c.bridge.observeCacheEvent(name, hit, size, eviction)
	}
}

// RecordSchedulerLag 記錄協作循環延遲探測結果
//
// 延遲值由 Controller 透過排程器的探測任務量測：
// 提交一個瑣碎任務並計時它真正被執行前的等待時間
func (c *Collector) RecordSchedulerLag(lag time.Duration) {
	c.mu.Lock()
	c.system.SchedulerLagMs = float64(lag) / float64(time.Millisecond)
	c.mu.Unlock()
}

// CollectSystemMetrics 採樣程序層級指標（堆積使用量、goroutine 數）
//
// 由 Controller 的週期循環呼叫；排程延遲另由 RecordSchedulerLag 寫入
func (c *Collector) CollectSystemMetrics() types.SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	c.system.HeapAllocBytes = ms.HeapAlloc
	c.system.HeapSysBytes = ms.HeapSys
	c.system.NumGoroutine = runtime.NumGoroutine()
	sys := c.system
	c.mu.Unlock()

	if c.bridge != nil {
		c.bridge.observeSystem(sys)
	}
	return sys
}

// Current 取得目前指標狀態的深拷貝（不寫入歷史）
//
// 返回值永遠是複本，呼叫端可任意持有或修改
func (c *Collector) Current() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Snapshot 深拷貝目前指標狀態並寫入歷史
//
// 歷史為有界環形緩衝：超過保留上限時淘汰最舊的一筆
func (c *Collector) Snapshot() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshotLocked()
	if len(c.history) >= c.historyLimit {
		// 淘汰最舊快照
		copy(c.history, c.history[1:])
		c.history = c.history[:len(c.history)-1]
	}
	c.history = append(c.history, snap)
	return snap
}

// History 回傳歷史快照複本（由舊到新）
func (c *Collector) History() []types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// SnapshotsInWindow 回傳落在 [now-window, now] 內的歷史快照（由舊到新）
//
// 用於趨勢分析的輸入；不足兩筆時由呼叫端判定資料不足
func (c *Collector) SnapshotsInWindow(window time.Duration) []types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock.Now().Add(-window)
	var out []types.Snapshot
	for _, snap := range c.history {
		if !snap.Timestamp.Before(cutoff) {
			out = append(out, snap)
		}
	}
	return out
}

// snapshotLocked 在持鎖狀態下深拷貝所有指標
func (c *Collector) snapshotLocked() types.Snapshot {
	opsCopy := make(map[string]map[string]types.OperationStats, len(c.operations))
	for category, ops := range c.operations {
		inner := make(map[string]types.OperationStats, len(ops))
		for name, stats := range ops {
			inner[name] = *stats
		}
		opsCopy[category] = inner
	}

	cachesCopy := make(map[string]types.CacheStats, len(c.caches))
	for name, stats := range c.caches {
		cachesCopy[name] = *stats
	}

	return types.Snapshot{
		Timestamp:  c.clock.Now(),
		Operations: opsCopy,
		Caches:     cachesCopy,
		System:     c.system,
	}
}
