// Package types 定義了 otter-perf 系統中使用的核心領域模型
package types

import (
	"time"
)

// TaskID 任務唯一識別碼
type TaskID string

// TaskKind 任務種類識別字串（例如 "memory:store"、"emotion:update"）
type TaskKind string

// Priority 任務優先級，數值越大越緊急
type Priority int

// 常用優先級常數（呼叫端也可使用任意整數值）
const (
	PriorityLow      Priority = 1  // 背景工作
	PriorityNormal   Priority = 5  // 一般工作
	PriorityHigh     Priority = 10 // 互動性工作
	PriorityCritical Priority = 20 // 必須立即處理的工作
)

// Handler 任務處理函式
// 由排程器在協作式批次循環中呼叫，必須是短工作（不會被搶佔）
type Handler func(payload any) error

// Task 任務結構，代表系統中的一個排程單元
// 從入佇列到完成，Task 由排程器獨佔持有
type Task struct {
	ID         TaskID   `json:"id"`          // 任務唯一識別碼
	Kind       TaskKind `json:"kind"`        // 任務種類（同時作為指標的 operation 名稱）
	Payload    any      `json:"payload"`     // 不透明資料載荷，核心不解讀其內容
	Priority   Priority `json:"priority"`    // 優先級，越大越先執行
	EnqueuedAt int64    `json:"enqueued_at"` // 入佇列時間（Unix 毫秒）

	// Handler 任務執行邏輯；Done 於執行或淘汰後被呼叫（可為 nil）
	Handler Handler       `json:"-"`
	Done    func(Outcome) `json:"-"`

	// Release 釋放任務附帶的池化資源
	// 排程器保證不論執行成功、失敗、panic 或被淘汰都會呼叫一次
	Release func() `json:"-"`
}

// Outcome 任務最終結果
type Outcome struct {
	TaskID   TaskID        `json:"task_id"`
	Kind     TaskKind      `json:"kind"`
	Evicted  bool          `json:"evicted"` // true 表示從未執行（佇列溢位被淘汰或關閉時丟棄）
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// ============================================================================
// 指標資料模型
// ============================================================================

// OperationStats 單一 (category, operation) 的操作統計
// 不變量：count > 0 時 AvgTime 恆等於 TotalTime / Count
type OperationStats struct {
	Count      int64   `json:"count"`       // 執行次數
	TotalTime  float64 `json:"total_time"`  // 累計耗時（毫秒）
	AvgTime    float64 `json:"avg_time"`    // 平均耗時（毫秒）
	ErrorCount int64   `json:"error_count"` // 失敗次數
}

// CacheStats 單一具名快取的統計
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Size      int   `json:"size"`
	Evictions int64 `json:"evictions"`
}

// HitRate 回傳快取命中率；無任何存取時回傳 1（視為健康）
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1
	}
	return float64(s.Hits) / float64(total)
}

// SystemStats 程序層級採樣
type SystemStats struct {
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"` // 目前堆積使用量
	HeapSysBytes   uint64  `json:"heap_sys_bytes"`   // 向作業系統要求的堆積大小
	NumGoroutine   int     `json:"num_goroutine"`    // goroutine 數量
	SchedulerLagMs float64 `json:"scheduler_lag_ms"` // 協作循環延遲探測值（毫秒）
}

// Snapshot 指標狀態的不可變時間點複本
// 建立後不得再被修改；所有 map 均為深拷貝
type Snapshot struct {
	Timestamp  time.Time                            `json:"timestamp"`
	Operations map[string]map[string]OperationStats `json:"operations"` // category → operation → stats
	Caches     map[string]CacheStats                `json:"caches"`
	System     SystemStats                          `json:"system"`
}

// ============================================================================
// 告警與門檻
// ============================================================================

// Severity 告警嚴重程度
type Severity string

const (
	SeverityWarning  Severity = "WARNING"  // 軟性限制（平均耗時、命中率、循環延遲）
	SeverityCritical Severity = "CRITICAL" // 硬性限制（錯誤率、記憶體上限、系統性故障）
)

// AlertType 告警類型
type AlertType string

const (
	AlertSlowOperation AlertType = "slow_operation"
	AlertErrorRate     AlertType = "error_rate"
	AlertLowHitRate    AlertType = "low_cache_hit_rate"
	AlertMemoryUsage   AlertType = "memory_usage"
	AlertSchedulerLag  AlertType = "scheduler_lag"
	AlertWorkerCrash   AlertType = "worker_crash"
)

// Alert 門檻告警，屬於暫態事件，只發布、不儲存
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"` // 觸發當下的指標上下文
}

// Thresholds 門檻設定，零值欄位表示停用該項檢查
type Thresholds struct {
	MaxAvgTimeMs    float64 `yaml:"max_avg_time_ms" json:"max_avg_time_ms"`       // 軟性：單操作平均耗時上限
	MaxErrorRate    float64 `yaml:"max_error_rate" json:"max_error_rate"`         // 硬性：單操作錯誤率上限（0~1）
	MinCacheHitRate float64 `yaml:"min_cache_hit_rate" json:"min_cache_hit_rate"` // 軟性：快取命中率下限（0~1）
	MaxMemoryBytes  uint64  `yaml:"max_memory_bytes" json:"max_memory_bytes"`     // 硬性：堆積使用量上限
	MaxLagMs        float64 `yaml:"max_lag_ms" json:"max_lag_ms"`                 // 軟性：排程循環延遲上限
}

// ============================================================================
// 趨勢分析
// ============================================================================

// OperationDelta 兩個快照間單一操作的變化量
type OperationDelta struct {
	CountChange   int64   `json:"count_change"`
	AvgTimeChange float64 `json:"avg_time_change"`
	ErrorChange   int64   `json:"error_change"`
}

// CacheDelta 兩個快照間單一快取的變化量
type CacheDelta struct {
	HitRateChange  float64 `json:"hit_rate_change"`
	SizeChange     int     `json:"size_change"`
	EvictionChange int64   `json:"eviction_change"`
}

// SystemDelta 系統層級採樣變化量
type SystemDelta struct {
	HeapAllocChange int64   `json:"heap_alloc_change"` // 位元組差，可為負
	LagChange       float64 `json:"lag_change"`        // 毫秒差，可為負
}

// TrendReport 趨勢報告：只涵蓋兩個快照中皆存在的項目
type TrendReport struct {
	From       time.Time                            `json:"from"`
	To         time.Time                            `json:"to"`
	Operations map[string]map[string]OperationDelta `json:"operations"`
	Caches     map[string]CacheDelta                `json:"caches"`
	System     SystemDelta                          `json:"system"`
}
