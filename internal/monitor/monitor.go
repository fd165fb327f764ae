// ============================================================================
// Otter-Perf 閾值監控 - 指標越界警報
// ============================================================================
//
// Package: internal/monitor
// 文件: monitor.go
// 功能: 對指標快照做純函式閾值檢查，並廣播警報給訂閱者
//
// 設計理念:
//   1. CheckThresholds 是純函式 - 只讀快照，絕不修改指標，
//      每個越界恰好產生一則警報
//   2. 嚴重度分級 - 軟性上限（平均耗時、命中率、循環延遲）為 WARNING，
//      硬性上限（記憶體天花板、錯誤率）為 CRITICAL
//   3. 警報是暫態的 - 只發射、不儲存；日誌與儀表板是外部協作者
//   4. 發布永不阻塞 - 訂閱者緩衝滿時丟棄該訂閱者的這則警報並記錄，
//      慢速消費者不能拖慢監控循環
//
// 閾值語義: 零值閾值代表停用該項檢查
//
// ============================================================================

package monitor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

var log = slog.Default()

// DefaultSubscriberBuffer 訂閱通道的預設緩衝大小
const DefaultSubscriberBuffer = 16

// CheckThresholds 比對快照與配置閾值，回傳所有越界警報
//
// 純函式：不修改輸入、不產生副作用。每個越界恰好一則警報
func CheckThresholds(snap types.Snapshot, th types.Thresholds) []types.Alert {
	var alerts []types.Alert

	for category, ops := range snap.Operations {
		for operation, stats := range ops {
			name := category + ":" + operation

			if th.MaxAvgTimeMs > 0 && stats.AvgTime > th.MaxAvgTimeMs {
				alerts = append(alerts, types.Alert{
					Type:     types.AlertSlowOperation,
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("operation %s average time %.2fms exceeds limit %.2fms", name, stats.AvgTime, th.MaxAvgTimeMs),
					Context: map[string]any{
						"operation": name,
						"avg_ms":    stats.AvgTime,
						"limit_ms":  th.MaxAvgTimeMs,
					},
				})
			}

			if th.MaxErrorRate > 0 && stats.Count > 0 {
				rate := float64(stats.ErrorCount) / float64(stats.Count)
				if rate > th.MaxErrorRate {
					alerts = append(alerts, types.Alert{
						Type:     types.AlertErrorRate,
						Severity: types.SeverityCritical,
						Message:  fmt.Sprintf("operation %s error rate %.2f%% exceeds limit %.2f%%", name, rate*100, th.MaxErrorRate*100),
						Context: map[string]any{
							"operation":  name,
							"error_rate": rate,
							"limit":      th.MaxErrorRate,
							"errors":     stats.ErrorCount,
							"count":      stats.Count,
						},
					})
				}
			}
		}
	}

	for name, stats := range snap.Caches {
		if th.MinCacheHitRate <= 0 {
			break
		}
		// 尚未被存取過的快取不評斷命中率
		if stats.Hits+stats.Misses == 0 {
			continue
		}
		rate := stats.HitRate()
		if rate < th.MinCacheHitRate {
			alerts = append(alerts, types.Alert{
				Type:     types.AlertLowHitRate,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("cache %s hit rate %.2f%% below minimum %.2f%%", name, rate*100, th.MinCacheHitRate*100),
				Context: map[string]any{
					"cache":    name,
					"hit_rate": rate,
					"minimum":  th.MinCacheHitRate,
				},
			})
		}
	}

	if th.MaxMemoryBytes > 0 && snap.System.HeapAllocBytes > th.MaxMemoryBytes {
		alerts = append(alerts, types.Alert{
			Type:     types.AlertMemoryUsage,
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("heap usage %d bytes exceeds ceiling %d bytes", snap.System.HeapAllocBytes, th.MaxMemoryBytes),
			Context: map[string]any{
				"heap_bytes": snap.System.HeapAllocBytes,
				"limit":      th.MaxMemoryBytes,
			},
		})
	}

	if th.MaxLagMs > 0 && snap.System.SchedulerLagMs > th.MaxLagMs {
		alerts = append(alerts, types.Alert{
			Type:     types.AlertSchedulerLag,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("scheduler lag %.2fms exceeds limit %.2fms", snap.System.SchedulerLagMs, th.MaxLagMs),
			Context: map[string]any{
				"lag_ms":   snap.System.SchedulerLagMs,
				"limit_ms": th.MaxLagMs,
			},
		})
	}

	return alerts
}

// Monitor 警報廣播器
//
// 併發安全：Subscribe / Check / Escalate / Close 可跨 goroutine 呼叫
type Monitor struct {
	mu         sync.Mutex
	thresholds types.Thresholds
	subs       []chan types.Alert
	closed     bool
}

// NewMonitor 以配置閾值建立監控器
func NewMonitor(th types.Thresholds) *Monitor {
	return &Monitor{thresholds: th}
}

// Subscribe 註冊一個警報訂閱通道
//
// buffer <=0 時使用 DefaultSubscriberBuffer。通道在 Close 時關閉
func (m *Monitor) Subscribe(buffer int) <-chan types.Alert {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan types.Alert, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Check 對快照執行閾值檢查並廣播所有越界警報
func (m *Monitor) Check(snap types.Snapshot) []types.Alert {
	alerts := CheckThresholds(snap, m.thresholds)
	for _, alert := range alerts {
		m.Escalate(alert)
	}
	return alerts
}

// Escalate 直接廣播一則警報（供系統性故障升級使用，例如工作單元崩潰）
func (m *Monitor) Escalate(alert types.Alert) {
	log.Warn("Alert raised",
		"type", string(alert.Type),
		"severity", string(alert.Severity),
		"message", alert.Message)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- alert:
		default:
			log.Warn("Alert dropped for slow subscriber", "type", string(alert.Type))
		}
	}
}

// Thresholds 取得目前配置的閾值
func (m *Monitor) Thresholds() types.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Close 關閉所有訂閱通道，之後的警報被丟棄
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
