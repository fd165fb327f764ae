// ============================================================================
// Otter-Perf 趨勢分析 - 快照差異計算
// ============================================================================
//
// Package: internal/trend
// 文件: trend.go
// 功能: 比較視窗兩端的歷史快照，計算操作、快取與系統指標的變化量
//
// 語義:
//   - 純函式：只讀兩個快照，絕不修改
//   - 報告只涵蓋兩個快照中皆存在的項目；單邊出現的操作或快取跳過
//   - 視窗內不足兩個快照時明確回報 ErrInsufficientData，不做猜測
//
// ============================================================================

package trend

import (
	"errors"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// ErrInsufficientData 視窗內快照不足兩個，無法計算趨勢
var ErrInsufficientData = errors.New("insufficient data: at least two snapshots required")

// Compute 計算兩個快照間的趨勢報告
//
// 參數說明：
//   - first: 視窗起點快照（較早）
//   - last: 視窗終點快照（較晚）
//
// 返回值：
//   - *types.TrendReport: 只含兩個快照皆有的操作與快取
//   - error: 兩個快照時間戳相同（實為同一快照）時回傳 ErrInsufficientData
func Compute(first, last types.Snapshot) (*types.TrendReport, error) {
	if !last.Timestamp.After(first.Timestamp) {
		return nil, ErrInsufficientData
	}

	report := &types.TrendReport{
		From:       first.Timestamp,
		To:         last.Timestamp,
		Operations: make(map[string]map[string]types.OperationDelta),
		Caches:     make(map[string]types.CacheDelta),
		System: types.SystemDelta{
			HeapAllocChange: int64(last.System.HeapAllocBytes) - int64(first.System.HeapAllocBytes),
			LagChange:       last.System.SchedulerLagMs - first.System.SchedulerLagMs,
		},
	}

	for category, lastOps := range last.Operations {
		firstOps, ok := first.Operations[category]
		if !ok {
			continue
		}
		for operation, lastStats := range lastOps {
			firstStats, ok := firstOps[operation]
			if !ok {
				continue
			}
			if report.Operations[category] == nil {
				report.Operations[category] = make(map[string]types.OperationDelta)
			}
			report.Operations[category][operation] = types.OperationDelta{
				CountChange:   lastStats.Count - firstStats.Count,
				AvgTimeChange: lastStats.AvgTime - firstStats.AvgTime,
				ErrorChange:   lastStats.ErrorCount - firstStats.ErrorCount,
			}
		}
	}

	for name, lastStats := range last.Caches {
		firstStats, ok := first.Caches[name]
		if !ok {
			continue
		}
		report.Caches[name] = types.CacheDelta{
			HitRateChange:  lastStats.HitRate() - firstStats.HitRate(),
			SizeChange:     lastStats.Size - firstStats.Size,
			EvictionChange: lastStats.Evictions - firstStats.Evictions,
		}
	}

	return report, nil
}

// FromHistory 從快照序列取視窗兩端計算趨勢
//
// snapshots 必須按時間遞增排列（Collector 的歷史天然如此）。
// 不足兩個快照時回傳 ErrInsufficientData
func FromHistory(snapshots []types.Snapshot) (*types.TrendReport, error) {
	if len(snapshots) < 2 {
		return nil, ErrInsufficientData
	}
	return Compute(snapshots[0], snapshots[len(snapshots)-1])
}
