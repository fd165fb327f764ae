package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

func snapshotWithOperation(category, operation string, stats types.OperationStats) types.Snapshot {
	return types.Snapshot{
		Operations: map[string]map[string]types.OperationStats{
			category: {operation: stats},
		},
	}
}

func countByType(alerts []types.Alert, at types.AlertType) int {
	n := 0
	for _, a := range alerts {
		if a.Type == at {
			n++
		}
	}
	return n
}

func TestSlowOperationWarning(t *testing.T) {
	th := types.Thresholds{MaxAvgTimeMs: 100}

	snap := snapshotWithOperation("memory", "store", types.OperationStats{
		Count: 3, TotalTime: 450, AvgTime: 150,
	})
	alerts := CheckThresholds(snap, th)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertSlowOperation, alerts[0].Type)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "memory:store")

	// 未越界時不產生任何警報
	snap = snapshotWithOperation("memory", "store", types.OperationStats{
		Count: 3, TotalTime: 150, AvgTime: 50,
	})
	assert.Empty(t, CheckThresholds(snap, th))
}

func TestErrorRateCritical(t *testing.T) {
	th := types.Thresholds{MaxErrorRate: 0.1}

	snap := snapshotWithOperation("scheduler", "test:work", types.OperationStats{
		Count: 10, ErrorCount: 3,
	})
	alerts := CheckThresholds(snap, th)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertErrorRate, alerts[0].Type)
	assert.Equal(t, types.SeverityCritical, alerts[0].Severity)
}

func TestLowHitRateWarning(t *testing.T) {
	th := types.Thresholds{MinCacheHitRate: 0.5}

	snap := types.Snapshot{
		Caches: map[string]types.CacheStats{
			"cold":      {Hits: 1, Misses: 9},
			"warm":      {Hits: 9, Misses: 1},
			"untouched": {},
		},
	}
	alerts := CheckThresholds(snap, th)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertLowHitRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "cold")
}

func TestSystemThresholds(t *testing.T) {
	th := types.Thresholds{MaxMemoryBytes: 1 << 20, MaxLagMs: 50}

	snap := types.Snapshot{
		System: types.SystemStats{
			HeapAllocBytes: 2 << 20,
			SchedulerLagMs: 120,
		},
	}
	alerts := CheckThresholds(snap, th)
	require.Len(t, alerts, 2)
	assert.Equal(t, 1, countByType(alerts, types.AlertMemoryUsage))
	assert.Equal(t, 1, countByType(alerts, types.AlertSchedulerLag))

	for _, a := range alerts {
		if a.Type == types.AlertMemoryUsage {
			assert.Equal(t, types.SeverityCritical, a.Severity)
		}
		if a.Type == types.AlertSchedulerLag {
			assert.Equal(t, types.SeverityWarning, a.Severity)
		}
	}
}

func TestZeroThresholdsDisableChecks(t *testing.T) {
	snap := types.Snapshot{
		Operations: map[string]map[string]types.OperationStats{
			"x": {"y": {Count: 10, AvgTime: 1e9, ErrorCount: 10}},
		},
		Caches: map[string]types.CacheStats{"z": {Misses: 100}},
		System: types.SystemStats{HeapAllocBytes: 1 << 40, SchedulerLagMs: 1e6},
	}
	assert.Empty(t, CheckThresholds(snap, types.Thresholds{}))
}

func TestExactlyOneAlertPerBreach(t *testing.T) {
	th := types.Thresholds{MaxAvgTimeMs: 10, MaxErrorRate: 0.01}

	// 同一操作同時違反兩條閾值：每條各一則，不多不少
	snap := snapshotWithOperation("io", "read", types.OperationStats{
		Count: 4, TotalTime: 200, AvgTime: 50, ErrorCount: 2,
	})
	alerts := CheckThresholds(snap, th)
	assert.Len(t, alerts, 2)
	assert.Equal(t, 1, countByType(alerts, types.AlertSlowOperation))
	assert.Equal(t, 1, countByType(alerts, types.AlertErrorRate))
}

func TestMonitorBroadcast(t *testing.T) {
	m := NewMonitor(types.Thresholds{MaxAvgTimeMs: 10})
	defer m.Close()

	sub := m.Subscribe(4)

	snap := snapshotWithOperation("io", "read", types.OperationStats{Count: 1, AvgTime: 99})
	alerts := m.Check(snap)
	require.Len(t, alerts, 1)

	got := <-sub
	assert.Equal(t, types.AlertSlowOperation, got.Type)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor(types.Thresholds{})
	defer m.Close()

	// 緩衝 1 且無人消費：第二則被丟棄，Escalate 不阻塞
	m.Subscribe(1)
	m.Escalate(types.Alert{Type: types.AlertWorkerCrash, Severity: types.SeverityCritical})
	m.Escalate(types.Alert{Type: types.AlertWorkerCrash, Severity: types.SeverityCritical})
}

func TestCloseStopsDelivery(t *testing.T) {
	m := NewMonitor(types.Thresholds{})
	sub := m.Subscribe(1)

	m.Close()
	_, open := <-sub
	assert.False(t, open)

	// 關閉後的訂閱立即回傳已關閉的通道
	late := m.Subscribe(1)
	_, open = <-late
	assert.False(t, open)

	m.Escalate(types.Alert{Type: types.AlertWorkerCrash})
}
