// ============================================================================
// Otter-Perf 整合測試套件
// ============================================================================
//
// Package: test/integration
// 文件: governance_test.go
// 功能: 端到端效能治理流程測試
//
// 測試目標:
//   驗證整個子系統在真實接線下的協作：
//   1. 任務經排程器執行並記入指標
//   2. 佇列溢位淘汰被呈現為可觀測事件
//   3. 閾值越界產生警報並送達訂閱者
//   4. 快照歷史累積後可計算趨勢
//   5. 池化與記憶化透過指標層可見
//
// 注意:
//   - 循環間隔刻意縮短以加速測試
//   - CI 環境可能比本地慢，等待使用輪詢加上寬鬆超時
//
// ============================================================================

package integration

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/otter-perf/internal/cache"
	"github.com/ChuLiYu/otter-perf/internal/controller"
	"github.com/ChuLiYu/otter-perf/internal/scheduler"
	"github.com/ChuLiYu/otter-perf/pkg/types"
)

func startCore(t *testing.T, cfg controller.Config) *controller.Controller {
	t.Helper()
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 4
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 20 * time.Millisecond
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 20 * time.Millisecond
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 50 * time.Millisecond
	}

	ctrl, err := controller.NewController(cfg)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	t.Cleanup(ctrl.Stop)
	return ctrl
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestEndToEndGovernance(t *testing.T) {
	ctrl := startCore(t, controller.Config{CacheEntryLimit: 32})

	// 池化緩衝
	type buf struct{ data []byte }
	require.NoError(t, ctrl.Pools().CreatePool("scratch",
		func() any { return &buf{data: make([]byte, 0, 256)} },
		func(obj any) { obj.(*buf).data = obj.(*buf).data[:0] },
		4))

	// 記憶化計算
	squareCalls := 0
	square := cache.Memoize(ctrl.Cache(), "math:square", func(n int) (int, error) {
		squareCalls++
		return n * n, nil
	})

	// 提交 200 個混合優先級任務
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		i := i
		priority := types.PriorityNormal
		if i%5 == 0 {
			priority = types.PriorityHigh
		}
		wg.Add(1)
		_, err := ctrl.Submit("churn", i, priority, func(payload any) error {
			defer wg.Done()
			if _, err := square(payload.(int) % 10); err != nil {
				return err
			}
			obj, err := ctrl.Pools().Acquire("scratch")
			if err != nil {
				return err
			}
			defer ctrl.Pools().Release("scratch", obj)
			if payload.(int)%20 == 0 {
				return errors.New("simulated failure")
			}
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	// 指標驗證：全部執行，10 個唯一入參只算 10 次
	eventually(t, 2*time.Second, func() bool {
		stats := ctrl.GetMetrics().Operations["scheduler"]["churn"]
		return stats.Count == 200
	})
	snap := ctrl.GetMetrics()
	stats := snap.Operations["scheduler"]["churn"]
	assert.Equal(t, int64(10), stats.ErrorCount)
	assert.InDelta(t, stats.TotalTime/float64(stats.Count), stats.AvgTime, 1e-9)
	assert.Equal(t, 10, squareCalls, "memoized function runs once per distinct argument")

	cacheStats := snap.Caches["math:square"]
	assert.Equal(t, int64(190), cacheStats.Hits)
	assert.Equal(t, int64(10), cacheStats.Misses)

	poolStats := snap.Caches["pool:scratch"]
	assert.Positive(t, poolStats.Hits)
}

func TestOverflowSurfacedEndToEnd(t *testing.T) {
	// 探測循環拉長，避免佇列滿載期間的 probe 任務干擾淘汰計數
	ctrl := startCore(t, controller.Config{MaxQueueSize: 4, ProbeInterval: time.Hour})

	gate := make(chan struct{})
	running := make(chan struct{})
	_, err := ctrl.Submit("blocker", nil, types.PriorityCritical, func(any) error {
		close(running)
		<-gate
		return nil
	})
	require.NoError(t, err)
	<-running

	// 填滿佇列後再塞高優先級任務，低優先級任務被逐一淘汰
	evicted := make(chan types.Outcome, 8)
	for i := 0; i < 4; i++ {
		require.NoError(t, ctrl.Scheduler().SubmitTask(&types.Task{
			Kind:     "low",
			Priority: types.PriorityLow,
			Handler:  func(any) error { return nil },
			Done: func(o types.Outcome) {
				if o.Evicted {
					evicted <- o
				}
			},
		}))
	}
	for i := 0; i < 4; i++ {
		_, err := ctrl.Submit("high", nil, types.PriorityHigh, func(any) error { return nil })
		require.NoError(t, err)
	}

	for i := 0; i < 4; i++ {
		select {
		case o := <-evicted:
			assert.ErrorIs(t, o.Err, scheduler.ErrEvicted)
		case <-time.After(time.Second):
			t.Fatal("eviction was not surfaced")
		}
	}

	close(gate)
	eventually(t, 2*time.Second, func() bool {
		return ctrl.Scheduler().Stats().Dropped == 4
	})
}

func TestAlertsAndTrendEndToEnd(t *testing.T) {
	ctrl := startCore(t, controller.Config{
		Thresholds: types.Thresholds{MaxErrorRate: 0.05},
	})
	alerts := ctrl.Alerts(16)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		_, err := ctrl.Submit("flaky", nil, types.PriorityNormal, func(any) error {
			defer wg.Done()
			return errors.New("always fails")
		})
		require.NoError(t, err)
	}
	wg.Wait()

	select {
	case alert := <-alerts:
		assert.Equal(t, types.AlertErrorRate, alert.Type)
		assert.Equal(t, types.SeverityCritical, alert.Severity)
	case <-time.After(2 * time.Second):
		t.Fatal("error-rate alert not delivered")
	}

	// 歷史累積後趨勢可用，且錯誤增量可見
	eventually(t, 2*time.Second, func() bool {
		report, err := ctrl.GetTrend(time.Minute)
		if err != nil {
			return false
		}
		_, ok := report.Operations["scheduler"]["flaky"]
		return ok
	})
}

func BenchmarkSubmitThroughput(b *testing.B) {
	ctrl, err := controller.NewController(controller.Config{
		MaxQueueSize: 100000,
		WorkerCount:  4,
	})
	require.NoError(b, err)
	require.NoError(b, ctrl.Start())
	defer ctrl.Stop()

	handler := func(any) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ctrl.Submit("bench", nil, types.PriorityNormal, handler); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
}
