package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ChuLiYu/otter-perf/internal/cache"
	"github.com/ChuLiYu/otter-perf/internal/controller"
	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// 展示完整的效能治理流程：混合優先級任務、池化緩衝、
// 記憶化計算、重型計算卸載，以及警報與趨勢輸出
func main() {
	ctrl, err := controller.NewController(controller.Config{
		MaxQueueSize:     256,
		TickInterval:     20 * time.Millisecond,
		CacheEntryLimit:  64,
		WorkerCount:      4,
		SampleInterval:   200 * time.Millisecond,
		ProbeInterval:    200 * time.Millisecond,
		SnapshotInterval: 500 * time.Millisecond,
		Thresholds: types.Thresholds{
			MaxAvgTimeMs: 50,
			MaxErrorRate: 0.2,
			MaxLagMs:     100,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	fmt.Println("✓ Governance core started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 警報即時輸出
	go func() {
		for alert := range ctrl.Alerts(32) {
			fmt.Printf("🚨 [%s] %s: %s\n", alert.Severity, alert.Type, alert.Message)
		}
	}()

	// 池化的工作緩衝
	type scratch struct{ data []byte }
	if err := ctrl.Pools().CreatePool("scratch",
		func() any { return &scratch{data: make([]byte, 0, 1024)} },
		func(obj any) { obj.(*scratch).data = obj.(*scratch).data[:0] },
		8); err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}

	// 記憶化的昂貴計算
	fib := cache.Memoize(ctrl.Cache(), "math:fib", func(n int) (int, error) {
		a, b := 0, 1
		for i := 0; i < n; i++ {
			a, b = b, a+b
		}
		return a, nil
	})

	// 混合優先級的任務風暴
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		priority := types.PriorityNormal
		if i%10 == 0 {
			priority = types.PriorityHigh
		}
		wg.Add(1)
		_, err := ctrl.Submit("demo:churn", i, priority, func(payload any) error {
			defer wg.Done()
			n := payload.(int)
			if _, err := fib(n % 30); err != nil {
				return err
			}
			buf, err := ctrl.Pools().Acquire("scratch")
			if err != nil {
				return err
			}
			defer ctrl.Pools().Release("scratch", buf)
			time.Sleep(time.Millisecond)
			return nil
		})
		if err != nil {
			wg.Done()
			log.Printf("Submit failed: %v", err)
		}
	}

	// 重型純計算卸載，協作循環保持暢通
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sum, err := ctrl.Workers().Run(ctx, "demo:heavy", func(ctx context.Context) (any, error) {
		total := 0
		for i := 0; i < 1_000_000; i++ {
			if i%100_000 == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			total += i
		}
		return total, nil
	})
	if err != nil {
		log.Printf("Offloaded computation failed: %v", err)
	} else {
		fmt.Printf("✓ Offloaded computation result: %v\n", sum)
	}

	wg.Wait()
	fmt.Println("✓ All tasks drained")

	// 等待至少兩個快照進入歷史後輸出趨勢
	deadline := time.After(3 * time.Second)
trendLoop:
	for {
		report, err := ctrl.GetTrend(time.Minute)
		if err == nil {
			fmt.Printf("\n📈 Trend %s → %s\n",
				report.From.Format("15:04:05.000"), report.To.Format("15:04:05.000"))
			for category, ops := range report.Operations {
				for operation, delta := range ops {
					fmt.Printf("  %s:%s count %+d avg %+.2fms errors %+d\n",
						category, operation, delta.CountChange, delta.AvgTimeChange, delta.ErrorChange)
				}
			}
			break trendLoop
		}
		select {
		case <-sigChan:
			ctrl.Stop()
			return
		case <-deadline:
			log.Printf("Trend unavailable: %v", err)
			break trendLoop
		case <-time.After(100 * time.Millisecond):
		}
	}

	snap := ctrl.GetMetrics()
	fmt.Printf("\n📊 Final Metrics:\n")
	for name, stats := range snap.Caches {
		fmt.Printf("  cache %-16s hits=%d misses=%d evictions=%d\n",
			name, stats.Hits, stats.Misses, stats.Evictions)
	}
	fmt.Printf("  heap=%d bytes goroutines=%d lag=%.2fms\n",
		snap.System.HeapAllocBytes, snap.System.NumGoroutine, snap.System.SchedulerLagMs)

	ctrl.Stop()
	fmt.Println("✓ Stopped")
}
