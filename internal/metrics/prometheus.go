// ============================================================================
// Prometheus 橋接
// 職責：將 Collector 的觀測事件同步匯出為 Prometheus 指標
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/otter-perf/pkg/types"
)

// Bridge Prometheus 指標橋接器
type Bridge struct {
	// 操作指標
	opsTotal   *prometheus.CounterVec
	opErrors   *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec

	// 快取指標
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec

	// 系統指標
	heapAlloc    prometheus.Gauge
	goroutines   prometheus.Gauge
	schedulerLag prometheus.Gauge
}

// NewBridge 建立並註冊 Prometheus 橋接器
//
// 參數：
//   - reg: 指標註冊器；測試可傳入 prometheus.NewRegistry() 隔離狀態
func NewBridge(reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perf_operations_total",
			Help: "Total number of recorded operations",
		}, []string{"category", "operation"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perf_operation_errors_total",
			Help: "Total number of failed operations",
		}, []string{"category", "operation"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perf_operation_duration_seconds",
			Help:    "Operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"category", "operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perf_cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perf_cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"cache"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perf_cache_evictions_total",
			Help: "Total number of cache evictions",
		}, []string{"cache"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perf_cache_size",
			Help: "Current number of entries per cache",
		}, []string{"cache"}),
		heapAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perf_heap_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perf_goroutines",
			Help: "Current number of goroutines",
		}),
		schedulerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perf_scheduler_lag_seconds",
			Help: "Measured delay before a trivial scheduled task runs",
		}),
	}

	reg.MustRegister(
		b.opsTotal, b.opErrors, b.opLatency,
		b.cacheHits, b.cacheMisses, b.cacheEvictions, b.cacheSize,
		b.heapAlloc, b.goroutines, b.schedulerLag,
	)
	return b
}

func (b *Bridge) observeOperation(category, operation string, durationMs float64, success bool) {
	b.opsTotal.WithLabelValues(category, operation).Inc()
	b.opLatency.WithLabelValues(category, operation).Observe(durationMs / 1000)
	if !success {
		b.opErrors.WithLabelValues(category, operation).Inc()
	}
}

func (b *Bridge) observeCacheEvent(name string, hit bool, size int, eviction bool) {
	if eviction {
		b.cacheEvictions.WithLabelValues(name).Inc()
	} else if hit {
		b.cacheHits.WithLabelValues(name).Inc()
	} else {
		b.cacheMisses.WithLabelValues(name).Inc()
	}
	b.cacheSize.WithLabelValues(name).Set(float64(size))
}

func (b *Bridge) observeSystem(sys types.SystemStats) {
	b.heapAlloc.Set(float64(sys.HeapAllocBytes))
	b.goroutines.Set(float64(sys.NumGoroutine))
	b.schedulerLag.Set(sys.SchedulerLagMs / 1000)
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
