// ============================================================================
// Otter-Perf 資源池 - 可重用物件生命週期管理
// ============================================================================
//
// Package: internal/pool
// 文件: pool.go
// 功能: 具名資源池註冊表，預配置可重用實例以降低配置與回收開銷
//
// 所有權不變式:
//   每個池化物件在任一時刻恰有一個持有者（池或呼叫端），絕不別名共享；
//   歸還的物件必須來自同一個池的 Acquire，且歸還後呼叫端不得再碰它
//
// 容量語義:
//   - Acquire 在池空時用 factory 現配新實例（miss），軟性降級而非失敗
//   - Release 先套用 resetter 清除所有可變狀態，池滿時直接丟棄物件
//   - miss 頻繁時記錄警告，提示池容量不足
//
// 併發安全: 所有公開方法以互斥鎖保護，可跨 goroutine 使用
//
// ============================================================================

package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var log = slog.Default()

var (
	// ErrPoolExists 同名池已存在
	ErrPoolExists = errors.New("pool already exists")
	// ErrPoolNotFound 指名的池未註冊
	ErrPoolNotFound = errors.New("pool not found")
	// ErrNilObject 歸還 nil 物件
	ErrNilObject = errors.New("cannot release nil object")
)

// missWarnInterval 每累積多少次 miss 記錄一次容量不足警告
const missWarnInterval = 10

// Factory 建構一個全新的池化實例
type Factory func() any

// Resetter 清除實例上的所有可變狀態，使其可安全重用
type Resetter func(any)

// Recorder 池事件的指標記錄端（由 metrics.Collector 實作）
type Recorder interface {
	RecordCacheEvent(name string, hit bool, size int, eviction bool)
}

// Stats 單一池的使用統計
type Stats struct {
	Name     string
	Size     int    // 目前池內可用實例數
	Capacity int    // 池保留上限
	Hits     uint64 // Acquire 從池中取得的次數
	Misses   uint64 // Acquire 觸發現配的次數
}

// pool 單一具名池的內部狀態，由 Registry 的鎖保護
type pool struct {
	name     string
	factory  Factory
	resetter Resetter
	capacity int
	free     []any
	hits     uint64
	misses   uint64
}

// Registry 具名資源池註冊表
//
// 職責：集中管理所有池的建立、取用與歸還，並向指標層回報 hit/miss
type Registry struct {
	mu       sync.Mutex
	pools    map[string]*pool
	recorder Recorder
}

// NewRegistry 建立空的池註冊表，recorder 可為 nil
func NewRegistry(recorder Recorder) *Registry {
	return &Registry{
		pools:    make(map[string]*pool),
		recorder: recorder,
	}
}

// CreatePool 註冊新池並以 factory 預配置 initialSize 個實例
//
// 參數說明：
//   - name: 池名稱，必須唯一
//   - factory: 實例建構函式
//   - resetter: 歸還時的狀態清除函式，可為 nil（無狀態物件）
//   - initialSize: 預配置數量，同時作為池的保留上限
func (r *Registry) CreatePool(name string, factory Factory, resetter Resetter, initialSize int) error {
	if name == "" || factory == nil {
		return fmt.Errorf("invalid pool definition: name and factory are required")
	}
	if initialSize < 0 {
		initialSize = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[name]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, name)
	}

	p := &pool{
		name:     name,
		factory:  factory,
		resetter: resetter,
		capacity: initialSize,
		free:     make([]any, 0, initialSize),
	}
	for i := 0; i < initialSize; i++ {
		p.free = append(p.free, factory())
	}
	r.pools[name] = p

	log.Info("Pool created", "name", name, "initial_size", initialSize)
	return nil
}

// Acquire 取出一個可用實例
//
// 池中有存貨時直接取出（hit）；池空時用 factory 現配（miss）。
// miss 不是錯誤，但頻繁 miss 會記錄警告
func (r *Registry) Acquire(name string) (any, error) {
	r.mu.Lock()
	p, ok := r.pools[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}

	var obj any
	hit := len(p.free) > 0
	if hit {
		obj = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.hits++
	} else {
		obj = p.factory()
		p.misses++
		if p.misses%missWarnInterval == 0 {
			log.Warn("Pool frequently exhausted, consider increasing size",
				"name", name,
				"capacity", p.capacity,
				"misses", p.misses)
		}
	}
	size := len(p.free)
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordCacheEvent("pool:"+name, hit, size, false)
	}
	return obj, nil
}

// Release 歸還實例
//
// 先套用 resetter 清除可變狀態；池已滿時物件被丟棄（不強制保留）。
// 呼叫後物件的所有權回到池（或被丟棄），呼叫端不得再使用它
func (r *Registry) Release(name string, obj any) error {
	if obj == nil {
		return ErrNilObject
	}

	r.mu.Lock()
	p, ok := r.pools[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}

	if p.resetter != nil {
		p.resetter(obj)
	}
	if len(p.free) < p.capacity {
		p.free = append(p.free, obj)
	}
	r.mu.Unlock()
	return nil
}

// Stats 取得指名池的使用統計
func (r *Registry) Stats(name string) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return Stats{
		Name:     p.name,
		Size:     len(p.free),
		Capacity: p.capacity,
		Hits:     p.hits,
		Misses:   p.misses,
	}, nil
}

// Names 列出所有已註冊的池名稱
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}
