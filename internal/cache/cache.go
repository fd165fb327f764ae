// ============================================================================
// Otter-Perf 記憶化快取 - 純函式結果快取
// ============================================================================
//
// Package: internal/cache
// 文件: cache.go
// 功能: 具名快取儲存，FIFO 溢位淘汰，含身份鍵側表
//
// 鍵衍生:
//   以引數的確定性 JSON 序列化作為快取鍵；無法序列化的引數
//   （函式、channel、NaN 等）立即以 ErrUncacheableArgs 失敗，
//   不允許靜默退化為不快取
//
// 溢位策略:
//   每個具名快取有固定條目上限，超出時淘汰恰好一個最舊條目
//   （插入順序 FIFO，非完整 LRU）
//
// 身份鍵側表:
//   Fetch 以明確的擁有者識別碼關聯計算結果與特定物件的生命週期；
//   擁有者銷毀時呼叫端必須呼叫 InvalidateOwner，否則關聯資料洩漏
//
// 併發安全: 所有公開方法以互斥鎖保護
//
// ============================================================================

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUncacheableArgs 引數無法確定性序列化為快取鍵
	ErrUncacheableArgs = errors.New("arguments cannot be serialized to a cache key")
)

// DefaultEntryLimit 每個具名快取的預設條目上限
const DefaultEntryLimit = 128

// Recorder 快取事件的指標記錄端（由 metrics.Collector 實作）
type Recorder interface {
	RecordCacheEvent(name string, hit bool, size int, eviction bool)
}

// fifoCache 單一具名快取：map 提供查找，order 記錄插入順序供淘汰
type fifoCache struct {
	entries map[string]any
	order   []string
}

// Store 具名記憶化快取儲存
type Store struct {
	mu       sync.Mutex
	limit    int
	caches   map[string]*fifoCache
	identity map[string]map[string]any
	recorder Recorder
}

// Config 快取儲存配置
type Config struct {
	EntryLimit int      // 每個具名快取的條目上限，<=0 時使用 DefaultEntryLimit
	Recorder   Recorder // 可為 nil
}

// NewStore 建立快取儲存
func NewStore(cfg Config) *Store {
	if cfg.EntryLimit <= 0 {
		cfg.EntryLimit = DefaultEntryLimit
	}
	return &Store{
		limit:    cfg.EntryLimit,
		caches:   make(map[string]*fifoCache),
		identity: make(map[string]map[string]any),
		recorder: cfg.Recorder,
	}
}

// Memoize 包裝純函式為帶快取的版本
//
// 相同引數的重複呼叫只會執行底層函式一次；fn 必須是純函式且確定性，
// 否則記憶化結果無效（呼叫端責任）。底層函式的錯誤不會被快取
func Memoize[A, R any](s *Store, name string, fn func(A) (R, error)) func(A) (R, error) {
	return func(arg A) (R, error) {
		key, err := Key(arg)
		if err != nil {
			var zero R
			return zero, err
		}
		if cached, ok := s.get(name, key); ok {
			return cached.(R), nil
		}
		value, err := fn(arg)
		if err != nil {
			return value, err
		}
		s.put(name, key, value)
		return value, nil
	}
}

// Key 從任意引數衍生確定性快取鍵
func Key(arg any) (string, error) {
	raw, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUncacheableArgs, err)
	}
	return string(raw), nil
}

// Fetch 身份鍵查找：以擁有者識別碼 + 鍵關聯計算結果
//
// 結果的生命週期綁定擁有者而非引數值；擁有者銷毀時必須呼叫
// InvalidateOwner 釋放關聯，側表只記關係、不持有擁有者本身
func (s *Store) Fetch(ownerID, key string, fetchFn func() (any, error)) (any, error) {
	s.mu.Lock()
	owned, ok := s.identity[ownerID]
	if ok {
		if value, hit := owned[key]; hit {
			size := len(owned)
			s.mu.Unlock()
			s.record("identity", true, size, false)
			return value, nil
		}
	}
	s.mu.Unlock()

	// fetchFn 在鎖外執行，允許昂貴計算
	value, err := fetchFn()
	if err != nil {
		s.record("identity", false, s.identitySize(ownerID), false)
		return nil, err
	}

	s.mu.Lock()
	owned, ok = s.identity[ownerID]
	if !ok {
		owned = make(map[string]any)
		s.identity[ownerID] = owned
	}
	owned[key] = value
	size := len(owned)
	s.mu.Unlock()

	s.record("identity", false, size, false)
	return value, nil
}

// InvalidateOwner 移除指定擁有者的所有關聯資料
//
// 返回值：
//   - int: 被釋放的條目數
func (s *Store) InvalidateOwner(ownerID string) int {
	s.mu.Lock()
	owned := s.identity[ownerID]
	delete(s.identity, ownerID)
	s.mu.Unlock()
	return len(owned)
}

// Size 取得具名快取的目前條目數
func (s *Store) Size(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return len(c.entries)
	}
	return 0
}

// Invalidate 清空具名快取的所有條目
func (s *Store) Invalidate(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return 0
	}
	n := len(c.entries)
	delete(s.caches, name)
	return n
}

// get 查找具名快取，回報 hit/miss 事件
func (s *Store) get(name, key string) (any, bool) {
	s.mu.Lock()
	var value any
	var hit bool
	var size int
	if c, ok := s.caches[name]; ok {
		value, hit = c.entries[key]
		size = len(c.entries)
	}
	s.mu.Unlock()

	s.record(name, hit, size, false)
	return value, hit
}

// put 寫入具名快取，溢位時淘汰恰好一個最舊條目
func (s *Store) put(name, key string, value any) {
	s.mu.Lock()
	c, ok := s.caches[name]
	if !ok {
		c = &fifoCache{entries: make(map[string]any)}
		s.caches[name] = c
	}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		s.mu.Unlock()
		return
	}

	evicted := false
	if len(c.entries) >= s.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		evicted = true
	}
	c.entries[key] = value
	c.order = append(c.order, key)
	size := len(c.entries)
	s.mu.Unlock()

	if evicted {
		s.record(name, false, size, true)
	}
}

func (s *Store) identitySize(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identity[ownerID])
}

func (s *Store) record(name string, hit bool, size int, eviction bool) {
	if s.recorder != nil {
		s.recorder.RecordCacheEvent(name, hit, size, eviction)
	}
}
