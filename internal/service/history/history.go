// Package history 记录最近的问答流水线执行情况，供管理界面查看。
// file: internal/service/history/history.go
package history

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Outcome 是一次执行的最终结果
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeError         Outcome = "error"
	OutcomeAnalysisError Outcome = "analysis_error"
	OutcomeCancelled     Outcome = "cancelled"
)

// Entry 是一条执行记录
type Entry struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Query      string        `json:"query,omitempty"`
	Dialect    string        `json:"dialect,omitempty"`
	Mode       string        `json:"mode"`
	RowCount   int64         `json:"row_count"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Store 是带容量上限和过期时间的执行记录
type Store struct {
	cache *lru.LRU[string, Entry]
	// seq 保证同一时刻写入的记录仍有确定顺序
	mu  sync.Mutex
	seq map[string]uint64
	n   uint64
}

// New 创建记录存储。size 与 ttl 为非正数时使用默认值。
func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 200
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Store{seq: make(map[string]uint64)}
	s.cache = lru.NewLRU[string, Entry](size, func(key string, _ Entry) {
		s.mu.Lock()
		delete(s.seq, key)
		s.mu.Unlock()
	}, ttl)
	return s
}

// Record 写入一条记录
func (s *Store) Record(e Entry) {
	if e.ID == "" {
		return
	}
	e.DurationMS = e.Duration.Milliseconds()
	s.mu.Lock()
	s.n++
	s.seq[e.ID] = s.n
	s.mu.Unlock()
	s.cache.Add(e.ID, e)
}

// Get 按 ID 查找记录
func (s *Store) Get(id string) (Entry, bool) {
	return s.cache.Peek(id)
}

// Recent 返回最多 limit 条记录，最新的在前。limit 非正数时返回全部。
func (s *Store) Recent(limit int) []Entry {
	entries := s.cache.Values()
	s.mu.Lock()
	order := make(map[string]uint64, len(entries))
	for _, e := range entries {
		order[e.ID] = s.seq[e.ID]
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return order[entries[i].ID] > order[entries[j].ID]
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Len 返回当前记录数
func (s *Store) Len() int { return s.cache.Len() }
