// file: internal/service/connection/lease.go
package connection

import (
	"QueryMind/internal/core/port"
	"sync"
)

// pool 跟踪一个适配器的租用数。被替换（retire）后，最后一个租用者归还时关闭适配器。
type pool struct {
	db port.Database

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func newPool(db port.Database) *pool { return &pool{db: db} }

// acquire 必须在 Manager.mu 读锁内调用，保证不会与替换交错。
func (p *pool) acquire() *lease {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
	return &lease{Database: p.db, pool: p}
}

func (p *pool) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	if p.refs == 0 && p.retired {
		return p.closeLocked()
	}
	return nil
}

// retire 标记适配器已被替换。没有租用者时立即关闭。
func (p *pool) retire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired = true
	if p.refs == 0 {
		return p.closeLocked()
	}
	return nil
}

func (p *pool) closeLocked() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func (p *pool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// lease 是交给请求的适配器句柄，Close 只归还租用，不关闭连接池。
type lease struct {
	port.Database
	pool *pool
	once sync.Once
}

// Close 归还租用，重复调用无副作用。
func (l *lease) Close() error {
	var err error
	l.once.Do(func() { err = l.pool.release() })
	return err
}
