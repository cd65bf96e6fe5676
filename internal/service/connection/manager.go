// Package connection 管理当前激活的数据库连接：持有、替换、测试与持久化。
// file: internal/service/connection/manager.go
package connection

import (
	"QueryMind/internal/adapter/datasource"
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var _ port.DatabaseProvider = (*Manager)(nil)

const testTimeout = 10 * time.Second

// StatusFunc 在连接状态变化时被调用，connected 表示当前是否有可用连接。
type StatusFunc func(connected bool)

// Manager 是当前连接配置与适配器的唯一持有者。
// 读请求租用调用时刻的适配器，替换后仍可继续使用直到归还；替换操作串行执行。
type Manager struct {
	mu      sync.RWMutex
	cfg     domain.ConnectionConfig
	cur     *pool
	envFile string
	open    datasource.Opener

	// reconfigMu 串行化替换流程，避免两个请求同时建立连接
	reconfigMu sync.Mutex
	onStatus   StatusFunc
}

// Option 配置 Manager
type Option func(*Manager)

// WithOpener 替换默认的适配器创建函数
func WithOpener(open datasource.Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithStatusListener 注册连接状态回调
func WithStatusListener(fn StatusFunc) Option {
	return func(m *Manager) { m.onStatus = fn }
}

// NewManager 创建连接管理器。envFile 为连接配置文件路径，为空时不做持久化。
func NewManager(envFile string, opts ...Option) *Manager {
	m := &Manager{envFile: envFile, open: datasource.Open}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current 租用当前适配器，没有连接时返回 port.ErrNotConnected。
// 调用方用完后必须 Close 归还。
func (m *Manager) Current() (port.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return nil, port.ErrNotConnected
	}
	return m.cur.acquire(), nil
}

// Config 返回当前生效的连接配置
func (m *Manager) Config() domain.ConnectionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// View 返回不含密码的连接信息，以及是否已连接。
func (m *Manager) View() (domain.ConnectionView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.View(), m.cur != nil
}

// Reconfigure 用新配置建立连接并替换当前适配器，成功后把配置写回文件。
// 新连接建立失败时保持旧连接不变。旧适配器在正在使用它的请求全部结束后关闭。
func (m *Manager) Reconfigure(ctx context.Context, cfg domain.ConnectionConfig) error {
	cfg, err := m.swap(ctx, cfg)
	if err != nil {
		return err
	}
	if err := m.Persist(cfg); err != nil {
		// 连接已生效，持久化失败只影响下次启动
		slog.Error("保存连接配置失败", "file", m.envFile, "error", err)
	}
	return nil
}

// swap 建立新连接并替换当前适配器，返回规范化后的配置。
func (m *Manager) swap(ctx context.Context, cfg domain.ConnectionConfig) (domain.ConnectionConfig, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	m.reconfigMu.Lock()
	defer m.reconfigMu.Unlock()

	db, err := m.open(ctx, cfg)
	if err != nil {
		slog.Warn("建立新数据库连接失败，保持原连接", "db_type", cfg.DBType, "host", cfg.Host, "error", err)
		return cfg, err
	}

	m.mu.Lock()
	old := m.cur
	m.cur = newPool(db)
	m.cfg = cfg
	m.mu.Unlock()

	if old != nil {
		if n := old.inUse(); n > 0 {
			slog.Info("旧数据库连接仍有请求在使用，归还后关闭", "in_use", n)
		}
		if cerr := old.retire(); cerr != nil {
			slog.Warn("关闭旧数据库连接失败", "error", cerr)
		}
	}
	slog.Info("数据库连接已切换", "db_type", cfg.DBType, "host", cfg.Host, "database", cfg.Database)
	m.notify(true)
	return cfg, nil
}

// Test 用给定配置建立临时连接并 ping，不影响当前连接。
func (m *Manager) Test(ctx context.Context, cfg domain.ConnectionConfig) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	db, err := m.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Ping(ctx)
}

// Persist 把连接配置合并写入 env 文件，文件中的其他键保持不变。
func (m *Manager) Persist(cfg domain.ConnectionConfig) error {
	if m.envFile == "" {
		return nil
	}
	existing, err := godotenv.Read(m.envFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取连接文件 '%s' 失败: %w", m.envFile, err)
		}
		existing = map[string]string{}
	}
	for k, v := range cfg.ToEnv() {
		existing[k] = v
	}

	if err := os.MkdirAll(filepath.Dir(m.envFile), 0o755); err != nil {
		return err
	}
	tmp := m.envFile + ".tmp"
	if err := godotenv.Write(existing, tmp); err != nil {
		return fmt.Errorf("写入连接文件失败: %w", err)
	}
	return os.Rename(tmp, m.envFile)
}

// LoadFromEnvFile 从 env 文件读取配置并尝试连接，不会回写该文件。
// 文件不存在或未配置 DB_TYPE 时返回 false 和 nil，服务以未连接状态启动。
func (m *Manager) LoadFromEnvFile(ctx context.Context) (bool, error) {
	if m.envFile == "" {
		return false, nil
	}
	env, err := godotenv.Read(m.envFile)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("连接配置文件不存在，以未连接状态启动", "file", m.envFile)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取连接文件 '%s' 失败: %w", m.envFile, err)
	}
	cfg, err := domain.ConnectionConfigFromEnv(env)
	if err != nil {
		return false, err
	}
	if cfg.DBType == "" {
		return false, nil
	}
	if _, err := m.swap(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

// Close 撤下当前适配器。仍在进行的请求归还后连接池才关闭。
func (m *Manager) Close() error {
	m.mu.Lock()
	cur := m.cur
	m.cur = nil
	m.mu.Unlock()
	m.notify(false)
	if cur != nil {
		return cur.retire()
	}
	return nil
}

func (m *Manager) notify(connected bool) {
	if m.onStatus != nil {
		m.onStatus(connected)
	}
}
