// Package sqldb 基于 database/sql 的关系型数据库适配器 (MySQL / PostgreSQL)
// internal/adapter/datasource/sqldb/adapter.go
package sqldb

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// 断言 *Adapter 实现 port.Database 接口，编译期校验
var _ port.Database = (*Adapter)(nil)

const (
	defaultIntrospectConcurrency = 4
	pingTimeout                  = 10 * time.Second
)

// Adapter 持有一个连接池和方言对应的内省语句。
// 连接池本身是并发安全的，Adapter 不再额外加锁。
type Adapter struct {
	db      *sql.DB
	dialect domain.Dialect
	catalog catalog

	// introspectConcurrency 限制 GetSchema 时并发加载表结构的数量
	introspectConcurrency int
}

// New 用已打开的连接池创建适配器。dialect 必须是关系型方言。
func New(db *sql.DB, dialect domain.Dialect) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("sqldb: 连接池不能为 nil")
	}
	cat, err := catalogFor(dialect)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		db:                    db,
		dialect:               dialect,
		catalog:               cat,
		introspectConcurrency: defaultIntrospectConcurrency,
	}, nil
}

// Dialect 实现 port.Database
func (a *Adapter) Dialect() domain.Dialect {
	return a.dialect
}

// Ping 实现 port.Database
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s 连接测试失败: %w", a.dialect.DisplayName(), err)
	}
	return nil
}

// Close 实现 port.Database
func (a *Adapter) Close() error {
	log.Printf("信息: [SQLDB] 正在关闭 %s 连接池", a.dialect.DisplayName())
	return a.db.Close()
}

// configurePool 设置连接池参数
func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
}
