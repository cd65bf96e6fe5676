// Package port file: internal/core/port/datasource.go
package port

import (
	"QueryMind/internal/core/domain"
	"context"
	"errors"
)

// Standard errors
var (
	ErrNotConnected           = errors.New("数据库尚未连接")
	ErrSchemaUnavailable      = errors.New("无法获取数据库结构")
	ErrExecution              = errors.New("查询执行失败")
	ErrMalformedDocumentQuery = errors.New("无效的文档查询描述")
)

// Database 是数据库适配器的统一接口，每种方言一个实现。
type Database interface {
	// GetSchema 内省当前数据库，返回表（集合）结构描述
	GetSchema(ctx context.Context) (domain.SchemaDescription, error)

	// Execute 执行一条生成的查询。关系型方言在事务内执行，失败回滚。
	Execute(ctx context.Context, query string) (*domain.QueryResult, error)

	// Ping 检查连接是否可用
	Ping(ctx context.Context) error

	// Dialect 返回适配器的方言
	Dialect() domain.Dialect

	// Close 释放连接池
	Close() error
}
