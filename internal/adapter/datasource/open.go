// Package datasource 按方言创建数据库适配器
// file: internal/adapter/datasource/open.go
package datasource

import (
	"QueryMind/internal/adapter/datasource/mongodb"
	"QueryMind/internal/adapter/datasource/sqldb"
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"fmt"
)

// Opener 按连接配置打开一个适配器。连接管理器通过它创建新连接，测试中可以替换。
type Opener func(ctx context.Context, cfg domain.ConnectionConfig) (port.Database, error)

// Open 是默认的 Opener，对方言做穷举分支。
func Open(ctx context.Context, cfg domain.ConnectionConfig) (port.Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("连接配置无效: %w", err)
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}

	switch dialect {
	case domain.DialectMySQL, domain.DialectPostgreSQL:
		adapter, err := sqldb.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case domain.DialectMongoDB:
		adapter, err := mongodb.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDialect, dialect)
}
