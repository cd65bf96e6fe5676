// Package domain file: internal/core/domain/dialect.go
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDialect 表示配置或请求中出现了无法识别的数据库方言。
var ErrUnsupportedDialect = errors.New("不支持的数据库方言")

// Dialect 是一个封闭的枚举，描述后端存储所使用的查询语言/引擎。
// 所有按方言分支的逻辑都必须对这三个取值做穷举 switch。
type Dialect string

const (
	DialectMySQL      Dialect = "mysql"
	DialectPostgreSQL Dialect = "postgresql"
	DialectMongoDB    Dialect = "mongodb"
)

// Dialects 返回全部受支持的方言，顺序固定。
func Dialects() []Dialect {
	return []Dialect{DialectMySQL, DialectPostgreSQL, DialectMongoDB}
}

// ParseDialect 将配置中的 db_type 字符串解析为 Dialect，大小写不敏感。
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgresql", "postgres", "pg", "pgsql":
		return DialectPostgreSQL, nil
	case "mongodb", "mongo":
		return DialectMongoDB, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
}

// Valid 报告 d 是否为受支持的方言。
func (d Dialect) Valid() bool {
	switch d {
	case DialectMySQL, DialectPostgreSQL, DialectMongoDB:
		return true
	}
	return false
}

// IsRelational 报告 d 是否为关系型方言。
func (d Dialect) IsRelational() bool {
	switch d {
	case DialectMySQL, DialectPostgreSQL:
		return true
	case DialectMongoDB:
		return false
	}
	return false
}

// DisplayName 返回用于提示词与日志的人类可读名称。
func (d Dialect) DisplayName() string {
	switch d {
	case DialectMySQL:
		return "MySQL"
	case DialectPostgreSQL:
		return "PostgreSQL"
	case DialectMongoDB:
		return "MongoDB"
	}
	return string(d)
}

// DefaultPort 返回方言的默认端口。
func (d Dialect) DefaultPort() int {
	switch d {
	case DialectMySQL:
		return 3306
	case DialectPostgreSQL:
		return 5432
	case DialectMongoDB:
		return 27017
	}
	return 0
}

func (d Dialect) String() string { return string(d) }
