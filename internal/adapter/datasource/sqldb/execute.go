// file: internal/adapter/datasource/sqldb/execute.go
package sqldb

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// WriteOKMessage 是写语句成功提交后返回的状态信息
const WriteOKMessage = "query executed successfully"

var readPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "VALUES", "TABLE"}

// IsReadQuery 判断语句是否返回结果集。
func IsReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for strings.HasPrefix(q, "(") {
		q = strings.TrimSpace(q[1:])
	}
	for _, prefix := range readPrefixes {
		if !strings.HasPrefix(q, prefix) {
			continue
		}
		rest := q[len(prefix):]
		if rest == "" || !isIdentChar(rest[0]) {
			return true
		}
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Execute 实现 port.Database。语句在事务中执行：
// 读语句返回行，写语句提交后返回状态，任何失败都会回滚。
func (a *Adapter) Execute(ctx context.Context, query string) (*domain.QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: 查询语句为空", port.ErrExecution)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: 开启事务失败: %v", port.ErrExecution, err)
	}

	var result *domain.QueryResult
	if IsReadQuery(query) {
		result, err = queryRows(ctx, tx, query)
	} else {
		result, err = execWrite(ctx, tx, query)
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("警告: [SQLDB] 回滚事务失败: %v", rbErr)
		}
		return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: 提交事务失败: %v", port.ErrExecution, err)
	}
	return result, nil
}

func execWrite(ctx context.Context, tx *sql.Tx, query string) (*domain.QueryResult, error) {
	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return domain.NewWriteResult(WriteOKMessage, affected), nil
}

func queryRows(ctx context.Context, tx *sql.Tx, query string) (*domain.QueryResult, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取列名失败: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("读取列类型失败: %w", err)
	}
	dbTypes := make([]string, len(types))
	for i, ct := range types {
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("扫描行失败: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = NormalizeValue(values[i], dbTypes[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.NewRowsResult(cols, out), nil
}

// NormalizeValue 把驱动返回的原生值转换为可安全序列化的形式：
// 定点数转 float64，时间转 RFC 3339 字符串，字节切片转字符串。
func NormalizeValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if isDecimalType(dbType) {
			if f, err := strconv.ParseFloat(string(val), 64); err == nil {
				return f
			}
		}
		return string(val)
	case string:
		if isDecimalType(dbType) {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

func isDecimalType(dbType string) bool {
	switch {
	case strings.HasPrefix(dbType, "DECIMAL"), strings.HasPrefix(dbType, "NUMERIC"):
		return true
	}
	return false
}
