// Package domain file: internal/core/domain/result_models.go
package domain

import "encoding/json"

// QueryResult 是一次查询执行的结果。
// 读操作携带有序的行；写操作只携带状态信息。
type QueryResult struct {
	Columns      []string
	Rows         []map[string]any
	IsWrite      bool
	Message      string
	RowsAffected int64
	// Extra 附加写操作的引擎特有信息，例如 MongoDB 的 inserted_ids。
	Extra map[string]any
}

// NewRowsResult 构造读操作结果
func NewRowsResult(columns []string, rows []map[string]any) *QueryResult {
	if rows == nil {
		rows = []map[string]any{}
	}
	return &QueryResult{Columns: columns, Rows: rows}
}

// NewWriteResult 构造写操作结果
func NewWriteResult(message string, affected int64) *QueryResult {
	return &QueryResult{IsWrite: true, Message: message, RowsAffected: affected}
}

// RowCount 返回结果行数，写操作返回受影响的行数。
func (r *QueryResult) RowCount() int64 {
	if r == nil {
		return 0
	}
	if r.IsWrite {
		return r.RowsAffected
	}
	return int64(len(r.Rows))
}

// Payload 返回对外暴露的结果形状：行列表，或写操作状态对象。
func (r *QueryResult) Payload() any {
	if r == nil {
		return []map[string]any{}
	}
	if !r.IsWrite {
		if r.Rows == nil {
			return []map[string]any{}
		}
		return r.Rows
	}
	status := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		status[k] = v
	}
	status["message"] = r.Message
	status["rows_affected"] = r.RowsAffected
	return status
}

// MarshalJSON 输出 Payload 的 JSON 形式
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// Answer 是阻塞式问答接口的完整返回
type Answer struct {
	Question string       `json:"question"`
	SQLQuery string       `json:"sql_query"`
	Result   *QueryResult `json:"result"`
	Analysis string       `json:"analysis"`
}
