// Package mongodb file: internal/adapter/datasource/mongodb/descriptor.go
package mongodb

import (
	"QueryMind/internal/core/port"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Operation 是文档查询描述中的操作键
type Operation string

const (
	OpFind      Operation = "find"
	OpInsert    Operation = "insert"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpAggregate Operation = "aggregate"
)

var operations = []Operation{OpFind, OpInsert, OpUpdate, OpDelete, OpAggregate}

// defaultFindLimit 是未指定 limit 时 find 返回的最大文档数
const defaultFindLimit int64 = 1000

// Descriptor 是解析后的文档查询描述：
//
//	{"collection": "users", "find": {...}, "projection": {...}, "sort": {...}, "limit": 10}
//	{"collection": "users", "insert": {...} | [{...}, ...]}
//	{"collection": "users", "update": {"filter": {...}, "update": {...}}, "many": true}
//	{"collection": "users", "delete": {...}, "many": true}
//	{"collection": "users", "aggregate": [{...}, ...]}
//
// 值按 MongoDB Extended JSON (relaxed) 解析，支持 $oid、$date 等写法。
type Descriptor struct {
	Collection string
	Op         Operation

	Filter     any
	Update     any
	Documents  []any
	Pipeline   any
	Projection any
	Sort       any
	Limit      int64
	Skip       int64
	Many       bool
}

// ParseDescriptor 解析生成的文档查询。缺少 collection 或操作键不是恰好一个时返回 ErrMalformedDocumentQuery。
func ParseDescriptor(query string) (*Descriptor, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(query)), &fields); err != nil {
		return nil, fmt.Errorf("%w: 不是合法的 JSON 对象: %v", port.ErrMalformedDocumentQuery, err)
	}

	var scalars struct {
		Collection string `json:"collection"`
		Limit      *int64 `json:"limit"`
		Skip       *int64 `json:"skip"`
		Many       bool   `json:"many"`
	}
	if err := json.Unmarshal([]byte(query), &scalars); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrMalformedDocumentQuery, err)
	}
	if strings.TrimSpace(scalars.Collection) == "" {
		return nil, fmt.Errorf("%w: 缺少 collection", port.ErrMalformedDocumentQuery)
	}

	var present []string
	for _, op := range operations {
		if _, ok := fields[string(op)]; ok {
			present = append(present, string(op))
		}
	}
	if len(present) != 1 {
		sort.Strings(present)
		return nil, fmt.Errorf("%w: 必须且只能包含一个操作 (find|insert|update|delete|aggregate)，实际为 %v",
			port.ErrMalformedDocumentQuery, present)
	}

	d := &Descriptor{
		Collection: scalars.Collection,
		Op:         Operation(present[0]),
		Many:       scalars.Many,
	}
	if scalars.Limit != nil {
		d.Limit = *scalars.Limit
	}
	if scalars.Skip != nil {
		d.Skip = *scalars.Skip
	}

	body := fields[present[0]]
	var err error
	switch d.Op {
	case OpFind:
		if d.Filter, err = parseDocument(body); err != nil {
			return nil, err
		}
		if d.Projection, err = parseOptional(fields["projection"]); err != nil {
			return nil, err
		}
		if d.Sort, err = parseOptional(fields["sort"]); err != nil {
			return nil, err
		}
		if d.Limit <= 0 {
			d.Limit = defaultFindLimit
		}
	case OpInsert:
		if d.Documents, err = parseInsert(body); err != nil {
			return nil, err
		}
	case OpUpdate:
		var parts map[string]json.RawMessage
		if err := json.Unmarshal(body, &parts); err != nil {
			return nil, fmt.Errorf("%w: update 必须是包含 filter 与 update 的对象", port.ErrMalformedDocumentQuery)
		}
		if d.Filter, err = parseDocument(parts["filter"]); err != nil {
			return nil, err
		}
		if isNull(parts["update"]) {
			return nil, fmt.Errorf("%w: update 缺少 update 文档", port.ErrMalformedDocumentQuery)
		}
		if d.Update, err = parseExtJSON(parts["update"]); err != nil {
			return nil, err
		}
	case OpDelete:
		if d.Filter, err = parseDocument(body); err != nil {
			return nil, err
		}
	case OpAggregate:
		if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
			return nil, fmt.Errorf("%w: aggregate 必须是数组", port.ErrMalformedDocumentQuery)
		}
		if d.Pipeline, err = parseExtJSON(body); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// parseExtJSON 把任意 JSON 值按 Extended JSON 解析。
// 先包裹成 {"v": ...} 再解码，数组与标量也能统一处理。
func parseExtJSON(raw json.RawMessage) (any, error) {
	wrapped := make([]byte, 0, len(raw)+6)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')

	var holder struct {
		V any `bson:"v"`
	}
	if err := bson.UnmarshalExtJSON(wrapped, false, &holder); err != nil {
		return nil, fmt.Errorf("%w: Extended JSON 解析失败: %v", port.ErrMalformedDocumentQuery, err)
	}
	return holder.V, nil
}

// parseDocument 解析过滤条件，缺省或 null 视为匹配全部。
func parseDocument(raw json.RawMessage) (any, error) {
	if isNull(raw) {
		return bson.D{}, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, fmt.Errorf("%w: 过滤条件必须是对象", port.ErrMalformedDocumentQuery)
	}
	return parseExtJSON(raw)
}

func parseOptional(raw json.RawMessage) (any, error) {
	if isNull(raw) {
		return nil, nil
	}
	return parseExtJSON(raw)
}

func parseInsert(raw json.RawMessage) ([]any, error) {
	v, err := parseExtJSON(raw)
	if err != nil {
		return nil, err
	}
	switch docs := v.(type) {
	case bson.A:
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: insert 数组为空", port.ErrMalformedDocumentQuery)
		}
		return []any(docs), nil
	case bson.D:
		return []any{docs}, nil
	}
	return nil, fmt.Errorf("%w: insert 必须是对象或对象数组", port.ErrMalformedDocumentQuery)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
