// Package domain file: internal/core/domain/schema_models.go
package domain

import (
	"encoding/json"
	"sort"
)

// ColumnInfo 描述关系型表中的一列
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey 描述一个外键约束
type ForeignKey struct {
	ReferredTable      string   `json:"referred_table"`
	ReferredColumns    []string `json:"referred_columns"`
	ConstrainedColumns []string `json:"constrained_columns"`
}

// FieldInfo 描述文档型集合中由样本文档推断出的字段
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSchema 是单个表（或集合）的结构描述。
// 关系型表使用 Columns/PrimaryKeys/ForeignKeys，文档集合只使用 Fields。
type TableSchema struct {
	Columns     []ColumnInfo
	PrimaryKeys []string
	ForeignKeys []ForeignKey
	Fields      []FieldInfo
}

// IsDocument 报告该结构是否来自文档集合。
func (t TableSchema) IsDocument() bool {
	return t.Fields != nil
}

// MarshalJSON 按存储类型输出不同的形状，关系型表的空列表输出为 []。
func (t TableSchema) MarshalJSON() ([]byte, error) {
	if t.IsDocument() {
		return json.Marshal(struct {
			Fields []FieldInfo `json:"fields"`
		}{Fields: t.Fields})
	}
	out := struct {
		Columns     []ColumnInfo `json:"columns"`
		PrimaryKeys []string     `json:"primary_keys"`
		ForeignKeys []ForeignKey `json:"foreign_keys"`
	}{
		Columns:     t.Columns,
		PrimaryKeys: t.PrimaryKeys,
		ForeignKeys: t.ForeignKeys,
	}
	if out.Columns == nil {
		out.Columns = []ColumnInfo{}
	}
	if out.PrimaryKeys == nil {
		out.PrimaryKeys = []string{}
	}
	if out.ForeignKeys == nil {
		out.ForeignKeys = []ForeignKey{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON 接受 MarshalJSON 产生的两种形状。
func (t *TableSchema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns     []ColumnInfo `json:"columns"`
		PrimaryKeys []string     `json:"primary_keys"`
		ForeignKeys []ForeignKey `json:"foreign_keys"`
		Fields      []FieldInfo  `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TableSchema{
		Columns:     raw.Columns,
		PrimaryKeys: raw.PrimaryKeys,
		ForeignKeys: raw.ForeignKeys,
		Fields:      raw.Fields,
	}
	return nil
}

// SchemaDescription 是表名到表结构的映射，每次请求重新构建，不做缓存。
type SchemaDescription map[string]TableSchema

// TableNames 返回排序后的表名列表。
func (s SchemaDescription) TableNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty 报告结构描述中是否没有任何表。
func (s SchemaDescription) IsEmpty() bool {
	return len(s) == 0
}
