// file: internal/adapter/datasource/mongodb/normalize.go
package mongodb

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Normalize 把 BSON 原生类型递归转换为可直接 JSON 序列化的值。
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bson.Decimal128:
		s := val.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case bson.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case bson.Binary:
		return val.Data
	case bson.Regex:
		return val.String()
	case bson.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = Normalize(elem.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = Normalize(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = Normalize(x)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = Normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = Normalize(x)
		}
		return out
	default:
		return val
	}
}

// bsonTypeName 返回样本值的 BSON 类型名，用于集合结构描述。
func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bson.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.DateTime, time.Time:
		return "date"
	case bson.Decimal128:
		return "decimal"
	case bson.D, bson.M, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	case bson.Binary:
		return "binData"
	case bson.Timestamp:
		return "timestamp"
	case bson.Regex:
		return "regex"
	}
	return "unknown"
}
