// Package mongodb MongoDB 文档数据库适配器
// internal/adapter/datasource/mongodb/adapter.go
package mongodb

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 断言 *Adapter 实现 port.Database 接口，编译期校验
var _ port.Database = (*Adapter)(nil)

const (
	connectTimeout = 10 * time.Second
	closeTimeout   = 5 * time.Second
	defaultDBName  = "test"
)

// Adapter 把 JSON 文档查询描述翻译成 MongoDB 操作。
type Adapter struct {
	store  docStore
	dbName string
}

func newAdapter(store docStore, dbName string) *Adapter {
	return &Adapter{store: store, dbName: dbName}
}

// Open 根据连接配置建立客户端并 Ping 一次。
func Open(ctx context.Context, cfg domain.ConnectionConfig) (*Adapter, error) {
	uri := BuildURI(cfg)
	dbName := cfg.Database
	if dbName == "" {
		dbName = DatabaseFromURI(uri)
	}

	log.Printf("信息: [MongoDB] 正在连接 %s (database: %s)", domain.MaskURI(uri), dbName)
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}

	adapter := newAdapter(&mongoStore{client: client, db: client.Database(dbName)}, dbName)
	if err := adapter.Ping(ctx); err != nil {
		_ = adapter.Close()
		return nil, err
	}
	return adapter, nil
}

// BuildURI 优先使用 mongodb_uri，否则由 host/port/user/password 拼出连接串。
func BuildURI(cfg domain.ConnectionConfig) string {
	if cfg.MongoDBURI != "" {
		return cfg.MongoDBURI
	}
	if strings.HasPrefix(cfg.Host, "mongodb://") || strings.HasPrefix(cfg.Host, "mongodb+srv://") {
		return cfg.Host
	}
	port := cfg.Port
	if port == 0 {
		port = domain.DialectMongoDB.DefaultPort()
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	}
	switch {
	case cfg.User != "" && cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	return u.String()
}

// DatabaseFromURI 从连接串路径部分取出数据库名，取不到时返回 "test"。
func DatabaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return defaultDBName
	}
	path := rest[slash+1:]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	if path == "" {
		return defaultDBName
	}
	return path
}

// Dialect 实现 port.Database
func (a *Adapter) Dialect() domain.Dialect {
	return domain.DialectMongoDB
}

// Ping 实现 port.Database
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("MongoDB 连接测试失败: %w", err)
	}
	return nil
}

// Close 实现 port.Database
func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	log.Printf("信息: [MongoDB] 正在断开与数据库 '%s' 的连接", a.dbName)
	return a.store.Close(ctx)
}

// GetSchema 实现 port.Database。每个集合取一条样本文档推断字段。
func (a *Adapter) GetSchema(ctx context.Context) (domain.SchemaDescription, error) {
	names, err := a.store.CollectionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: 列出集合失败: %v", port.ErrSchemaUnavailable, err)
	}
	sort.Strings(names)

	schema := make(domain.SchemaDescription, len(names))
	for _, name := range names {
		sample, err := a.store.SampleOne(ctx, name)
		if err != nil {
			log.Printf("警告: [MongoDB] 集合 '%s' 取样失败: %v", name, err)
		}
		fields := make([]domain.FieldInfo, 0, len(sample))
		for _, elem := range sample {
			fields = append(fields, domain.FieldInfo{Name: elem.Key, Type: bsonTypeName(elem.Value)})
		}
		schema[name] = domain.TableSchema{Fields: fields}
	}
	return schema, nil
}

// Execute 实现 port.Database
func (a *Adapter) Execute(ctx context.Context, query string) (*domain.QueryResult, error) {
	d, err := ParseDescriptor(query)
	if err != nil {
		return nil, err
	}

	switch d.Op {
	case OpFind:
		docs, err := a.store.Find(ctx, d.Collection, d.Filter, findOptions{
			projection: d.Projection,
			sort:       d.Sort,
			limit:      d.Limit,
			skip:       d.Skip,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
		}
		return rowsResult(docs), nil

	case OpAggregate:
		docs, err := a.store.Aggregate(ctx, d.Collection, d.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
		}
		return rowsResult(docs), nil

	case OpInsert:
		ids, err := a.store.Insert(ctx, d.Collection, d.Documents)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
		}
		normalized := make([]any, len(ids))
		for i, id := range ids {
			normalized[i] = Normalize(id)
		}
		res := domain.NewWriteResult(WriteOKMessage, int64(len(ids)))
		res.Extra = map[string]any{"inserted_ids": normalized}
		return res, nil

	case OpUpdate:
		matched, modified, err := a.store.Update(ctx, d.Collection, d.Filter, d.Update, d.Many)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
		}
		res := domain.NewWriteResult(WriteOKMessage, modified)
		res.Extra = map[string]any{"matched_count": matched}
		return res, nil

	case OpDelete:
		deleted, err := a.store.Delete(ctx, d.Collection, d.Filter, d.Many)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrExecution, err)
		}
		return domain.NewWriteResult(WriteOKMessage, deleted), nil
	}
	return nil, fmt.Errorf("%w: 未知操作 %q", port.ErrMalformedDocumentQuery, d.Op)
}

// WriteOKMessage 是写操作成功后返回的状态信息
const WriteOKMessage = "query executed successfully"

// rowsResult 把文档转换为行，列顺序为 _id 在前，其余按首次出现的顺序。
func rowsResult(docs []bson.D) *domain.QueryResult {
	var columns []string
	seen := make(map[string]bool)
	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row := make(map[string]any, len(doc))
		for _, elem := range doc {
			row[elem.Key] = Normalize(elem.Value)
			if !seen[elem.Key] {
				seen[elem.Key] = true
				columns = append(columns, elem.Key)
			}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i] == "_id" && columns[j] != "_id"
	})
	return domain.NewRowsResult(columns, rows)
}
