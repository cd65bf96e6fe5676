// file: internal/adapter/datasource/mongodb/adapter_test.go
package mongodb

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
//  测试替身 (Test Doubles)
// ============================================================================

// fakeStore 是 docStore 接口的测试替身
type fakeStore struct {
	CollectionNamesFunc func(ctx context.Context) ([]string, error)
	SampleOneFunc       func(ctx context.Context, coll string) (bson.D, error)
	FindFunc            func(ctx context.Context, coll string, filter any, opts findOptions) ([]bson.D, error)
	AggregateFunc       func(ctx context.Context, coll string, pipeline any) ([]bson.D, error)
	InsertFunc          func(ctx context.Context, coll string, docs []any) ([]any, error)
	UpdateFunc          func(ctx context.Context, coll string, filter, update any, many bool) (int64, int64, error)
	DeleteFunc          func(ctx context.Context, coll string, filter any, many bool) (int64, error)
	closed              bool
}

func (f *fakeStore) CollectionNames(ctx context.Context) ([]string, error) {
	if f.CollectionNamesFunc != nil {
		return f.CollectionNamesFunc(ctx)
	}
	return nil, nil
}
func (f *fakeStore) SampleOne(ctx context.Context, coll string) (bson.D, error) {
	if f.SampleOneFunc != nil {
		return f.SampleOneFunc(ctx, coll)
	}
	return nil, nil
}
func (f *fakeStore) Find(ctx context.Context, coll string, filter any, opts findOptions) ([]bson.D, error) {
	if f.FindFunc != nil {
		return f.FindFunc(ctx, coll, filter, opts)
	}
	return nil, nil
}
func (f *fakeStore) Aggregate(ctx context.Context, coll string, pipeline any) ([]bson.D, error) {
	if f.AggregateFunc != nil {
		return f.AggregateFunc(ctx, coll, pipeline)
	}
	return nil, nil
}
func (f *fakeStore) Insert(ctx context.Context, coll string, docs []any) ([]any, error) {
	if f.InsertFunc != nil {
		return f.InsertFunc(ctx, coll, docs)
	}
	return nil, nil
}
func (f *fakeStore) Update(ctx context.Context, coll string, filter, update any, many bool) (int64, int64, error) {
	if f.UpdateFunc != nil {
		return f.UpdateFunc(ctx, coll, filter, update, many)
	}
	return 0, 0, nil
}
func (f *fakeStore) Delete(ctx context.Context, coll string, filter any, many bool) (int64, error) {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(ctx, coll, filter, many)
	}
	return 0, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

// ============================================================================
//  测试用例
// ============================================================================

func TestParseDescriptor(t *testing.T) {
	t.Run("find with extended json", func(t *testing.T) {
		d, err := ParseDescriptor(`{"collection":"users","find":{"_id":{"$oid":"507f1f77bcf86cd799439011"}},"sort":{"age":-1},"limit":5}`)
		require.NoError(t, err)
		assert.Equal(t, "users", d.Collection)
		assert.Equal(t, OpFind, d.Op)
		assert.EqualValues(t, 5, d.Limit)

		filter, ok := d.Filter.(bson.D)
		require.True(t, ok, "filter 应解析为 bson.D")
		require.Len(t, filter, 1)
		oid, ok := filter[0].Value.(bson.ObjectID)
		require.True(t, ok)
		assert.Equal(t, "507f1f77bcf86cd799439011", oid.Hex())
		assert.NotNil(t, d.Sort)
	})

	t.Run("find defaults", func(t *testing.T) {
		d, err := ParseDescriptor(`{"collection":"users","find":null}`)
		require.NoError(t, err)
		assert.Equal(t, bson.D{}, d.Filter)
		assert.Equal(t, defaultFindLimit, d.Limit)
		assert.Nil(t, d.Projection)
	})

	t.Run("insert array", func(t *testing.T) {
		d, err := ParseDescriptor(`{"collection":"logs","insert":[{"a":1},{"a":2}]}`)
		require.NoError(t, err)
		assert.Len(t, d.Documents, 2)
	})

	t.Run("update with many", func(t *testing.T) {
		d, err := ParseDescriptor(`{"collection":"users","update":{"filter":{"active":false},"update":{"$set":{"archived":true}}},"many":true}`)
		require.NoError(t, err)
		assert.Equal(t, OpUpdate, d.Op)
		assert.True(t, d.Many)
		assert.NotNil(t, d.Update)
	})

	malformed := map[string]string{
		"not json":           `SELECT * FROM users`,
		"missing collection": `{"find":{}}`,
		"no operation":       `{"collection":"users"}`,
		"two operations":     `{"collection":"users","find":{},"delete":{}}`,
		"update without doc": `{"collection":"users","update":{"filter":{}}}`,
		"aggregate object":   `{"collection":"users","aggregate":{"$match":{}}}`,
		"empty insert":       `{"collection":"users","insert":[]}`,
		"filter not object":  `{"collection":"users","delete":[1,2]}`,
	}
	for name, q := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor(q)
			assert.ErrorIs(t, err, port.ErrMalformedDocumentQuery)
		})
	}
}

func TestExecute_Find(t *testing.T) {
	oid := bson.NewObjectID()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	price, err := bson.ParseDecimal128("12.50")
	require.NoError(t, err)

	store := &fakeStore{
		FindFunc: func(ctx context.Context, coll string, filter any, opts findOptions) ([]bson.D, error) {
			assert.Equal(t, "orders", coll)
			assert.EqualValues(t, 10, opts.limit)
			return []bson.D{
				{{Key: "status", Value: "paid"}, {Key: "_id", Value: oid}, {Key: "price", Value: price}},
				{{Key: "_id", Value: oid}, {Key: "created", Value: bson.NewDateTimeFromTime(created)},
					{Key: "meta", Value: bson.D{{Key: "tags", Value: bson.A{"a", oid}}}}},
			}, nil
		},
	}
	adapter := newAdapter(store, "shop")

	res, err := adapter.Execute(context.Background(), `{"collection":"orders","find":{"status":"paid"},"limit":10}`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"_id", "status", "price", "created", "meta"}, res.Columns)
	assert.Equal(t, oid.Hex(), res.Rows[0]["_id"])
	assert.Equal(t, 12.5, res.Rows[0]["price"])
	assert.Equal(t, "2024-01-02T03:04:05Z", res.Rows[1]["created"])

	meta := res.Rows[1]["meta"].(map[string]any)
	assert.Equal(t, []any{"a", oid.Hex()}, meta["tags"])

	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestExecute_Writes(t *testing.T) {
	oid := bson.NewObjectID()
	store := &fakeStore{
		InsertFunc: func(ctx context.Context, coll string, docs []any) ([]any, error) {
			return []any{oid}, nil
		},
		UpdateFunc: func(ctx context.Context, coll string, filter, update any, many bool) (int64, int64, error) {
			assert.True(t, many)
			return 4, 3, nil
		},
		DeleteFunc: func(ctx context.Context, coll string, filter any, many bool) (int64, error) {
			assert.False(t, many)
			return 1, nil
		},
	}
	adapter := newAdapter(store, "shop")
	ctx := context.Background()

	res, err := adapter.Execute(ctx, `{"collection":"users","insert":{"name":"amy"}}`)
	require.NoError(t, err)
	assert.True(t, res.IsWrite)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, []any{oid.Hex()}, res.Extra["inserted_ids"])

	res, err = adapter.Execute(ctx, `{"collection":"users","update":{"filter":{},"update":{"$set":{"x":1}}},"many":true}`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsAffected)
	assert.EqualValues(t, 4, res.Extra["matched_count"])

	res, err = adapter.Execute(ctx, `{"collection":"users","delete":{"name":"amy"}}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, WriteOKMessage, res.Message)
}

func TestExecute_StoreFailure(t *testing.T) {
	store := &fakeStore{
		AggregateFunc: func(ctx context.Context, coll string, pipeline any) ([]bson.D, error) {
			return nil, errors.New("pipeline stage not supported")
		},
	}
	adapter := newAdapter(store, "shop")

	_, err := adapter.Execute(context.Background(), `{"collection":"orders","aggregate":[{"$bogus":{}}]}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrExecution)
}

func TestGetSchema(t *testing.T) {
	store := &fakeStore{
		CollectionNamesFunc: func(ctx context.Context) ([]string, error) {
			return []string{"users", "empty"}, nil
		},
		SampleOneFunc: func(ctx context.Context, coll string) (bson.D, error) {
			if coll == "empty" {
				return nil, nil
			}
			return bson.D{
				{Key: "_id", Value: bson.NewObjectID()},
				{Key: "name", Value: "amy"},
				{Key: "age", Value: int32(30)},
				{Key: "tags", Value: bson.A{"x"}},
			}, nil
		},
	}
	adapter := newAdapter(store, "shop")

	schema, err := adapter.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "users"}, schema.TableNames())
	assert.True(t, schema["empty"].IsDocument())
	assert.Empty(t, schema["empty"].Fields)
	assert.Equal(t, []domain.FieldInfo{
		{Name: "_id", Type: "objectId"},
		{Name: "name", Type: "string"},
		{Name: "age", Type: "int"},
		{Name: "tags", Type: "array"},
	}, schema["users"].Fields)

	store.CollectionNamesFunc = func(ctx context.Context) ([]string, error) {
		return nil, errors.New("not authorized")
	}
	_, err = adapter.GetSchema(context.Background())
	assert.ErrorIs(t, err, port.ErrSchemaUnavailable)
}

func TestClose(t *testing.T) {
	store := &fakeStore{}
	adapter := newAdapter(store, "shop")
	require.NoError(t, adapter.Close())
	assert.True(t, store.closed)
	assert.Equal(t, domain.DialectMongoDB, adapter.Dialect())
}

func TestBuildURI(t *testing.T) {
	assert.Equal(t, "mongodb://u:p%40w@db:27017/shop", BuildURI(domain.ConnectionConfig{
		DBType: "mongodb", Host: "db", User: "u", Password: "p@w", Database: "shop",
	}))
	assert.Equal(t, "mongodb://db:28000", BuildURI(domain.ConnectionConfig{DBType: "mongodb", Host: "db", Port: 28000}))
	assert.Equal(t, "mongodb+srv://x@cluster/app", BuildURI(domain.ConnectionConfig{MongoDBURI: "mongodb+srv://x@cluster/app"}))
}

func TestDatabaseFromURI(t *testing.T) {
	assert.Equal(t, "app", DatabaseFromURI("mongodb+srv://u:p@cluster.mongodb.net/app?retryWrites=true"))
	assert.Equal(t, "shop", DatabaseFromURI("mongodb://h1:27017,h2:27017/shop"))
	assert.Equal(t, "test", DatabaseFromURI("mongodb://localhost:27017"))
	assert.Equal(t, "test", DatabaseFromURI("mongodb://localhost:27017/?authSource=admin"))
}
