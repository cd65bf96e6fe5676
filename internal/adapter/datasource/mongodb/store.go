// file: internal/adapter/datasource/mongodb/store.go
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// findOptions 是 find 操作的可选参数
type findOptions struct {
	projection any
	sort       any
	limit      int64
	skip       int64
}

// docStore 是适配器对 MongoDB 的最小依赖面，测试中用内存替身实现。
type docStore interface {
	CollectionNames(ctx context.Context) ([]string, error)
	SampleOne(ctx context.Context, coll string) (bson.D, error)
	Find(ctx context.Context, coll string, filter any, opts findOptions) ([]bson.D, error)
	Aggregate(ctx context.Context, coll string, pipeline any) ([]bson.D, error)
	Insert(ctx context.Context, coll string, docs []any) ([]any, error)
	Update(ctx context.Context, coll string, filter, update any, many bool) (matched, modified int64, err error)
	Delete(ctx context.Context, coll string, filter any, many bool) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// mongoStore 是基于官方驱动的 docStore 实现
type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ docStore = (*mongoStore)(nil)

func (s *mongoStore) CollectionNames(ctx context.Context) ([]string, error) {
	return s.db.ListCollectionNames(ctx, bson.D{})
}

func (s *mongoStore) SampleOne(ctx context.Context, coll string) (bson.D, error) {
	var doc bson.D
	err := s.db.Collection(coll).FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *mongoStore) Find(ctx context.Context, coll string, filter any, o findOptions) ([]bson.D, error) {
	opts := options.Find()
	if o.projection != nil {
		opts.SetProjection(o.projection)
	}
	if o.sort != nil {
		opts.SetSort(o.sort)
	}
	if o.limit > 0 {
		opts.SetLimit(o.limit)
	}
	if o.skip > 0 {
		opts.SetSkip(o.skip)
	}
	cursor, err := s.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("读取 find 游标失败: %w", err)
	}
	return docs, nil
}

func (s *mongoStore) Aggregate(ctx context.Context, coll string, pipeline any) ([]bson.D, error) {
	cursor, err := s.db.Collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("读取 aggregate 游标失败: %w", err)
	}
	return docs, nil
}

func (s *mongoStore) Insert(ctx context.Context, coll string, docs []any) ([]any, error) {
	c := s.db.Collection(coll)
	if len(docs) == 1 {
		res, err := c.InsertOne(ctx, docs[0])
		if err != nil {
			return nil, fmt.Errorf("insertOne: %w", err)
		}
		return []any{res.InsertedID}, nil
	}
	res, err := c.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("insertMany: %w", err)
	}
	return res.InsertedIDs, nil
}

func (s *mongoStore) Update(ctx context.Context, coll string, filter, update any, many bool) (int64, int64, error) {
	c := s.db.Collection(coll)
	var (
		res *mongo.UpdateResult
		err error
	)
	if many {
		res, err = c.UpdateMany(ctx, filter, update)
	} else {
		res, err = c.UpdateOne(ctx, filter, update)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("update: %w", err)
	}
	return res.MatchedCount, res.ModifiedCount, nil
}

func (s *mongoStore) Delete(ctx context.Context, coll string, filter any, many bool) (int64, error) {
	c := s.db.Collection(coll)
	var (
		res *mongo.DeleteResult
		err error
	)
	if many {
		res, err = c.DeleteMany(ctx, filter)
	} else {
		res, err = c.DeleteOne(ctx, filter)
	}
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
