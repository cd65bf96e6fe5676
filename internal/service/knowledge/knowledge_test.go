// file: internal/service/knowledge/knowledge_test.go
package knowledge

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"QueryMind/internal/service/analysis"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	ExecuteFunc func(ctx context.Context, query string) (*domain.QueryResult, error)
	dialect     domain.Dialect
	closes      atomic.Int32
}

func (f *fakeDB) GetSchema(context.Context) (domain.SchemaDescription, error) {
	return domain.SchemaDescription{}, nil
}
func (f *fakeDB) Execute(ctx context.Context, q string) (*domain.QueryResult, error) {
	return f.ExecuteFunc(ctx, q)
}
func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Dialect() domain.Dialect   { return f.dialect }
func (f *fakeDB) Close() error              { f.closes.Add(1); return nil }

type fakeProvider struct {
	db  port.Database
	err error
}

func (p *fakeProvider) Current() (port.Database, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.db, nil
}

type chunkStream struct{ chunks []string }

func (s *chunkStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}
func (s *chunkStream) Close() error { return nil }

type fakeCompletion struct {
	CompleteFunc func(ctx context.Context, req port.CompletionRequest) (string, error)
	StreamFunc   func(ctx context.Context, req port.CompletionRequest) (port.CompletionStream, error)
	last         port.CompletionRequest
}

func (f *fakeCompletion) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	f.last = req
	return f.CompleteFunc(ctx, req)
}
func (f *fakeCompletion) Stream(ctx context.Context, req port.CompletionRequest) (port.CompletionStream, error) {
	f.last = req
	return f.StreamFunc(ctx, req)
}

func sqlRows() *domain.QueryResult {
	return &domain.QueryResult{
		Columns: []string{"id", "title", "content", "category"},
		Rows: []map[string]any{
			{"id": int64(1), "title": "Hours", "content": "9-5", "category": "faq"},
			{"id": int64(2), "title": []byte("Q3"), "content": "up 12%", "category": "sales"},
			{"id": int64(3), "title": "Refunds", "content": nil, "category": "faq"},
		},
	}
}

func collect(t *testing.T, ch <-chan analysis.Fragment) []analysis.Fragment {
	t.Helper()
	var out []analysis.Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("等待片段超时")
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(&fakeProvider{}, &fakeCompletion{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, s.cfg.Table)
	assert.Equal(t, defaultMaxTokens, s.cfg.MaxTokens)

	_, err = New(&fakeProvider{}, &fakeCompletion{}, Config{Table: "data_source; DROP TABLE x"})
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestEntries_SQLFiltersCategoryInMemory(t *testing.T) {
	var gotQuery string
	db := &fakeDB{dialect: domain.DialectPostgreSQL, ExecuteFunc: func(_ context.Context, q string) (*domain.QueryResult, error) {
		gotQuery = q
		return sqlRows(), nil
	}}
	s, err := New(&fakeProvider{db: db}, &fakeCompletion{}, Config{Table: "faq_entries"})
	require.NoError(t, err)

	entries, err := s.Entries(context.Background(), " faq ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, title, content, category FROM faq_entries ORDER BY id", gotQuery)
	assert.Equal(t, []Entry{
		{ID: int64(1), Title: "Hours", Content: "9-5", Category: "faq"},
		{ID: int64(3), Title: "Refunds", Content: "", Category: "faq"},
	}, entries)

	all, err := s.Entries(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Q3", all[1].Title)
	assert.Equal(t, int32(2), db.closes.Load())
}

func TestEntries_MongoFiltersOnServer(t *testing.T) {
	var gotQuery string
	db := &fakeDB{dialect: domain.DialectMongoDB, ExecuteFunc: func(_ context.Context, q string) (*domain.QueryResult, error) {
		gotQuery = q
		return &domain.QueryResult{Rows: []map[string]any{
			{"_id": "665f", "title": "Hours", "content": "9-5", "category": "faq"},
		}}, nil
	}}
	s, err := New(&fakeProvider{db: db}, &fakeCompletion{}, Config{})
	require.NoError(t, err)

	entries, err := s.Entries(context.Background(), "faq")
	require.NoError(t, err)
	assert.JSONEq(t, `{"collection":"data_source","find":{"category":"faq"},"sort":{"_id":1}}`, gotQuery)
	require.Len(t, entries, 1)
	assert.Equal(t, "665f", entries[0].ID)

	_, err = s.Entries(context.Background(), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"collection":"data_source","find":{},"sort":{"_id":1}}`, gotQuery)
}

func TestAnswer_PromptCarriesQuestionAndEntries(t *testing.T) {
	db := &fakeDB{dialect: domain.DialectMySQL, ExecuteFunc: func(context.Context, string) (*domain.QueryResult, error) {
		return sqlRows(), nil
	}}
	fc := &fakeCompletion{CompleteFunc: func(context.Context, port.CompletionRequest) (string, error) {
		return "Open 9-5.", nil
	}}
	s, err := New(&fakeProvider{db: db}, fc, Config{MaxTokens: 200})
	require.NoError(t, err)

	out, err := s.Answer(context.Background(), "  when are you open?  ", "faq")
	require.NoError(t, err)
	assert.Equal(t, "Open 9-5.", out)

	require.Len(t, fc.last.Messages, 2)
	assert.Equal(t, port.RoleSystem, fc.last.Messages[0].Role)
	assert.Equal(t, SystemPrompt, fc.last.Messages[0].Content)
	user := fc.last.Messages[1].Content
	assert.Contains(t, user, "The user asks: when are you open?\n")
	assert.Contains(t, user, `"title":"Hours"`)
	assert.NotContains(t, user, "Q3")
	assert.Equal(t, 200, fc.last.MaxTokens)
	assert.InDelta(t, 0.7, fc.last.Temperature, 1e-6)

	// 提示词中的数据是合法 JSON
	start := len("The user asks: when are you open?\nData retrieved from the database: ")
	end := len(user) - len("\nSummarize a short and clear answer:")
	var decoded []Entry
	require.NoError(t, json.Unmarshal([]byte(user[start:end]), &decoded))
	assert.Len(t, decoded, 2)
}

func TestAnswer_Errors(t *testing.T) {
	db := &fakeDB{dialect: domain.DialectMySQL, ExecuteFunc: func(context.Context, string) (*domain.QueryResult, error) {
		return sqlRows(), nil
	}}
	fc := &fakeCompletion{CompleteFunc: func(context.Context, port.CompletionRequest) (string, error) {
		return "", errors.New("rate limited")
	}}
	s, err := New(&fakeProvider{db: db}, fc, Config{})
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, int32(0), db.closes.Load())

	_, err = s.Answer(context.Background(), "hi", "")
	assert.ErrorIs(t, err, port.ErrCompletion)

	off, err := New(&fakeProvider{err: port.ErrNotConnected}, fc, Config{})
	require.NoError(t, err)
	_, err = off.Answer(context.Background(), "hi", "")
	assert.ErrorIs(t, err, port.ErrNotConnected)
}

func TestStream_RelaysChunks(t *testing.T) {
	db := &fakeDB{dialect: domain.DialectMySQL, ExecuteFunc: func(context.Context, string) (*domain.QueryResult, error) {
		return sqlRows(), nil
	}}
	fc := &fakeCompletion{StreamFunc: func(context.Context, port.CompletionRequest) (port.CompletionStream, error) {
		return &chunkStream{chunks: []string{"Open ", "", "9-5."}}, nil
	}}
	s, err := New(&fakeProvider{db: db}, fc, Config{})
	require.NoError(t, err)

	frags := collect(t, s.Stream(context.Background(), "hours?", "faq"))
	assert.Equal(t, []analysis.Fragment{
		{Kind: analysis.FragmentStart},
		{Kind: analysis.FragmentText, Text: "Open "},
		{Kind: analysis.FragmentText, Text: "9-5."},
		{Kind: analysis.FragmentDone},
	}, frags)
	assert.Equal(t, int32(1), db.closes.Load())
}

func TestStream_NotConnectedEndsWithFailedFragment(t *testing.T) {
	fc := &fakeCompletion{StreamFunc: func(context.Context, port.CompletionRequest) (port.CompletionStream, error) {
		t.Error("未连接时不应调用大模型")
		return nil, errors.New("unexpected")
	}}
	s, err := New(&fakeProvider{err: port.ErrNotConnected}, fc, Config{})
	require.NoError(t, err)

	frags := collect(t, s.Stream(context.Background(), "hours?", ""))
	require.Len(t, frags, 3)
	assert.True(t, frags[1].Failed)
	assert.Equal(t, port.ErrNotConnected.Error(), frags[1].Text)
	assert.Equal(t, analysis.FragmentDone, frags[2].Kind)
}
