// Package knowledge 基于知识表（默认 data_source）中的条目回答问题。
// 与问答流水线不同，这里不生成查询：按分类取出全部条目，连同问题一起交给大模型总结。
// file: internal/service/knowledge/knowledge.go
package knowledge

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"QueryMind/internal/service/analysis"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultTable 是知识条目所在的表（集合）
const DefaultTable = "data_source"

// SystemPrompt 是知识问答使用的系统提示词
const SystemPrompt = "You are an assistant that answers questions using data retrieved from the database."

const (
	temperature      = 0.7
	defaultMaxTokens = 1000
	queueSize        = 64
)

var (
	// ErrEmptyQuestion 表示问题为空
	ErrEmptyQuestion = errors.New("问题不能为空")
	// ErrInvalidTable 表示配置的知识表名不是合法标识符
	ErrInvalidTable = errors.New("知识表名无效")

	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Entry 是一条知识条目
type Entry struct {
	ID       any    `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Config 是知识问答的参数
type Config struct {
	Table     string `mapstructure:"table"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// Service 负责知识条目的读取与问答
type Service struct {
	databases  port.DatabaseProvider
	completion port.CompletionService
	cfg        Config
}

// New 创建知识问答服务。表名为空时使用 DefaultTable。
func New(databases port.DatabaseProvider, completion port.CompletionService, cfg Config) (*Service, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !identifier.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Service{databases: databases, completion: completion, cfg: cfg}, nil
}

// Entries 返回知识条目，category 非空时只返回该分类。
func (s *Service) Entries(ctx context.Context, category string) ([]Entry, error) {
	db, err := s.databases.Current()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	category = strings.TrimSpace(category)
	query, err := s.listQuery(db.Dialect(), category)
	if err != nil {
		return nil, err
	}
	result, err := db.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(result.Rows))
	for _, row := range result.Rows {
		e := entryFromRow(row)
		// 关系型方言在内存中过滤，避免把分类值拼进 SQL
		if category != "" && e.Category != category {
			continue
		}
		entries = append(entries, e)
	}
	slog.Debug("已读取知识条目", "table", s.cfg.Table, "category", category, "count", len(entries))
	return entries, nil
}

// listQuery 生成读取知识表的查询
func (s *Service) listQuery(d domain.Dialect, category string) (string, error) {
	switch d {
	case domain.DialectMySQL, domain.DialectPostgreSQL:
		return fmt.Sprintf("SELECT id, title, content, category FROM %s ORDER BY id", s.cfg.Table), nil
	case domain.DialectMongoDB:
		filter := map[string]any{}
		if category != "" {
			filter["category"] = category
		}
		b, err := json.Marshal(map[string]any{
			"collection": s.cfg.Table,
			"find":       filter,
			"sort":       map[string]int{"_id": 1},
		})
		return string(b), err
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedDialect, d)
}

func entryFromRow(row map[string]any) Entry {
	id, ok := row["id"]
	if !ok {
		id = row["_id"]
	}
	return Entry{
		ID:       id,
		Title:    text(row["title"]),
		Content:  text(row["content"]),
		Category: text(row["category"]),
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// Answer 阻塞返回基于知识条目的回答
func (s *Service) Answer(ctx context.Context, question, category string) (string, error) {
	req, err := s.buildRequest(ctx, question, category)
	if err != nil {
		return "", err
	}
	out, err := s.completion.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", port.ErrCompletion, err)
	}
	return out, nil
}

// Stream 流式返回回答，片段形式与结果分析一致。读取条目失败同样以失败片段结束。
func (s *Service) Stream(ctx context.Context, question, category string) <-chan analysis.Fragment {
	return analysis.StreamCompletion(ctx, s.completion, queueSize,
		func() (port.CompletionRequest, error) { return s.buildRequest(ctx, question, category) },
		func(err error) string { return err.Error() })
}

func (s *Service) buildRequest(ctx context.Context, question, category string) (port.CompletionRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return port.CompletionRequest{}, ErrEmptyQuestion
	}
	entries, err := s.Entries(ctx, category)
	if err != nil {
		return port.CompletionRequest{}, err
	}
	if len(entries) == 0 {
		slog.Warn("知识表中没有匹配的条目", "table", s.cfg.Table, "category", category)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return port.CompletionRequest{}, err
	}
	return port.CompletionRequest{
		Messages: []port.Message{
			{Role: port.RoleSystem, Content: SystemPrompt},
			{Role: port.RoleUser, Content: userPrompt(question, string(data))},
		},
		Temperature: temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}, nil
}

func userPrompt(question, data string) string {
	var b strings.Builder
	b.WriteString("The user asks: ")
	b.WriteString(question)
	b.WriteString("\nData retrieved from the database: ")
	b.WriteString(data)
	b.WriteString("\nSummarize a short and clear answer:")
	return b.String()
}
