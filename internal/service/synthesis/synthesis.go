// Package synthesis 把自然语言问题转换为目标数据库方言的查询语句。
// file: internal/service/synthesis/synthesis.go
package synthesis

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	temperature = 0.1
	maxTokens   = 500
)

// Error 描述一次查询生成失败。它包装了 port.ErrSynthesis 和底层原因。
type Error struct {
	Question string
	Dialect  domain.Dialect
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("生成 %s 查询失败: %v", e.Dialect.DisplayName(), e.Err)
}

// Unwrap 同时暴露 port.ErrSynthesis 和底层原因
func (e *Error) Unwrap() []error {
	return []error{port.ErrSynthesis, e.Err}
}

var errEmptyQuery = errors.New("模型返回了空查询")

// Service 负责查询生成
type Service struct {
	completion port.CompletionService
}

// New 创建查询生成服务
func New(completion port.CompletionService) *Service {
	return &Service{completion: completion}
}

// Synthesize 根据问题与结构描述生成查询文本，失败时返回 *Error。
func (s *Service) Synthesize(ctx context.Context, question string, schema domain.SchemaDescription, dialect domain.Dialect) (string, error) {
	system, err := SystemPrompt(dialect)
	if err != nil {
		return "", err
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", &Error{Question: question, Dialect: dialect, Err: err}
	}

	raw, err := s.completion.Complete(ctx, port.CompletionRequest{
		Messages: []port.Message{
			{Role: port.RoleSystem, Content: system},
			{Role: port.RoleUser, Content: userPrompt(string(schemaJSON), question, dialect)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		slog.Error("查询生成调用失败", "dialect", dialect, "error", err)
		return "", &Error{Question: question, Dialect: dialect, Err: err}
	}

	query := StripCodeFence(raw)
	if query == "" {
		return "", &Error{Question: question, Dialect: dialect, Err: errEmptyQuery}
	}
	slog.Debug("查询已生成", "dialect", dialect, "query", query)
	return query, nil
}

// StripCodeFence 去掉首尾的 ``` 围栏（可带语言标记），其余内容原样保留。
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// 围栏所在行只有一个标识符时视为语言标记，无论是哪种语言
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			if isFenceTag(strings.TrimSpace(s[:nl])) {
				s = s[nl+1:]
			}
		} else if tag := leadingWord(s); isKnownFenceTag(tag) {
			// 单行围栏无法区分标记与查询首词，只认常见标记
			s = strings.TrimPrefix(s, tag)
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func leadingWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i]
		}
	}
	return s
}

// isFenceTag 判断围栏行的内容是否为语言标记：空，或不含空白的单个标识符。
func isFenceTag(tag string) bool {
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("+-_.#", r):
		default:
			return false
		}
	}
	return true
}

func isKnownFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "", "sql", "mysql", "postgresql", "postgres", "pgsql", "json", "mongodb", "mongo", "javascript", "js":
		return true
	}
	return false
}

func userPrompt(schemaJSON, question string, dialect domain.Dialect) string {
	var b strings.Builder
	b.WriteString("Database schema:\n")
	b.WriteString(schemaJSON)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	if dialect == domain.DialectMongoDB {
		b.WriteString("\n\nMongoDB query (JSON):")
	} else {
		b.WriteString("\n\nSQL query:")
	}
	return b.String()
}
