// Package prompt_store 持有结果分析所用的系统提示词，并负责其持久化与热加载。
// file: internal/service/prompt_store/prompt_store.go
package prompt_store

import (
	"QueryMind/internal/core/port"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var _ port.PromptSource = (*Store)(nil)

// ErrEmptyPrompt 表示提交的提示词为空
var ErrEmptyPrompt = errors.New("提示词不能为空")

const debounceDuration = 500 * time.Millisecond

// DefaultAnalysisPrompt 是没有设置文件时使用的内置提示词
const DefaultAnalysisPrompt = `You are an expert data analyst who answers questions from the results of database queries.
You receive a natural-language question, the query that was executed, and the rows it returned.
Analyse the result and answer the question clearly, accurately and in depth.

Guidelines:
1. Answer in the language the question was asked in.
2. Explain the data in natural prose as a domain expert would; do not just echo raw values.
3. Keep the tone friendly and easy to follow.
4. Describe what the numbers mean and point out notable observations.
5. For counts, say which table or collection was counted and why the number matters.
6. For calculations, state what was calculated, the result, and its meaning for the business.
7. When there are many rows, summarise the key points in order of importance.
8. Stay on topic and answer exactly what was asked.
9. Where useful, add insights such as trends, anomalies or recommendations.`

// settingsFile 是设置文件的 JSON 结构
type settingsFile struct {
	SQLAnalysisPrompt string `json:"sql_analysis_prompt"`
}

// Store 是提示词的唯一持有者。读并发，写串行。
type Store struct {
	mu     sync.RWMutex
	path   string
	prompt string

	watcher *fsnotify.Watcher
	timerMu sync.Mutex
	timer   *time.Timer
}

// New 创建 Store 并从 path 加载提示词。文件不存在时使用内置默认值。
func New(path string) (*Store, error) {
	s := &Store{path: filepath.Clean(path), prompt: DefaultAnalysisPrompt}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 返回设置文件路径
func (s *Store) Path() string { return s.path }

// Get 返回当前提示词
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// Update 先原子写入设置文件，成功后再替换内存中的值。
func (s *Store) Update(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeSettings(s.path, settingsFile{SQLAnalysisPrompt: prompt}); err != nil {
		return fmt.Errorf("保存提示词到 '%s' 失败: %w", s.path, err)
	}
	s.prompt = prompt
	log.Printf("信息: [PromptStore] 提示词已更新并保存到 '%s'", s.path)
	return nil
}

// reload 从磁盘读取设置文件。文件不存在不算错误；内容损坏时保留当前值。
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("信息: [PromptStore] 设置文件 '%s' 不存在，使用当前提示词", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取设置文件 '%s' 失败: %w", s.path, err)
	}

	var sf settingsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		log.Printf("警告: [PromptStore] 设置文件 '%s' 解析失败，保留当前提示词: %v", s.path, err)
		return nil
	}
	if strings.TrimSpace(sf.SQLAnalysisPrompt) == "" {
		return nil
	}

	s.mu.Lock()
	changed := s.prompt != sf.SQLAnalysisPrompt
	s.prompt = sf.SQLAnalysisPrompt
	s.mu.Unlock()
	if changed {
		log.Printf("信息: [PromptStore] 已从 '%s' 加载提示词", s.path)
	}
	return nil
}

// writeSettings 先写临时文件再 rename，避免读到写了一半的文件。
func writeSettings(path string, sf settingsFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Watch 监视设置文件所在目录，外部修改在防抖后重新加载。
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("监视目录 '%s' 失败: %w", dir, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
					s.scheduleReload()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("错误: [PromptStore] 文件监视器报告错误: %v", werr)
			}
		}
	}()
	log.Printf("信息: [PromptStore] 已开始监视 '%s'", s.path)
	return nil
}

func (s *Store) scheduleReload() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDuration, func() {
		if err := s.reload(); err != nil {
			log.Printf("错误: [PromptStore] 热加载失败: %v", err)
		}
	})
}

// Close 停止文件监视
func (s *Store) Close() error {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerMu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
