// Package domain file: internal/core/domain/stream_event.go
package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind 是流式事件的判别字段
type EventKind int

const (
	EventStatus EventKind = iota + 1
	EventSQLQuery
	EventResult
	EventAnalysisStart
	EventAnalysisChunk
	EventAnalysisComplete
	EventError
	EventAnalysisError
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventSQLQuery:
		return "sql_query"
	case EventResult:
		return "result"
	case EventAnalysisStart:
		return "analysis_start"
	case EventAnalysisChunk:
		return "analysis_chunk"
	case EventAnalysisComplete:
		return "analysis_complete"
	case EventError:
		return "error"
	case EventAnalysisError:
		return "analysis_error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Stage 是 status 事件携带的阶段名
type Stage string

const (
	StageGeneratingSQL   Stage = "generating_sql"
	StageExecutingSQL    Stage = "executing_sql"
	StageAnalyzingResult Stage = "analyzing_result"
)

// StreamEvent 是流式问答中推送给客户端的一条事件。
// 序列化后总是一个只有单个键的 JSON 对象。
type StreamEvent struct {
	Kind   EventKind
	Stage  Stage
	Text   string
	Result *QueryResult
}

// StatusEvent 构造阶段状态事件
func StatusEvent(s Stage) StreamEvent {
	return StreamEvent{Kind: EventStatus, Stage: s}
}

func SQLQueryEvent(q string) StreamEvent {
	return StreamEvent{Kind: EventSQLQuery, Text: q}
}

func ResultEvent(r *QueryResult) StreamEvent {
	return StreamEvent{Kind: EventResult, Result: r}
}

func AnalysisStartEvent() StreamEvent {
	return StreamEvent{Kind: EventAnalysisStart}
}

func AnalysisChunkEvent(t string) StreamEvent {
	return StreamEvent{Kind: EventAnalysisChunk, Text: t}
}

func AnalysisCompleteEvent() StreamEvent {
	return StreamEvent{Kind: EventAnalysisComplete}
}

// ErrorEvent 构造终止事件，之后不再推送任何事件。
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Kind: EventError, Text: msg}
}

func AnalysisErrorEvent(msg string) StreamEvent {
	return StreamEvent{Kind: EventAnalysisError, Text: msg}
}

// IsTerminal 报告该事件之后是否不再有任何事件。
func (e StreamEvent) IsTerminal() bool {
	switch e.Kind {
	case EventAnalysisComplete, EventError, EventAnalysisError:
		return true
	}
	return false
}

// MarshalJSON 输出单键对象，例如 {"status":"generating_sql"}。
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	var v any
	switch e.Kind {
	case EventStatus:
		v = string(e.Stage)
	case EventSQLQuery, EventAnalysisChunk, EventError, EventAnalysisError:
		v = e.Text
	case EventResult:
		v = e.Result.Payload()
	case EventAnalysisStart, EventAnalysisComplete:
		v = true
	default:
		return nil, fmt.Errorf("无法序列化未知的事件类型: %v", e.Kind)
	}
	return json.Marshal(map[string]any{e.Kind.String(): v})
}
