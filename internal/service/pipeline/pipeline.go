// Package pipeline 编排问答流程：获取结构 → 生成查询 → 执行 → 分析结果。
// 流式形式把每个阶段转换为一条 domain.StreamEvent。
// file: internal/service/pipeline/pipeline.go
package pipeline

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"QueryMind/internal/qmobserve"
	"QueryMind/internal/service/analysis"
	"QueryMind/internal/service/history"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// FallbackMessage 是分析在等待期限内没有产出任何片段时发给用户的文本
const FallbackMessage = "Sorry, unable to analyze the results right now. Please try again later."

const (
	defaultItemTimeout      = time.Second
	defaultFirstChunkBudget = 60 * time.Second
	eventBuffer             = 16
)

// Synthesizer 生成查询
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, schema domain.SchemaDescription, dialect domain.Dialect) (string, error)
}

// Analyzer 分析查询结果
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (string, error)
	Stream(ctx context.Context, req analysis.Request) <-chan analysis.Fragment
}

// Recorder 接收每次执行的记录
type Recorder interface {
	Record(e history.Entry)
}

// Config 对应配置文件中的 stream 段
type Config struct {
	ItemTimeout      time.Duration `mapstructure:"item_timeout"`
	FirstChunkBudget time.Duration `mapstructure:"first_chunk_budget"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// Pipeline 是问答编排器。依赖在构造时注入，自身无可变状态。
type Pipeline struct {
	databases   port.DatabaseProvider
	synthesizer Synthesizer
	analyzer    Analyzer
	recorder    Recorder
	cfg         Config
}

// New 创建编排器，recorder 可以为 nil。
func New(databases port.DatabaseProvider, synthesizer Synthesizer, analyzer Analyzer, recorder Recorder, cfg Config) *Pipeline {
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.FirstChunkBudget <= 0 {
		cfg.FirstChunkBudget = defaultFirstChunkBudget
	}
	return &Pipeline{
		databases:   databases,
		synthesizer: synthesizer,
		analyzer:    analyzer,
		recorder:    recorder,
		cfg:         cfg,
	}
}

// prepared 是分析之前各阶段的产物
type prepared struct {
	dialect domain.Dialect
	query   string
	result  *domain.QueryResult
}

// run 记录一次执行
type run struct {
	entry  history.Entry
	logger *slog.Logger
}

func (p *Pipeline) begin(question, mode string) *run {
	id := uuid.NewString()
	return &run{
		entry: history.Entry{
			ID:        id,
			Question:  question,
			Mode:      mode,
			StartedAt: time.Now(),
		},
		logger: slog.With("request_id", id, "mode", mode),
	}
}

func (p *Pipeline) finish(r *run, outcome history.Outcome, err error) {
	r.entry.Outcome = outcome
	r.entry.Duration = time.Since(r.entry.StartedAt)
	if err != nil {
		r.entry.Error = err.Error()
	}
	qmobserve.ObservePipeline(r.entry.Mode, string(outcome))
	r.logger.Info("问答流程结束", "outcome", outcome, "duration", r.entry.Duration, "rows", r.entry.RowCount)
	if p.recorder != nil {
		p.recorder.Record(r.entry)
	}
}

// fetchSchema 租用请求开始时刻的适配器并取得结构描述。
// 成功时调用方负责 Close 归还适配器。
func (p *Pipeline) fetchSchema(ctx context.Context) (port.Database, domain.SchemaDescription, error) {
	db, err := p.databases.Current()
	if err != nil {
		return nil, nil, err
	}
	schema, err := db.GetSchema(ctx)
	if err == nil && schema.IsEmpty() {
		err = fmt.Errorf("%w: 数据库中没有任何表或集合", port.ErrSchemaUnavailable)
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, schema, nil
}

// Run 是阻塞形式：依次执行全部阶段并返回完整答案。
// 分析失败不丢弃已得到的查询与结果，analysis 字段填入 FallbackMessage。
func (p *Pipeline) Run(ctx context.Context, question string) (*domain.Answer, error) {
	r := p.begin(question, "blocking")

	db, schema, err := p.fetchSchema(ctx)
	if err != nil {
		p.finish(r, history.OutcomeError, err)
		return nil, err
	}
	prep, err := p.synthesizeAndExecute(ctx, r, db, question, schema)
	_ = db.Close()
	if err != nil {
		p.finish(r, history.OutcomeError, err)
		return nil, err
	}

	answer := &domain.Answer{Question: question, SQLQuery: prep.query, Result: prep.result}
	text, err := p.analyzer.Analyze(ctx, analysis.Request{
		Question: question,
		Query:    prep.query,
		Result:   prep.result,
		Dialect:  prep.dialect,
	})
	if err != nil {
		r.logger.Error("结果分析失败", "error", err)
		answer.Analysis = FallbackMessage
		p.finish(r, history.OutcomeAnalysisError, err)
		return answer, nil
	}
	answer.Analysis = text
	p.finish(r, history.OutcomeOK, nil)
	return answer, nil
}

func (p *Pipeline) synthesizeAndExecute(ctx context.Context, r *run, db port.Database, question string, schema domain.SchemaDescription) (*prepared, error) {
	dialect := db.Dialect()
	r.entry.Dialect = string(dialect)

	query, err := p.synthesizer.Synthesize(ctx, question, schema, dialect)
	if err != nil {
		return nil, err
	}
	r.entry.Query = query

	result, err := db.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	r.entry.RowCount = result.RowCount()
	return &prepared{dialect: dialect, query: query, result: result}, nil
}

// Stream 是流式形式。返回的 channel 按顺序输出事件，最后一个事件之后关闭。
// ctx 取消（例如客户端断开）时编排与分析生产者都会停止。
func (p *Pipeline) Stream(ctx context.Context, question string) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, eventBuffer)
	go func() {
		defer close(out)
		p.stream(ctx, question, out)
	}()
	return out
}

func (p *Pipeline) stream(ctx context.Context, question string, out chan<- domain.StreamEvent) {
	r := p.begin(question, "stream")

	emit := func(ev domain.StreamEvent) bool {
		select {
		case out <- ev:
			qmobserve.ObserveEvent(ev.Kind.String())
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		r.logger.Warn("问答流程出错", "error", err)
		emit(domain.ErrorEvent(err.Error()))
		p.finish(r, history.OutcomeError, err)
	}
	cancelled := func() {
		p.finish(r, history.OutcomeCancelled, ctx.Err())
	}

	// SchemaFetch
	db, schema, err := p.fetchSchema(ctx)
	if err != nil {
		fail(err)
		return
	}
	// 执行完成后提前归还；重复 Close 无副作用
	defer db.Close()

	// Generating
	if !emit(domain.StatusEvent(domain.StageGeneratingSQL)) {
		cancelled()
		return
	}
	dialect := db.Dialect()
	r.entry.Dialect = string(dialect)
	query, err := p.synthesizer.Synthesize(ctx, question, schema, dialect)
	if err != nil {
		fail(err)
		return
	}
	r.entry.Query = query

	// Executing
	if !emit(domain.SQLQueryEvent(query)) || !emit(domain.StatusEvent(domain.StageExecutingSQL)) {
		cancelled()
		return
	}
	result, err := db.Execute(ctx, query)
	_ = db.Close()
	if err != nil {
		fail(err)
		return
	}
	r.entry.RowCount = result.RowCount()

	// Analyzing
	if !emit(domain.ResultEvent(result)) || !emit(domain.StatusEvent(domain.StageAnalyzingResult)) {
		cancelled()
		return
	}
	outcome, aerr := p.relayAnalysis(ctx, r, analysis.Request{
		Question: question,
		Query:    query,
		Result:   result,
		Dialect:  dialect,
	}, emit)
	p.finish(r, outcome, aerr)
}

// relayAnalysis 把分析片段转发为事件，是生产者与客户端之间的桥。
func (p *Pipeline) relayAnalysis(ctx context.Context, r *run, req analysis.Request, emit func(domain.StreamEvent) bool) (history.Outcome, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments := p.analyzer.Stream(actx, req)
	started := time.Now()

	liveness := time.NewTicker(p.cfg.ItemTimeout)
	defer liveness.Stop()
	budget := time.NewTimer(p.cfg.FirstChunkBudget)
	defer budget.Stop()
	budgetC := budget.C

	chunks := 0
	startSent := false
	sendStart := func() bool {
		if startSent {
			return true
		}
		startSent = true
		return emit(domain.AnalysisStartEvent())
	}

	for {
		select {
		case f, ok := <-fragments:
			if !ok {
				// 生产者只会在 ctx 取消时不发 Done 就关闭
				return history.OutcomeCancelled, ctx.Err()
			}
			switch f.Kind {
			case analysis.FragmentStart:
				if !sendStart() {
					return history.OutcomeCancelled, ctx.Err()
				}
			case analysis.FragmentText:
				if f.Failed {
					if !sendStart() || !emit(domain.AnalysisErrorEvent(f.Text)) {
						return history.OutcomeCancelled, ctx.Err()
					}
					return history.OutcomeAnalysisError, errors.New(f.Text)
				}
				if chunks == 0 {
					qmobserve.ObserveFirstChunk(time.Since(started))
					budgetC = nil
				}
				chunks++
				if !emit(domain.AnalysisChunkEvent(f.Text)) {
					return history.OutcomeCancelled, ctx.Err()
				}
			case analysis.FragmentDone:
				if !sendStart() {
					return history.OutcomeCancelled, ctx.Err()
				}
				if chunks == 0 {
					r.logger.Warn("分析结束但没有任何输出")
					emit(domain.AnalysisErrorEvent(FallbackMessage))
					return history.OutcomeAnalysisError, errors.New("分析没有产出任何内容")
				}
				emit(domain.AnalysisCompleteEvent())
				return history.OutcomeOK, nil
			}

		case <-liveness.C:
			r.logger.Debug("等待分析片段", "chunks", chunks, "elapsed", time.Since(started).Round(time.Millisecond))

		case <-budgetC:
			r.logger.Warn("等待首个分析片段超时", "budget", p.cfg.FirstChunkBudget)
			cancel()
			if sendStart() {
				emit(domain.AnalysisErrorEvent(FallbackMessage))
			}
			return history.OutcomeAnalysisError, fmt.Errorf("%w: 等待首个片段超过 %v", port.ErrAnalysis, p.cfg.FirstChunkBudget)

		case <-ctx.Done():
			return history.OutcomeCancelled, ctx.Err()
		}
	}
}
