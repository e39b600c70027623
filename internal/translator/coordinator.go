package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nerdneilsfield/go-epub-translator/internal/cache"
	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
	"github.com/nerdneilsfield/go-epub-translator/internal/reinsert"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
)

// Options 协调器选项
type Options struct {
	SourceLang string
	TargetLang string
	Provider   string

	// RunID 为空时自动生成
	RunID string

	// ParseConcurrency 并行解析/重组的文档数
	ParseConcurrency int

	// MaxUnitRetries 缺失单元的最大重新排队次数
	MaxUnitRetries int

	// Cache 翻译记忆，可以为 nil
	Cache cache.Store

	Reporter progress.Reporter
}

// TranslationCoordinator 串联解析、调度、翻译和重组
type TranslationCoordinator struct {
	walker *walker.Walker
	sched  *scheduler.Scheduler
	client *Client
	engine *reinsert.Engine
	opts   Options
	logger *zap.Logger
}

// NewTranslationCoordinator 创建翻译协调器
func NewTranslationCoordinator(w *walker.Walker, sched *scheduler.Scheduler, client *Client, engine *reinsert.Engine, opts Options, logger *zap.Logger) (*TranslationCoordinator, error) {
	if w == nil || sched == nil || client == nil || engine == nil {
		return nil, fmt.Errorf("walker, scheduler, client and engine are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ParseConcurrency <= 0 {
		opts.ParseConcurrency = 1
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Nop{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &TranslationCoordinator{
		walker: w,
		sched:  sched,
		client: client,
		engine: engine,
		opts:   opts,
		logger: logger,
	}, nil
}

// RunID 本次运行的编号
func (c *TranslationCoordinator) RunID() string {
	return c.opts.RunID
}

// Translate 翻译一组文档。
// 输出与输入一一对应，任何失败都只影响对应的单元或文档；
// 取消时返回 ErrCanceled，输出和报告仍然有效。
func (c *TranslationCoordinator) Translate(ctx context.Context, inputs []DocumentInput) (*RunReport, []DocumentOutput, error) {
	start := time.Now()
	report := &RunReport{
		RunID:      c.opts.RunID,
		SourceLang: c.opts.SourceLang,
		TargetLang: c.opts.TargetLang,
		Provider:   c.opts.Provider,
		StartTime:  start,
		Documents:  make([]DocumentReport, len(inputs)),
	}
	outputs := make([]DocumentOutput, len(inputs))

	// 1. 并行解析
	models := c.parseAll(inputs, outputs, report)

	// 只有解析成功的文档参与调度，Index 对应 docs 下标
	var (
		docs   []*segment.Model
		origin []int
	)
	for i, m := range models {
		if m == nil {
			continue
		}
		m.Index = len(docs)
		docs = append(docs, m)
		origin = append(origin, i)
	}

	// 2. 空白单元和缓存命中的单元直接完成
	report.CacheHits = c.prefill(docs)

	// 3. 打包批次
	batches := c.sched.Plan(docs)
	report.Batches = len(batches)
	c.logger.Info("translation planned",
		zap.String("runID", c.opts.RunID),
		zap.Int("documents", len(inputs)),
		zap.Int("parsed", len(docs)),
		zap.Int("batches", len(batches)),
		zap.Int("cacheHits", report.CacheHits))

	// 4. 文档完成后立即重组
	done := make(chan *segment.Model, len(docs))
	var rg errgroup.Group
	for i := 0; i < c.opts.ParseConcurrency; i++ {
		rg.Go(func() error {
			for m := range done {
				idx := origin[m.Index]
				outputs[idx], report.Documents[idx] = c.reinsert(m)
				c.saveCache()
			}
			return nil
		})
	}

	dispatcher := NewDispatcher(c.client, c.sched, docs, c.logger,
		WithUnitRetries(c.opts.MaxUnitRetries),
		WithDispatchReporter(c.opts.Reporter),
		OnTranslated(c.remember),
		OnDocumentDone(func(m *segment.Model) { done <- m }),
	)
	runErr := dispatcher.Run(ctx, batches)
	close(done)
	_ = rg.Wait()

	c.saveCache()

	for _, d := range report.Documents {
		report.Units += d.Units
		report.UnitsTranslated += d.Translated + d.AttributesTranslated
		report.UnitsFailed += d.Fallback + d.AttributesFallback
	}
	report.Client = c.client.Stats()
	report.Duration = time.Since(start)
	report.Canceled = errors.Is(runErr, ErrCanceled)

	c.logger.Info("translation finished",
		zap.String("runID", c.opts.RunID),
		zap.Int("translated", report.Count(DocTranslated)),
		zap.Int("partial", report.Count(DocPartial)),
		zap.Int("fallback", report.Count(DocFallback)),
		zap.Int("untouched", report.Count(DocUntouched)),
		zap.Int("integrityFailed", report.Count(DocIntegrityFailed)),
		zap.Duration("duration", report.Duration))

	return report, outputs, runErr
}

// parseAll 并行解析，解析失败的文档原样输出
func (c *TranslationCoordinator) parseAll(inputs []DocumentInput, outputs []DocumentOutput, report *RunReport) []*segment.Model {
	models := make([]*segment.Model, len(inputs))

	var g errgroup.Group
	g.SetLimit(c.opts.ParseConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			m, err := c.walker.Parse(in.Path, in.Content)
			if err != nil {
				outputs[i] = DocumentOutput{Path: in.Path, Content: in.Content, State: DocUntouched, Err: err}
				report.Documents[i] = DocumentReport{Path: in.Path, State: DocUntouched, Error: err.Error()}
				c.opts.Reporter.Report(progress.Event{Kind: progress.EventDocumentSkipped, Doc: in.Path, Status: string(DocUntouched), Err: err})
				c.logger.Warn("document skipped, passing through untouched",
					zap.String("path", in.Path),
					zap.Error(err))
				return nil
			}
			models[i] = m
			c.opts.Reporter.Report(progress.Event{Kind: progress.EventDocumentParsed, Doc: in.Path, Units: countTranslatable(m)})
			return nil
		})
	}
	_ = g.Wait()
	return models
}

// countTranslatable 非空白单元数，空白单元不参与进度统计
func countTranslatable(m *segment.Model) int {
	n := 0
	for _, u := range m.Units() {
		if !u.Blank() {
			n++
		}
	}
	return n
}

// prefill 空白单元保留原样，缓存命中的单元直接填入译文，返回缓存命中数
func (c *TranslationCoordinator) prefill(docs []*segment.Model) int {
	hits := 0
	for _, m := range docs {
		n := 0
		for _, u := range m.Units() {
			if u.Blank() {
				_ = m.Apply(u.ID, u.Text)
				continue
			}
			if c.opts.Cache == nil {
				continue
			}
			if text, ok := c.opts.Cache.Get(c.opts.TargetLang, u.Core()); ok {
				_ = m.Apply(u.ID, text)
				n++
				hits++
			}
		}
		if n > 0 {
			c.opts.Reporter.Report(progress.Event{Kind: progress.EventUnitsTranslated, Doc: m.Path, Units: n})
		}
	}
	return hits
}

// remember 译文写入缓存
func (c *TranslationCoordinator) remember(_ *segment.Model, u *segment.Unit) {
	if c.opts.Cache == nil {
		return
	}
	c.opts.Cache.Put(c.opts.TargetLang, u.Core(), strings.TrimSpace(u.Translation))
}

func (c *TranslationCoordinator) saveCache() {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.Save(); err != nil {
		c.logger.Warn("failed to save translation cache", zap.Error(err))
	}
}

// reinsert 重组文档，校验失败时输出源文件
func (c *TranslationCoordinator) reinsert(m *segment.Model) (DocumentOutput, DocumentReport) {
	res, err := c.engine.Reinsert(m)
	dr := documentReport(m.Path, res.Report)
	out := DocumentOutput{Path: m.Path, Content: res.Output, State: dr.State, Err: err}

	c.opts.Reporter.Report(progress.Event{Kind: progress.EventDocumentDone, Doc: m.Path, Units: dr.Units, Status: string(dr.State), Err: err})
	c.logger.Debug("document done",
		zap.String("path", m.Path),
		zap.String("state", string(dr.State)),
		zap.Int("translated", dr.Translated),
		zap.Int("fallback", dr.Fallback))
	return out, dr
}
