package translator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
)

// Dispatcher 用 worker 池消费批次队列，合并结果并重新排队缺失的单元
type Dispatcher struct {
	client *Client
	sched  *scheduler.Scheduler
	docs   []*segment.Model

	// maxUnitRetries 单元因缺失被重新排队的最大次数
	maxUnitRetries int

	// onTranslated 单元合并后调用，用于写入缓存
	onTranslated func(doc *segment.Model, u *segment.Unit)

	// onDone 文档所有单元终结后调用一次
	onDone func(doc *segment.Model)

	reporter progress.Reporter
	logger   *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*scheduler.Batch
	active int
	closed bool
}

// DispatcherOption 调度选项
type DispatcherOption func(*Dispatcher)

// WithUnitRetries 设置缺失单元的重新排队次数
func WithUnitRetries(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxUnitRetries = n
	}
}

// OnTranslated 设置单元合并回调
func OnTranslated(fn func(doc *segment.Model, u *segment.Unit)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onTranslated = fn
	}
}

// OnDocumentDone 设置文档完成回调，可能在多个 worker 中并发调用
func OnDocumentDone(fn func(doc *segment.Model)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onDone = fn
	}
}

// WithDispatchReporter 设置进度报告
func WithDispatchReporter(r progress.Reporter) DispatcherOption {
	return func(d *Dispatcher) {
		d.reporter = r
	}
}

// NewDispatcher 创建调度器。docs 的下标必须与各 Model.Index 一致。
func NewDispatcher(client *Client, sched *scheduler.Scheduler, docs []*segment.Model, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		client:         client,
		sched:          sched,
		docs:           docs,
		maxUnitRetries: 2,
		reporter:       progress.Nop{},
		logger:         logger,
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run 处理所有批次，直到队列为空或 ctx 被取消。
// 取消后不再发出新请求，进行中的批次完成后，所有未终结的单元标记为失败。
func (d *Dispatcher) Run(ctx context.Context, batches []*scheduler.Batch) error {
	d.completeAll()
	d.push(batches...)

	stop := context.AfterFunc(ctx, d.close)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < d.client.Concurrency(); i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				b, ok := d.next()
				if !ok {
					return
				}
				d.logger.Debug("worker processing batch",
					zap.Int("workerID", workerID),
					zap.Int("batchID", b.ID),
					zap.Int("units", len(b.Items)))
				d.finish(d.process(ctx, b))
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for _, doc := range d.docs {
			if n := doc.FailRemaining(ErrCanceled); n > 0 {
				d.reporter.Report(progress.Event{Kind: progress.EventUnitsFailed, Doc: doc.Path, Units: n, Err: ErrCanceled})
			}
		}
		d.completeAll()
		d.logger.Warn("translation canceled, remaining units fall back to source")
		return ErrCanceled
	}

	d.completeAll()
	return nil
}

// process 处理一个批次，返回需要重新排队的批次
func (d *Dispatcher) process(ctx context.Context, b *scheduler.Batch) []*scheduler.Batch {
	defer d.completeDocs(b)

	outcome, err := d.client.Translate(ctx, b)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			err = ErrCanceled
		}
		failed := make(map[int]int)
		for _, ref := range b.Refs() {
			d.docs[ref.Doc].Fail(ref.Unit, err)
			failed[ref.Doc]++
		}
		d.reportUnits(progress.EventUnitsFailed, failed, err)
		d.reporter.Report(progress.Event{Kind: progress.EventBatchFinished, BatchID: b.ID, Units: len(b.Items), Attempt: b.Attempts, Status: b.Status.String(), Err: err})
		d.logger.Warn("batch failed, units fall back to source",
			zap.Int("batchID", b.ID),
			zap.Int("units", len(b.Items)),
			zap.Error(err))
		return nil
	}

	translated := make(map[int]int)
	for ref, text := range outcome.Translated {
		doc := d.docs[ref.Doc]
		if err := doc.Apply(ref.Unit, text); err != nil {
			d.logger.Error("failed to merge translation", zap.String("unit", ref.Key()), zap.Error(err))
			continue
		}
		translated[ref.Doc]++
		if d.onTranslated != nil {
			if u, ok := doc.Unit(ref.Unit); ok {
				d.onTranslated(doc, u)
			}
		}
	}
	d.reportUnits(progress.EventUnitsTranslated, translated, nil)

	var (
		retryItems []scheduler.Item
		failed     = make(map[int]int)
	)
	for _, it := range outcome.Missing {
		doc := d.docs[it.Ref.Doc]
		attempts := doc.Revert(it.Ref.Unit)
		if attempts > d.maxUnitRetries || ctx.Err() != nil {
			doc.Fail(it.Ref.Unit, ErrMissingResult)
			failed[it.Ref.Doc]++
			continue
		}
		doc.MarkInBatch(it.Ref.Unit)
		retryItems = append(retryItems, it)
	}
	d.reportUnits(progress.EventUnitsFailed, failed, ErrMissingResult)
	d.reporter.Report(progress.Event{Kind: progress.EventBatchFinished, BatchID: b.ID, Units: len(b.Items), Attempt: b.Attempts, Status: b.Status.String()})

	if len(retryItems) == 0 {
		return nil
	}
	requeue := d.sched.Rebatch(retryItems, true)
	d.logger.Debug("requeueing missing units",
		zap.Int("batchID", b.ID),
		zap.Int("units", len(retryItems)),
		zap.Int("batches", len(requeue)))
	return requeue
}

func (d *Dispatcher) reportUnits(kind progress.EventKind, counts map[int]int, err error) {
	for doc, n := range counts {
		if n > 0 {
			d.reporter.Report(progress.Event{Kind: kind, Doc: d.docs[doc].Path, Units: n, Err: err})
		}
	}
}

// completeDocs 检查批次涉及的文档是否已全部终结
func (d *Dispatcher) completeDocs(b *scheduler.Batch) {
	seen := make(map[int]bool)
	for _, ref := range b.Refs() {
		if seen[ref.Doc] {
			continue
		}
		seen[ref.Doc] = true
		d.complete(d.docs[ref.Doc])
	}
}

func (d *Dispatcher) completeAll() {
	for _, doc := range d.docs {
		d.complete(doc)
	}
}

func (d *Dispatcher) complete(doc *segment.Model) {
	if doc.CompleteOnce() && d.onDone != nil {
		d.onDone(doc)
	}
}

func (d *Dispatcher) push(batches ...*scheduler.Batch) {
	for _, b := range batches {
		b.Status = scheduler.BatchQueued
		d.reporter.Report(progress.Event{Kind: progress.EventBatchQueued, BatchID: b.ID, Units: len(b.Items)})
	}
	d.mu.Lock()
	d.queue = append(d.queue, batches...)
	d.mu.Unlock()
	d.cond.Broadcast()
}

// next 取出下一个批次。队列为空但仍有批次在处理时等待，它们可能重新排队。
func (d *Dispatcher) next() (*scheduler.Batch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) == 0 && d.active > 0 && !d.closed {
		d.cond.Wait()
	}
	if d.closed || len(d.queue) == 0 {
		return nil, false
	}
	b := d.queue[0]
	d.queue = d.queue[1:]
	d.active++
	return b, true
}

func (d *Dispatcher) finish(requeue []*scheduler.Batch) {
	for _, b := range requeue {
		b.Status = scheduler.BatchQueued
		d.reporter.Report(progress.Event{Kind: progress.EventBatchQueued, BatchID: b.ID, Units: len(b.Items)})
	}
	d.mu.Lock()
	d.queue = append(d.queue, requeue...)
	d.active--
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
}
