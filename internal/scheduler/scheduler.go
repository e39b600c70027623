package scheduler

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
)

// ErrInvalidLimits 批次限制不合法
var ErrInvalidLimits = errors.New("batch limits must be positive")

// Limits 单个批次的大小限制
type Limits struct {
	// MaxChars 批次内字符总数上限
	MaxChars int
	// MaxUnits 批次内单元数上限
	MaxUnits int
}

// Validate 检查限制
func (l Limits) Validate() error {
	if l.MaxChars <= 0 || l.MaxUnits <= 0 {
		return fmt.Errorf("%w: max_chars=%d max_units=%d", ErrInvalidLimits, l.MaxChars, l.MaxUnits)
	}
	return nil
}

// Shrink 将单元数上限减半，最小为 1
func (l Limits) Shrink() Limits {
	l.MaxUnits = max(1, l.MaxUnits/2)
	return l
}

// BatchStatus 批次状态
type BatchStatus int

const (
	BatchQueued          BatchStatus = iota // 排队中
	BatchInFlight                           // 请求中
	BatchRetryWait                          // 等待重试
	BatchSucceeded                          // 全部成功
	BatchPartiallyFailed                    // 部分缺失
	BatchFailed                             // 失败
)

func (s BatchStatus) String() string {
	switch s {
	case BatchQueued:
		return "queued"
	case BatchInFlight:
		return "in_flight"
	case BatchRetryWait:
		return "retry_wait"
	case BatchSucceeded:
		return "succeeded"
	case BatchPartiallyFailed:
		return "partially_failed"
	case BatchFailed:
		return "failed"
	default:
		return fmt.Sprintf("batch_status(%d)", int(s))
	}
}

// Item 批次中的一个单元
type Item struct {
	Ref  segment.Ref
	Text string
	Hint string
}

// Key 请求中使用的键
func (it Item) Key() string {
	return it.Ref.Key()
}

// Batch 一次翻译请求的单元集合
type Batch struct {
	ID       int
	Items    []Item
	Status   BatchStatus
	Attempts int

	// Oversized 单个单元超过字符上限，需要按句拆分
	Oversized bool

	Chars int
}

// Refs 批次中的单元引用
func (b *Batch) Refs() []segment.Ref {
	refs := make([]segment.Ref, len(b.Items))
	for i, it := range b.Items {
		refs[i] = it.Ref
	}
	return refs
}

// Scheduler 将待翻译单元打包为批次
type Scheduler struct {
	limits Limits
	nextID atomic.Int64
	logger *zap.Logger
}

// New 创建调度器
func New(limits Limits, logger *zap.Logger) (*Scheduler, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{limits: limits, logger: logger}, nil
}

// Limits 返回调度器的批次限制
func (s *Scheduler) Limits() Limits {
	return s.limits
}

// Plan 按文档顺序打包所有待翻译单元，并标记为已分入批次。
// docs 的下标必须与各 Model.Index 一致。
func (s *Scheduler) Plan(docs []*segment.Model) []*Batch {
	var items []Item
	for _, doc := range docs {
		pending := doc.Pending()
		ids := make([]int, 0, len(pending))
		for _, u := range pending {
			items = append(items, Item{Ref: doc.Ref(u.ID), Text: u.Core(), Hint: u.Hint})
			ids = append(ids, u.ID)
		}
		doc.MarkInBatch(ids...)
	}

	batches := s.pack(items, s.limits)
	s.logger.Debug("planned batches",
		zap.Int("documents", len(docs)),
		zap.Int("units", len(items)),
		zap.Int("batches", len(batches)))
	return batches
}

// Rebatch 为缺失的单元重新打包，shrink 为 true 时单元数上限减半
func (s *Scheduler) Rebatch(items []Item, shrink bool) []*Batch {
	limits := s.limits
	if shrink {
		limits = limits.Shrink()
	}
	return s.pack(items, limits)
}

// pack 贪心打包：超出字符上限的单元单独成批
func (s *Scheduler) pack(items []Item, limits Limits) []*Batch {
	var (
		batches []*Batch
		current *Batch
	)
	flush := func() {
		if current != nil && len(current.Items) > 0 {
			batches = append(batches, current)
		}
		current = nil
	}

	for _, it := range items {
		chars := charCount(it.Text)

		if chars > limits.MaxChars {
			flush()
			batches = append(batches, &Batch{
				ID:        s.newID(),
				Items:     []Item{it},
				Oversized: true,
				Chars:     chars,
			})
			continue
		}

		if current != nil && (current.Chars+chars > limits.MaxChars || len(current.Items)+1 > limits.MaxUnits) {
			flush()
		}
		if current == nil {
			current = &Batch{ID: s.newID()}
		}
		current.Items = append(current.Items, it)
		current.Chars += chars
	}
	flush()

	return batches
}

func (s *Scheduler) newID() int {
	return int(s.nextID.Add(1))
}
