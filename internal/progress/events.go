package progress

import (
	"sync"
	"time"
)

// EventKind 进度事件类型
type EventKind int

const (
	EventDocumentParsed  EventKind = iota // 文档解析完成
	EventDocumentSkipped                  // 文档解析失败，原样保留
	EventBatchQueued                      // 批次进入队列
	EventBatchStarted                     // 批次开始请求
	EventBatchRetry                       // 批次等待重试
	EventBatchFinished                    // 批次结束
	EventUnitsTranslated                  // 单元翻译完成
	EventUnitsFailed                      // 单元翻译失败
	EventDocumentDone                     // 文档重组完成
)

func (k EventKind) String() string {
	switch k {
	case EventDocumentParsed:
		return "document_parsed"
	case EventDocumentSkipped:
		return "document_skipped"
	case EventBatchQueued:
		return "batch_queued"
	case EventBatchStarted:
		return "batch_started"
	case EventBatchRetry:
		return "batch_retry"
	case EventBatchFinished:
		return "batch_finished"
	case EventUnitsTranslated:
		return "units_translated"
	case EventUnitsFailed:
		return "units_failed"
	case EventDocumentDone:
		return "document_done"
	default:
		return "unknown"
	}
}

// Event 进度事件
type Event struct {
	Kind EventKind
	Time time.Time

	// Doc 文档路径，批次事件为空
	Doc string

	BatchID int
	Units   int
	Attempt int

	// Status 批次或文档的最终状态
	Status string

	Err error
}

// Reporter 接收进度事件，实现必须是并发安全的
type Reporter interface {
	Report(Event)
}

// ReporterFunc 函数形式的 Reporter
type ReporterFunc func(Event)

// Report 实现 Reporter
func (f ReporterFunc) Report(e Event) {
	f(e)
}

// Nop 丢弃所有事件
type Nop struct{}

// Report 实现 Reporter
func (Nop) Report(Event) {}

// Multi 将事件转发给多个 Reporter
type Multi []Reporter

// Report 实现 Reporter
func (m Multi) Report(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// Recorder 记录所有事件，用于测试和调试
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report 实现 Reporter
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events 返回已记录的事件副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count 统计某类事件的数量
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
