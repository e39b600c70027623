package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 每个文档保留的错误条数
const maxErrorsPerDocument = 20

// DocumentProgress 单个文档的进度
type DocumentProgress struct {
	Path       string   `json:"path"`
	Units      int      `json:"units"`
	Translated int      `json:"translated"`
	Failed     int      `json:"failed"`
	State      string   `json:"state,omitempty"`
	Done       bool     `json:"done"`
	Errors     []string `json:"errors,omitempty"`
}

// BatchCounts 各状态的批次数量
type BatchCounts struct {
	Queued    int `json:"queued"`
	InFlight  int `json:"in_flight"`
	Retrying  int `json:"retrying"`
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
}

// Snapshot 进度快照
type Snapshot struct {
	RunID      string             `json:"run_id"`
	StartTime  time.Time          `json:"start_time"`
	Elapsed    time.Duration      `json:"elapsed"`
	Documents  []DocumentProgress `json:"documents"`
	Batches    BatchCounts        `json:"batches"`
	Units      int                `json:"units"`
	Translated int                `json:"translated"`
	Failed     int                `json:"failed"`
	Progress   float64            `json:"progress"`

	// EstimatedCompletion 按已完成单元的平均耗时估算
	EstimatedCompletion time.Time `json:"estimated_completion,omitempty"`
}

// Tracker 进度跟踪器，汇总所有事件
type Tracker struct {
	mu      sync.RWMutex
	runID   string
	start   time.Time
	docs    map[string]*DocumentProgress
	order   []string
	batches map[int]string
	counts  BatchCounts
	logger  *zap.Logger
	backend *FileBackend
}

// NewTracker 创建进度跟踪器
func NewTracker(runID string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:   runID,
		start:   time.Now(),
		docs:    make(map[string]*DocumentProgress),
		batches: make(map[int]string),
		logger:  logger,
	}
}

// WithBackend 设置快照存储，每个文档完成时保存一次
func (t *Tracker) WithBackend(backend *FileBackend) *Tracker {
	t.backend = backend
	return t
}

func (t *Tracker) doc(path string) *DocumentProgress {
	d, ok := t.docs[path]
	if !ok {
		d = &DocumentProgress{Path: path}
		t.docs[path] = d
		t.order = append(t.order, path)
	}
	return d
}

// Report 实现 Reporter
func (t *Tracker) Report(e Event) {
	t.mu.Lock()
	save := false

	switch e.Kind {
	case EventDocumentParsed:
		t.doc(e.Doc).Units = e.Units
	case EventDocumentSkipped:
		d := t.doc(e.Doc)
		d.Done = true
		d.State = e.Status
		if e.Err != nil {
			d.Errors = append(d.Errors, e.Err.Error())
		}
	case EventBatchQueued, EventBatchStarted, EventBatchRetry, EventBatchFinished:
		t.moveBatch(e)
	case EventUnitsTranslated:
		t.doc(e.Doc).Translated += e.Units
	case EventUnitsFailed:
		d := t.doc(e.Doc)
		d.Failed += e.Units
		if e.Err != nil && len(d.Errors) < maxErrorsPerDocument {
			d.Errors = append(d.Errors, e.Err.Error())
		}
	case EventDocumentDone:
		d := t.doc(e.Doc)
		d.Done = true
		d.State = e.Status
		save = t.backend != nil
	}
	t.mu.Unlock()

	if save {
		if err := t.Save(); err != nil {
			t.logger.Warn("failed to save progress", zap.Error(err))
		}
	}
}

// moveBatch 按批次的前后状态更新计数
func (t *Tracker) moveBatch(e Event) {
	prev := t.batches[e.BatchID]
	switch prev {
	case "queued":
		t.counts.Queued--
	case "in_flight":
		t.counts.InFlight--
	case "retry_wait":
		t.counts.Retrying--
	}

	next := ""
	switch e.Kind {
	case EventBatchQueued:
		next = "queued"
		t.counts.Queued++
	case EventBatchStarted:
		next = "in_flight"
		t.counts.InFlight++
	case EventBatchRetry:
		next = "retry_wait"
		t.counts.Retrying++
		t.counts.Retries++
	case EventBatchFinished:
		next = e.Status
		switch e.Status {
		case "succeeded":
			t.counts.Succeeded++
		case "partially_failed":
			t.counts.Partial++
		default:
			t.counts.Failed++
		}
	}
	t.batches[e.BatchID] = next
}

// Snapshot 返回当前进度快照
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		RunID:     t.runID,
		StartTime: t.start,
		Elapsed:   time.Since(t.start),
		Batches:   t.counts,
	}
	for _, path := range t.order {
		d := *t.docs[path]
		d.Errors = append([]string(nil), d.Errors...)
		s.Documents = append(s.Documents, d)
		s.Units += d.Units
		s.Translated += d.Translated
		s.Failed += d.Failed
	}

	done := s.Translated + s.Failed
	if s.Units > 0 {
		s.Progress = float64(done) / float64(s.Units) * 100
	}
	if s.Translated > 0 && done < s.Units {
		perUnit := s.Elapsed / time.Duration(done)
		s.EstimatedCompletion = time.Now().Add(perUnit * time.Duration(s.Units-done))
	}
	return s
}

// Save 通过存储后端保存快照
func (t *Tracker) Save() error {
	if t.backend == nil {
		return fmt.Errorf("no backend configured")
	}
	return t.backend.Save(t.Snapshot())
}

// FileBackend 将快照保存为 JSON 文件
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend 创建文件后端
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Save 原子地写入快照
func (fb *FileBackend) Save(s Snapshot) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fb.path), 0o755); err != nil {
		return err
	}

	tmp := fb.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fb.path)
}

// Load 读取快照
func (fb *FileBackend) Load() (*Snapshot, error) {
	data, err := os.ReadFile(fb.path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
