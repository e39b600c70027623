package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProviderStats 后端性能统计
type ProviderStats struct {
	ProviderName       string `json:"provider_name" yaml:"provider_name"`
	ModelName          string `json:"model_name" yaml:"model_name"`
	TotalRequests      int64  `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests int64  `json:"successful_requests" yaml:"successful_requests"`
	FailedRequests     int64  `json:"failed_requests" yaml:"failed_requests"`
	TotalTokensIn      int64  `json:"total_tokens_in" yaml:"total_tokens_in"`
	TotalTokensOut     int64  `json:"total_tokens_out" yaml:"total_tokens_out"`

	// 条目级结果
	ItemsRequested int64 `json:"items_requested" yaml:"items_requested"`
	ItemsReturned  int64 `json:"items_returned" yaml:"items_returned"`
	// ItemsUnchanged 译文与原文相同的条目
	ItemsUnchanged int64 `json:"items_unchanged" yaml:"items_unchanged"`
	// PartialResponses 缺少条目的成功响应
	PartialResponses int64 `json:"partial_responses" yaml:"partial_responses"`

	AverageLatency time.Duration `json:"average_latency" yaml:"average_latency"`
	MinLatency     time.Duration `json:"min_latency" yaml:"min_latency"`
	MaxLatency     time.Duration `json:"max_latency" yaml:"max_latency"`
	TotalLatency   time.Duration `json:"total_latency" yaml:"total_latency"`

	// ErrorTypes 按错误代码统计
	ErrorTypes map[string]int64 `json:"error_types" yaml:"error_types"`

	FirstRequestTime time.Time `json:"first_request_time" yaml:"first_request_time"`
	LastRequestTime  time.Time `json:"last_request_time" yaml:"last_request_time"`
}

// Metrics 派生指标，百分比为 0-100
type Metrics struct {
	SuccessRate    float64
	ErrorRate      float64
	CompletionRate float64
	UnchangedRate  float64
	AverageLatency time.Duration
}

// RequestResult 单次请求结果
type RequestResult struct {
	Success   bool
	Latency   time.Duration
	TokensIn  int
	TokensOut int
	ErrorType string

	ItemsRequested int
	ItemsReturned  int
	ItemsUnchanged int
}

// Manager 统计管理器，按 provider:model 汇总
type Manager struct {
	stats  map[string]*ProviderStats
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewManager 创建统计管理器，path 为空时不持久化
func NewManager(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		stats:  make(map[string]*ProviderStats),
		path:   path,
		logger: logger,
	}
}

func key(provider, model string) string {
	return fmt.Sprintf("%s:%s", provider, model)
}

// getOrCreate 调用方必须持有 mu
func (m *Manager) getOrCreate(provider, model string) *ProviderStats {
	k := key(provider, model)
	if s, ok := m.stats[k]; ok {
		return s
	}
	s := &ProviderStats{
		ProviderName: provider,
		ModelName:    model,
		ErrorTypes:   make(map[string]int64),
	}
	m.stats[k] = s
	return s
}

// RecordRequest 记录请求结果
func (m *Manager) RecordRequest(provider, model string, result RequestResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(provider, model)
	now := time.Now()
	if s.FirstRequestTime.IsZero() {
		s.FirstRequestTime = now
	}
	s.LastRequestTime = now

	s.TotalRequests++
	if result.Success {
		s.SuccessfulRequests++
		s.ItemsRequested += int64(result.ItemsRequested)
		s.ItemsReturned += int64(result.ItemsReturned)
		s.ItemsUnchanged += int64(result.ItemsUnchanged)
		if result.ItemsReturned < result.ItemsRequested {
			s.PartialResponses++
		}
	} else {
		s.FailedRequests++
		if result.ErrorType != "" {
			s.ErrorTypes[result.ErrorType]++
		}
	}

	s.TotalTokensIn += int64(result.TokensIn)
	s.TotalTokensOut += int64(result.TokensOut)

	s.TotalLatency += result.Latency
	if s.MinLatency == 0 || result.Latency < s.MinLatency {
		s.MinLatency = result.Latency
	}
	if result.Latency > s.MaxLatency {
		s.MaxLatency = result.Latency
	}
	s.AverageLatency = s.TotalLatency / time.Duration(s.TotalRequests)
}

func (s *ProviderStats) clone() *ProviderStats {
	c := *s
	c.ErrorTypes = make(map[string]int64, len(s.ErrorTypes))
	for k, v := range s.ErrorTypes {
		c.ErrorTypes[k] = v
	}
	return &c
}

// Get 返回指定后端的统计副本
func (m *Manager) Get(provider, model string) *ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stats[key(provider, model)]; ok {
		return s.clone()
	}
	return nil
}

// All 返回所有统计副本，按 provider:model 排序
func (m *Manager) All() []*ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.stats))
	for k := range m.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*ProviderStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.stats[k].clone())
	}
	return out
}

// Metrics 计算派生指标
func (s *ProviderStats) Metrics() Metrics {
	var mt Metrics
	if s.TotalRequests > 0 {
		mt.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
		mt.ErrorRate = float64(s.FailedRequests) / float64(s.TotalRequests) * 100
	}
	if s.ItemsRequested > 0 {
		mt.CompletionRate = float64(s.ItemsReturned) / float64(s.ItemsRequested) * 100
	}
	if s.ItemsReturned > 0 {
		mt.UnchangedRate = float64(s.ItemsUnchanged) / float64(s.ItemsReturned) * 100
	}
	mt.AverageLatency = s.AverageLatency
	return mt
}

// Save 保存统计数据，先写临时文件再重命名
func (m *Manager) Save() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	data := make(map[string]*ProviderStats)
	for _, s := range m.All() {
		data[key(s.ProviderName, s.ModelName)] = s
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats data: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to rename stats file: %w", err)
	}
	m.logger.Debug("provider stats saved", zap.String("path", m.path))
	return nil
}

// Load 加载历史统计，文件不存在时从零开始
func (m *Manager) Load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stats file: %w", err)
	}

	var loaded map[string]*ProviderStats
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to unmarshal stats data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range loaded {
		if s.ErrorTypes == nil {
			s.ErrorTypes = make(map[string]int64)
		}
		m.stats[k] = s
	}
	m.logger.Debug("provider stats loaded",
		zap.String("path", m.path),
		zap.Int("providers", len(loaded)))
	return nil
}
