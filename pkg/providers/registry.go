package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"
)

// ErrUnknownBackend 未注册的后端
var ErrUnknownBackend = errors.New("unknown backend")

// Factory 后端构造函数
type Factory func(cfg Config, logger *zap.Logger) (Backend, error)

// Registry 后端注册表
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register 注册后端
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("backend %s already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// Create 按名称创建后端，名称未注册时给出相近的候选
func (r *Registry) Create(name string, cfg Config, logger *zap.Logger) (Backend, error) {
	r.mu.RLock()
	factory, exists := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()

	if !exists {
		if suggestions := r.Suggest(name); len(suggestions) > 0 {
			return nil, fmt.Errorf("%w %q, did you mean %s?", ErrUnknownBackend, name, strings.Join(suggestions, " or "))
		}
		return nil, fmt.Errorf("%w %q, available: %s", ErrUnknownBackend, name, strings.Join(r.List(), ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return factory(cfg, logger)
}

// Suggest 返回与名称相近的已注册后端
func (r *Registry) Suggest(name string) []string {
	ranks := fuzzy.RankFindNormalizedFold(name, r.List())
	sort.Sort(ranks)

	var out []string
	for _, rank := range ranks {
		out = append(out, rank.Target)
	}
	if len(out) == 0 {
		for _, candidate := range r.List() {
			if fuzzy.LevenshteinDistance(strings.ToLower(name), candidate) <= 2 {
				out = append(out, candidate)
			}
		}
	}
	return out
}

// List 列出所有后端，按名称排序
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
