package stats

import (
	"context"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Middleware 为后端记录请求统计，本身也是 providers.Backend
type Middleware struct {
	next    providers.Backend
	manager *Manager
	model   string
}

// Wrap 包装后端
func Wrap(next providers.Backend, manager *Manager, model string) *Middleware {
	return &Middleware{next: next, manager: manager, model: model}
}

// Name 返回被包装后端的名称
func (m *Middleware) Name() string {
	return m.next.Name()
}

// Translate 转发请求并记录结果
func (m *Middleware) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	start := time.Now()
	resp, err := m.next.Translate(ctx, req)

	result := RequestResult{
		Success:        err == nil,
		Latency:        time.Since(start),
		ItemsRequested: len(req.Items),
	}
	if err != nil {
		result.ErrorType = providers.Classify(err).Code
	} else if resp != nil {
		result.TokensIn = resp.TokensIn
		result.TokensOut = resp.TokensOut
		result.ItemsReturned, result.ItemsUnchanged = analyze(req, resp)
	}
	m.manager.RecordRequest(m.next.Name(), m.model, result)

	return resp, err
}

// analyze 统计返回的条目数以及译文与原文相同的条目数
func analyze(req *providers.Request, resp *providers.Response) (returned, unchanged int) {
	index := resp.Index()
	for _, it := range req.Items {
		text, ok := index[it.Key]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		returned++
		if strings.TrimSpace(text) == strings.TrimSpace(it.Text) {
			unchanged++
		}
	}
	return returned, unchanged
}
