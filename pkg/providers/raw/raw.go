// Package raw 提供原样返回的后端，用于检查解析和重组是否无损。
package raw

import (
	"context"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Name 后端名称
const Name = "raw"

// Backend 不做翻译，每个条目返回原文
type Backend struct{}

var _ providers.Backend = (*Backend)(nil)

// New 创建 raw 后端，配置被忽略
func New(_ providers.Config, _ *zap.Logger) (*Backend, error) {
	return &Backend{}, nil
}

// Name 后端名称
func (b *Backend) Name() string {
	return Name
}

// Translate 直接返回原文
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, providers.Classify(err)
	}
	results := make([]providers.Result, len(req.Items))
	for i, it := range req.Items {
		results[i] = providers.Result{Key: it.Key, Text: it.Text}
	}
	return &providers.Response{Results: results, Model: Name}, nil
}
