package reinsert

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
)

// 统计未翻译块时关注的块级元素
var blockTags = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "dt": true, "dd": true,
	"caption": true, "figcaption": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// IntegrityError 重组后的文档结构与源文件不一致
type IntegrityError struct {
	Path string

	// Want/Got 源文件与输出的标签事件数
	Want int
	Got  int

	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: integrity check failed: %s", e.Path, e.Detail)
}

// BlockRef 所有文本都未翻译的块
type BlockRef struct {
	// Index 块起始标签在 Nodes 中的下标
	Index int    `json:"index" yaml:"index"`
	Tag   string `json:"tag" yaml:"tag"`
	Units int    `json:"units" yaml:"units"`
}

// IntegrityReport 单个文档的重组报告
type IntegrityReport struct {
	Units                int        `json:"units" yaml:"units"`
	Translated           int        `json:"translated" yaml:"translated"`
	Fallback             int        `json:"fallback" yaml:"fallback"`
	AttributesTranslated int        `json:"attributes_translated" yaml:"attributes_translated"`
	AttributesFallback   int        `json:"attributes_fallback" yaml:"attributes_fallback"`
	Blank                int        `json:"blank" yaml:"blank"`
	UnchangedBlocks      []BlockRef `json:"unchanged_blocks,omitempty" yaml:"unchanged_blocks,omitempty"`
	Passed               bool       `json:"passed" yaml:"passed"`
	Detail               string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Result 重组结果
type Result struct {
	Path   string
	Output []byte
	Report *IntegrityReport
}

// Engine 将译文写回文档并校验结构
type Engine struct {
	walker    *walker.Walker
	serialize func(*segment.Model) []byte
	census    bool
	logger    *zap.Logger
}

// Option 引擎选项
type Option func(*Engine)

// WithCensus 是否额外用 DOM 元素计数校验
func WithCensus(enabled bool) Option {
	return func(e *Engine) {
		e.census = enabled
	}
}

// New 创建重组引擎
func New(w *walker.Walker, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		walker:    w,
		serialize: w.Serialize,
		census:    true,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reinsert 序列化文档并校验结构。
// 校验失败时返回 *IntegrityError，此时 Result.Output 为源文件原文。
func (e *Engine) Reinsert(m *segment.Model) (*Result, error) {
	out := e.serialize(m)
	report := Report(m)
	res := &Result{Path: m.Path, Output: out, Report: report}

	if ierr := e.check(m, out); ierr != nil {
		report.Passed = false
		report.Detail = ierr.Detail
		res.Output = m.Source
		e.logger.Warn("integrity check failed, keeping source",
			zap.String("path", m.Path),
			zap.String("detail", ierr.Detail))
		return res, ierr
	}

	report.Passed = true
	e.logger.Debug("document reinserted",
		zap.String("path", m.Path),
		zap.Int("translated", report.Translated),
		zap.Int("fallback", report.Fallback),
		zap.Int("unchangedBlocks", len(report.UnchangedBlocks)))
	return res, nil
}

func (e *Engine) check(m *segment.Model, out []byte) *IntegrityError {
	got, err := walker.Signature(out)
	if err != nil {
		return &IntegrityError{Path: m.Path, Want: len(m.Structure), Detail: err.Error()}
	}
	if ok, detail := walker.CompareSignature(m.Structure, got); !ok {
		return &IntegrityError{Path: m.Path, Want: len(m.Structure), Got: len(got), Detail: detail}
	}

	if !e.census {
		return nil
	}
	want, err := census(m.Source)
	if err != nil {
		// 源文件无法建立 DOM 时只依赖标签签名
		return nil
	}
	have, err := census(out)
	if err != nil {
		return &IntegrityError{Path: m.Path, Want: len(m.Structure), Got: len(got), Detail: err.Error()}
	}
	if detail := diffCensus(want, have); detail != "" {
		return &IntegrityError{Path: m.Path, Want: len(m.Structure), Got: len(got), Detail: detail}
	}
	return nil
}

// census 统计 DOM 中各元素的数量
func census(src []byte) (map[string]int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		counts[goquery.NodeName(s)]++
	})
	return counts, nil
}

func diffCensus(want, have map[string]int) string {
	var diffs []string
	for tag, n := range want {
		if have[tag] != n {
			diffs = append(diffs, fmt.Sprintf("<%s> %d->%d", tag, n, have[tag]))
		}
	}
	for tag, n := range have {
		if _, ok := want[tag]; !ok {
			diffs = append(diffs, fmt.Sprintf("<%s> 0->%d", tag, n))
		}
	}
	if len(diffs) == 0 {
		return ""
	}
	sort.Strings(diffs)
	return "element count changed: " + strings.Join(diffs, ", ")
}

// Report 统计文档的翻译情况
func Report(m *segment.Model) *IntegrityReport {
	r := &IntegrityReport{}
	m.View(func() {
		for _, u := range m.Units() {
			// 空白单元原样输出，不计入译文或回退
			if u.Blank() {
				r.Blank++
				continue
			}
			r.Units++
			translated := u.Status == segment.StatusTranslated
			switch {
			case u.IsAttribute() && translated:
				r.AttributesTranslated++
			case u.IsAttribute():
				r.AttributesFallback++
			case translated:
				r.Translated++
			default:
				r.Fallback++
			}
		}

		for i, n := range m.Nodes {
			a := n.Anchor
			if a == nil || a.Kind != segment.AnchorStartTag || !blockTags[a.Tag] || a.Match <= i {
				continue
			}
			units, translated := 0, 0
			for _, inner := range m.Nodes[i+1 : a.Match] {
				if inner.Unit == nil || inner.Unit.Blank() {
					continue
				}
				units++
				if inner.Unit.Status == segment.StatusTranslated {
					translated++
				}
			}
			if units > 0 && translated == 0 {
				r.UnchangedBlocks = append(r.UnchangedBlocks, BlockRef{Index: i, Tag: a.Tag, Units: units})
			}
		}
	})
	return r
}
