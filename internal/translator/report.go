package translator

import (
	"time"

	"github.com/nerdneilsfield/go-epub-translator/internal/reinsert"
)

// DocState 文档的最终状态
type DocState string

const (
	DocTranslated      DocState = "translated"       // 所有单元都已翻译
	DocPartial         DocState = "partial"          // 部分单元回退为原文
	DocFallback        DocState = "fallback"         // 所有单元都回退为原文
	DocUntouched       DocState = "untouched"        // 解析失败，原样保留
	DocIntegrityFailed DocState = "integrity_failed" // 重组校验失败，原样保留
)

// DocumentInput 待翻译文档
type DocumentInput struct {
	Path    string
	Content []byte
}

// DocumentOutput 翻译后的文档，Content 总是可用的标记
type DocumentOutput struct {
	Path    string
	Content []byte
	State   DocState
	Err     error
}

// DocumentReport 单个文档的统计
type DocumentReport struct {
	Path                 string   `json:"path" yaml:"path"`
	State                DocState `json:"state" yaml:"state"`
	Units                int      `json:"units" yaml:"units"`
	Translated           int      `json:"translated" yaml:"translated"`
	Fallback             int      `json:"fallback" yaml:"fallback"`
	AttributesTranslated int      `json:"attributes_translated" yaml:"attributes_translated"`
	AttributesFallback   int      `json:"attributes_fallback" yaml:"attributes_fallback"`
	Blank                int      `json:"blank" yaml:"blank"`
	UnchangedBlocks      int      `json:"unchanged_blocks" yaml:"unchanged_blocks"`
	Error                string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunReport 一次运行的汇总
type RunReport struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	SourceLang string        `json:"source_lang" yaml:"source_lang"`
	TargetLang string        `json:"target_lang" yaml:"target_lang"`
	Provider   string        `json:"provider" yaml:"provider"`
	StartTime  time.Time     `json:"start_time" yaml:"start_time"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Canceled   bool          `json:"canceled" yaml:"canceled"`

	Documents []DocumentReport `json:"documents" yaml:"documents"`

	Units           int         `json:"units" yaml:"units"`
	UnitsTranslated int         `json:"units_translated" yaml:"units_translated"`
	UnitsFailed     int         `json:"units_failed" yaml:"units_failed"`
	CacheHits       int         `json:"cache_hits" yaml:"cache_hits"`
	Batches         int         `json:"batches" yaml:"batches"`
	Client          ClientStats `json:"client" yaml:"client"`
}

// Count 统计某个状态的文档数
func (r *RunReport) Count(state DocState) int {
	n := 0
	for _, d := range r.Documents {
		if d.State == state {
			n++
		}
	}
	return n
}

// stateOf 按重组报告判断文档状态
func stateOf(r *reinsert.IntegrityReport) DocState {
	if !r.Passed {
		return DocIntegrityFailed
	}
	translated := r.Translated + r.AttributesTranslated
	fallback := r.Fallback + r.AttributesFallback
	switch {
	case fallback == 0:
		return DocTranslated
	case translated == 0:
		return DocFallback
	default:
		return DocPartial
	}
}

func documentReport(path string, r *reinsert.IntegrityReport) DocumentReport {
	return DocumentReport{
		Path:                 path,
		State:                stateOf(r),
		Units:                r.Units,
		Translated:           r.Translated,
		Fallback:             r.Fallback,
		AttributesTranslated: r.AttributesTranslated,
		AttributesFallback:   r.AttributesFallback,
		Blank:                r.Blank,
		UnchangedBlocks:      len(r.UnchangedBlocks),
		Error:                r.Detail,
	}
}
