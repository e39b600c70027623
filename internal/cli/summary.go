package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/nerdneilsfield/go-epub-translator/internal/translator"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/stats"
)

// maxPathWidth 表格中文档路径的最大显示宽度
const maxPathWidth = 48

var (
	greenColor  = color.New(color.FgGreen)
	yellowColor = color.New(color.FgYellow)
	redColor    = color.New(color.FgRed)
	grayColor   = color.New(color.FgHiBlack)
)

func colorState(state translator.DocState) string {
	switch state {
	case translator.DocTranslated:
		return greenColor.Sprint(state)
	case translator.DocPartial:
		return yellowColor.Sprint(state)
	case translator.DocUntouched:
		return grayColor.Sprint(state)
	default:
		return redColor.Sprint(state)
	}
}

// shortenPath 超长路径保留末尾部分
func shortenPath(p string) string {
	if runewidth.StringWidth(p) <= maxPathWidth {
		return p
	}
	runes := []rune(p)
	width := runewidth.StringWidth("…")
	i := len(runes)
	for i > 0 {
		w := runewidth.RuneWidth(runes[i-1])
		if width+w > maxPathWidth {
			break
		}
		width += w
		i--
	}
	return "…" + string(runes[i:])
}

// renderSummary 输出每个文档的结果表
func renderSummary(w io.Writer, res *runResult) {
	r := res.Report

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("%s → %s", filepath.Base(res.Input), filepath.Base(res.Output)))
	tw.AppendHeader(table.Row{"文档", "状态", "单元", "已翻译", "回退", "属性", "未变化块"})
	for _, d := range r.Documents {
		attrs := ""
		if d.AttributesTranslated+d.AttributesFallback > 0 {
			attrs = fmt.Sprintf("%d/%d", d.AttributesTranslated, d.AttributesTranslated+d.AttributesFallback)
		}
		tw.AppendRow(table.Row{
			shortenPath(d.Path),
			colorState(d.State),
			d.Units,
			d.Translated,
			d.Fallback,
			attrs,
			d.UnchangedBlocks,
		})
	}
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d 个文档", len(r.Documents)),
		"",
		r.Units,
		r.UnitsTranslated,
		r.UnitsFailed,
		"",
		"",
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	tw.SetStyle(table.StyleLight)
	tw.Render()

	var states []string
	for _, s := range []translator.DocState{
		translator.DocTranslated,
		translator.DocPartial,
		translator.DocFallback,
		translator.DocUntouched,
		translator.DocIntegrityFailed,
	} {
		if n := r.Count(s); n > 0 {
			states = append(states, fmt.Sprintf("%s %d", colorState(s), n))
		}
	}
	fmt.Fprintf(w, "文档: %s\n", strings.Join(states, ", "))
	fmt.Fprintf(w, "批次: %d, 请求: %d, 重试: %d, 缓存命中: %d, 耗时: %s\n",
		r.Batches, r.Client.Calls, r.Client.Retries, r.CacheHits, r.Duration.Round(time.Millisecond))
	if r.Canceled {
		fmt.Fprintln(w, yellowColor.Sprint("翻译已取消，未完成的单元保留原文"))
	}
}

// renderProviderStats 输出后端统计表
func renderProviderStats(w io.Writer, all []*stats.ProviderStats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("后端统计")
	tw.AppendHeader(table.Row{"后端", "模型", "请求", "成功率", "条目完成率", "原样返回", "平均延迟", "Tokens (入/出)", "错误"})
	for _, s := range all {
		m := s.Metrics()
		var errs []string
		for code, n := range s.ErrorTypes {
			errs = append(errs, fmt.Sprintf("%s:%d", code, n))
		}
		tw.AppendRow(table.Row{
			s.ProviderName,
			s.ModelName,
			s.TotalRequests,
			fmt.Sprintf("%.1f%%", m.SuccessRate),
			fmt.Sprintf("%.1f%%", m.CompletionRate),
			fmt.Sprintf("%.1f%%", m.UnchangedRate),
			m.AverageLatency.Round(time.Millisecond),
			fmt.Sprintf("%d/%d", s.TotalTokensIn, s.TotalTokensOut),
			strings.Join(sortedStrings(errs), " "),
		})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}

// reportFile 运行报告文件
type reportFile struct {
	Input     string                 `json:"input" yaml:"input"`
	Output    string                 `json:"output" yaml:"output"`
	Run       *translator.RunReport  `json:"run" yaml:"run"`
	Progress  reportProgress         `json:"progress" yaml:"progress"`
	Providers []*stats.ProviderStats `json:"providers,omitempty" yaml:"providers,omitempty"`
}

type reportProgress struct {
	Batches  int     `json:"batches" yaml:"batches"`
	Retries  int     `json:"retries" yaml:"retries"`
	Percent  float64 `json:"percent" yaml:"percent"`
	Failures int     `json:"failures" yaml:"failures"`
}

// writeReport 写出运行报告，扩展名为 .json 时输出 JSON，否则输出 YAML
func writeReport(path string, res *runResult) error {
	rf := reportFile{
		Input:  res.Input,
		Output: res.Output,
		Run:    res.Report,
		Progress: reportProgress{
			Batches:  res.Progress.Batches.Succeeded + res.Progress.Batches.Partial + res.Progress.Batches.Failed,
			Retries:  res.Progress.Batches.Retries,
			Percent:  res.Progress.Progress,
			Failures: res.Progress.Failed,
		},
		Providers: res.Providers,
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(rf, "", "  ")
	} else {
		data, err = yaml.Marshal(rf)
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
