package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/config"
	"github.com/nerdneilsfield/go-epub-translator/internal/epub"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
)

// handleDryRun 解析所有文档并分批，不调用翻译后端
func handleDryRun(w io.Writer, cfg *config.Config, inputPath string, log *zap.Logger) error {
	book, err := epub.Open(inputPath, log)
	if err != nil {
		return err
	}

	wk := walker.New(cfg.WalkerOptions(), log)
	sched, err := scheduler.New(cfg.Limits(), log)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("预演: %s", book.Metadata.Title))
	tw.AppendHeader(table.Row{"文档", "单元", "属性", "字符", "状态"})

	var (
		models []*segment.Model
		units  int
		chars  int
	)
	for _, d := range book.Documents() {
		m, err := wk.Parse(d.Path, d.Content)
		if err != nil {
			reason := err.Error()
			var pe *walker.ParseError
			if errors.As(err, &pe) {
				reason = pe.Reason
			}
			tw.AppendRow(table.Row{shortenPath(d.Path), "-", "-", "-", grayColor.Sprintf("原样保留: %s", reason)})
			continue
		}

		body, attrs, n := 0, 0, 0
		for _, u := range m.Units() {
			switch {
			case u.Blank():
				continue
			case u.IsAttribute():
				attrs++
			default:
				body++
			}
			n += u.CharCount()
		}
		m.Index = len(models)
		models = append(models, m)
		units += body + attrs
		chars += n
		tw.AppendRow(table.Row{shortenPath(d.Path), body, attrs, n, greenColor.Sprint("ok")})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d 个文档", len(book.Documents())), units, "", chars, ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	tw.SetStyle(table.StyleLight)
	tw.Render()

	batches := sched.Plan(models)
	oversized := 0
	for _, b := range batches {
		if b.Oversized {
			oversized++
		}
	}
	fmt.Fprintf(w, "容器: %d 个文件, 其中 %d 个内容文档\n", len(book.Entries()), len(book.Documents()))
	limits := sched.Limits()
	fmt.Fprintf(w, "批次: %d (每批最多 %d 个单元、%d 个字符), 超长单元: %d\n",
		len(batches), limits.MaxUnits, limits.MaxChars, oversized)
	fmt.Fprintf(w, "后端: %s, 模型: %s, 并发: %d\n", cfg.Provider, cfg.Model, cfg.Concurrency)
	return nil
}
