package cli

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
)

// progressBar 用 pterm 进度条显示单元完成情况。
// 解析事件累加总数，第一个非解析事件到达时才启动进度条。
type progressBar struct {
	mu      sync.Mutex
	title   string
	total   int
	done    int
	retries int
	bar     *pterm.ProgressbarPrinter
	stopped bool
}

func newProgressBar(title string) *progressBar {
	return &progressBar{title: title}
}

// Report 实现 progress.Reporter
func (p *progressBar) Report(e progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	switch e.Kind {
	case progress.EventDocumentParsed:
		p.total += e.Units
	case progress.EventUnitsTranslated, progress.EventUnitsFailed:
		if !p.start() {
			return
		}
		n := e.Units
		if p.done+n > p.total {
			n = p.total - p.done
		}
		if n > 0 {
			p.done += n
			p.bar.Add(n)
		}
	case progress.EventBatchRetry:
		p.retries++
		if p.start() {
			p.bar.UpdateTitle(fmt.Sprintf("%s (重试 %d)", p.title, p.retries))
		}
	}
}

// start 调用方必须持有 mu
func (p *progressBar) start() bool {
	if p.bar != nil {
		return true
	}
	if p.total == 0 {
		return false
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(p.total).
		WithTitle(p.title).
		WithShowElapsedTime(true).
		WithShowCount(true).
		Start()
	if err != nil {
		return false
	}
	p.bar = bar
	return true
}

// Stop 停止进度条，之后的事件被忽略
func (p *progressBar) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.bar != nil && p.done < p.total {
		_, _ = p.bar.Stop()
	}
}
