package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/cache"
	"github.com/nerdneilsfield/go-epub-translator/internal/config"
	"github.com/nerdneilsfield/go-epub-translator/internal/epub"
	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
	"github.com/nerdneilsfield/go-epub-translator/internal/reinsert"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/translator"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/factory"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/stats"
)

// providerStatsFile 后端统计文件名，位于缓存目录
const providerStatsFile = "provider_stats.json"

// newBackend 创建翻译后端
var newBackend = factory.Create

type runOptions struct {
	Input        string
	Output       string
	ProgressPath string
	ShowProgress bool
}

// runResult 一次运行的结果
type runResult struct {
	Input     string
	Output    string
	Report    *translator.RunReport
	Progress  progress.Snapshot
	Providers []*stats.ProviderStats
}

func statsPath(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, providerStatsFile)
}

// runTranslation 读取 EPUB，翻译所有内容文件并写出新文件。
// 取消时已完成的译文仍会写出，同时返回 translator.ErrCanceled。
func runTranslation(ctx context.Context, cfg *config.Config, opts runOptions, log *zap.Logger) (*runResult, error) {
	var glossary *config.Glossary
	if cfg.GlossaryPath != "" {
		g, err := config.LoadGlossary(cfg.GlossaryPath)
		if err != nil {
			return nil, err
		}
		glossary = g
		log.Info("glossary loaded", zap.String("path", cfg.GlossaryPath), zap.Int("terms", len(g.Translations)))
	}

	backend, err := newBackend(cfg.Provider, cfg.ProviderConfig(glossary), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	statsManager := stats.NewManager(statsPath(cfg), log)
	if err := statsManager.Load(); err != nil {
		log.Warn("failed to load provider stats", zap.Error(err))
	}
	tracked := stats.Wrap(backend, statsManager, cfg.Model)

	book, err := epub.Open(opts.Input, log)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	tracker := progress.NewTracker(runID, log)
	if opts.ProgressPath != "" {
		tracker.WithBackend(progress.NewFileBackend(opts.ProgressPath))
	}
	reporters := progress.Multi{tracker}
	var bar *progressBar
	if opts.ShowProgress {
		bar = newProgressBar(fmt.Sprintf("翻译 %s", filepath.Base(opts.Input)))
		reporters = append(reporters, bar)
	}

	w := walker.New(cfg.WalkerOptions(), log)
	sched, err := scheduler.New(cfg.Limits(), log)
	if err != nil {
		return nil, err
	}
	throttle := translator.NewThrottle(cfg.RequestsPerMinute, cfg.RequestInterval(), log)
	client, err := translator.NewClient(tracked, throttle, translator.ClientOptions{
		SourceLang:  cfg.SourceLanguageName(),
		TargetLang:  cfg.TargetLanguageName(),
		Concurrency: cfg.Concurrency,
		Policy:      cfg.RetryPolicy(),
		Timeout:     cfg.RequestTimeoutDuration(),
		MaxChars:    cfg.MaxBatchChars,
	}, reporters, log)
	if err != nil {
		return nil, err
	}

	var store cache.Store
	if cfg.UseCache {
		path := cache.PathFor(cfg.CacheDir, opts.Input)
		if f, err := cache.Open(path, log); err != nil {
			log.Warn("translation cache disabled", zap.String("path", path), zap.Error(err))
		} else {
			store = f
		}
	}

	coordinator, err := translator.NewTranslationCoordinator(w, sched, client, reinsert.New(w, log), translator.Options{
		SourceLang:       cfg.SourceLanguageName(),
		TargetLang:       cfg.TargetLanguageName(),
		Provider:         tracked.Name(),
		RunID:            runID,
		ParseConcurrency: cfg.ParseConcurrency,
		MaxUnitRetries:   cfg.MaxUnitRetries,
		Cache:            store,
		Reporter:         reporters,
	}, log)
	if err != nil {
		return nil, err
	}

	docs := book.Documents()
	inputs := make([]translator.DocumentInput, len(docs))
	for i, d := range docs {
		inputs[i] = translator.DocumentInput{Path: d.Path, Content: d.Content}
	}

	report, outputs, runErr := coordinator.Translate(ctx, inputs)
	if bar != nil {
		bar.Stop()
	}

	for _, o := range outputs {
		if err := book.Replace(o.Path, o.Content); err != nil {
			return nil, err
		}
	}
	if err := book.Save(opts.Output); err != nil {
		return nil, err
	}

	if err := statsManager.Save(); err != nil {
		log.Warn("failed to save provider stats", zap.Error(err))
	}
	if opts.ProgressPath != "" {
		if err := tracker.Save(); err != nil {
			log.Warn("failed to save progress", zap.Error(err))
		}
	}

	return &runResult{
		Input:     opts.Input,
		Output:    opts.Output,
		Report:    report,
		Progress:  tracker.Snapshot(),
		Providers: statsManager.All(),
	}, runErr
}
