package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nerdneilsfield/go-epub-translator/internal/config"
	"github.com/nerdneilsfield/go-epub-translator/internal/logger"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/factory"
)

var (
	// 命令行标志变量
	cfgFile      string
	sourceLang   string
	targetLang   string
	provider     string
	model        string
	baseURL      string
	concurrency  int
	batchChars   int
	batchUnits   int
	useCache     bool
	cacheDir     string
	glossaryPath string
	debugMode    bool
	verboseMode  bool // 显示每个批次的日志
	dryRun       bool // 预演模式，只解析和分批，不调用后端
	showConfig   bool // 显示当前配置
	listBackends bool // 列出内置后端
	noAttributes bool // 不翻译 alt/title 等属性
	noProgress   bool // 不显示进度条
	reportPath   string
	progressPath string
	logFile      string
)

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "translator [flags] input.epub [output.epub]",
		Short: "保留锚点结构的 EPUB 翻译工具",
		Long: `EPUB 翻译工具逐个解析书中的 XHTML 文件，只把可翻译的文本交给翻译后端，
标签、属性、注释和空白原样保留，译文按单元编号写回原位置。

批次在所有文档之间共享，可以并行请求；后端只返回部分结果时缺失的单元会重新排队，
永久失败的单元保留原文。重组后的文档会与原文做结构比对，比对失败时输出原文。

内置翻译后端:
  - openai: OpenAI 官方 SDK
  - compat: OpenAI 兼容接口（DeepSeek、通义千问、本地 vLLM 等）
  - deepl: DeepL 文本翻译接口
  - deeplx: DeepLX 服务
  - google: Google Cloud Translation v2
  - libretranslate: LibreTranslate 接口，可自建
  - ollama: Ollama 原生接口
  - raw: 不翻译，原样输出，用于检查重组是否无损`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			// 特殊标志不需要参数
			if showConfig || listBackends {
				return nil
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: runRoot,
	}

	addGlobalFlags(rootCmd)
	rootCmd.AddCommand(NewStatsCommand())

	return rootCmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if listBackends {
		fmt.Fprintln(out, "内置翻译后端:")
		for _, name := range factory.Names() {
			fmt.Fprintf(out, "  - %s\n", name)
		}
		return nil
	}

	// 加载配置
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	updateConfigFromFlags(cmd, cfg)

	log := logger.NewWithOptions(logger.Options{
		Debug:   cfg.Debug,
		Verbose: cfg.Verbose,
		Console: true,
		File:    logFile,
	})
	defer func() {
		_ = log.Sync()
	}()

	if showConfig {
		return handleShowConfig(out, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	inputPath := args[0]
	outputPath := generateDefaultOutputFile(inputPath)
	if len(args) > 1 {
		outputPath = args[1]
	}
	if samePath(inputPath, outputPath) {
		return fmt.Errorf("output file must differ from input file: %s", outputPath)
	}

	if dryRun {
		return handleDryRun(out, cfg, inputPath, log)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting translation",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.String("sourceLang", cfg.SourceLang),
		zap.String("targetLang", cfg.TargetLang))

	result, runErr := runTranslation(ctx, cfg, runOptions{
		Input:        inputPath,
		Output:       outputPath,
		ProgressPath: progressPath,
		ShowProgress: !noProgress && !cfg.Verbose,
	}, log)
	if result == nil {
		return runErr
	}

	renderSummary(out, result)
	if len(result.Providers) > 0 {
		renderProviderStats(out, result.Providers)
	}

	if reportPath != "" {
		if err := writeReport(reportPath, result); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Info("report written", zap.String("path", reportPath))
	}

	return runErr
}

// updateConfigFromFlags 只覆盖命令行显式设置的字段
func updateConfigFromFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("source") {
		cfg.SourceLang = sourceLang
	}
	if cmd.Flags().Changed("target") {
		cfg.TargetLang = targetLang
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = model
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if cmd.Flags().Changed("batch-chars") {
		cfg.MaxBatchChars = batchChars
	}
	if cmd.Flags().Changed("batch-units") {
		cfg.MaxBatchUnits = batchUnits
	}
	if cmd.Flags().Changed("cache") {
		cfg.UseCache = useCache
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.CacheDir = cacheDir
	}
	if cmd.Flags().Changed("glossary") {
		cfg.GlossaryPath = glossaryPath
	}
	if cmd.Flags().Changed("no-attributes") {
		cfg.TranslateAttributes = !noAttributes
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugMode
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verboseMode
	}
}

// addGlobalFlags 添加全局标志
func addGlobalFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "缓存目录路径")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "启用调试模式")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "显示详细日志（包括每个批次）")

	rootCmd.Flags().StringVar(&sourceLang, "source", "", "源语言，如 English 或 en")
	rootCmd.Flags().StringVar(&targetLang, "target", "", "目标语言，如 Chinese 或 zh-Hans")
	rootCmd.Flags().StringVar(&provider, "provider", "", "翻译后端 (openai, compat, deepl, deeplx, google, libretranslate, ollama, raw)")
	rootCmd.Flags().StringVar(&model, "model", "", "模型名称")
	rootCmd.Flags().StringVar(&baseURL, "base-url", "", "API 地址")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "同时进行的请求数")
	rootCmd.Flags().IntVar(&batchChars, "batch-chars", 0, "每个批次的最大字符数")
	rootCmd.Flags().IntVar(&batchUnits, "batch-units", 0, "每个批次的最大单元数")
	rootCmd.Flags().BoolVar(&useCache, "cache", true, "是否使用翻译缓存")
	rootCmd.Flags().StringVar(&glossaryPath, "glossary", "", "术语表文件路径（TOML）")
	rootCmd.Flags().BoolVar(&noAttributes, "no-attributes", false, "不翻译 alt、title 等属性")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "预演模式，只显示文档和批次，不调用翻译后端")
	rootCmd.Flags().BoolVar(&showConfig, "show-config", false, "显示当前配置")
	rootCmd.Flags().BoolVar(&listBackends, "list-providers", false, "列出内置翻译后端")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "运行报告输出路径（.yaml 或 .json）")
	rootCmd.Flags().StringVar(&progressPath, "progress-file", "", "进度快照保存路径")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "额外写入的日志文件")
}

// handleShowConfig 以 YAML 输出当前配置，API 密钥会被遮盖
func handleShowConfig(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	shown.APIKey = maskSecret(cfg.APIKey)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(w, "当前配置:")
	_, err = w.Write(data)
	return err
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:3] + strings.Repeat("*", len(s)-7) + s[len(s)-4:]
}

// generateDefaultOutputFile 生成默认输出文件名
func generateDefaultOutputFile(inputFile string) string {
	ext := filepath.Ext(inputFile)
	base := strings.TrimSuffix(inputFile, ext)
	return base + "_translated" + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
