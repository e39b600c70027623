package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nerdneilsfield/go-epub-translator/internal/config"
	"github.com/nerdneilsfield/go-epub-translator/internal/logger"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/stats"
)

var (
	// stats 命令的标志
	statsFormat string
	resetStats  bool
)

// NewStatsCommand 创建 stats 命令
func NewStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "查看翻译后端的累计统计",
		Long: `查看每个翻译后端和模型的累计统计，包括：
- 请求数和成功率
- 条目完成率（部分返回时缺失的条目不计入）
- 原样返回的条目比例
- 平均延迟、Token 用量和错误类型

示例:
  translator stats
  translator stats --format json
  translator stats --reset`,
		Args: cobra.NoArgs,
		RunE: runStatsCommand,
	}

	statsCmd.Flags().StringVar(&statsFormat, "format", "table", "输出格式 (table, json, yaml)")
	statsCmd.Flags().BoolVar(&resetStats, "reset", false, "清空所有统计")

	return statsCmd
}

// runStatsCommand 执行 stats 命令
func runStatsCommand(cmd *cobra.Command, args []string) error {
	log := logger.NewLogger(debugMode)
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Warn("failed to load config, using defaults", zap.Error(err))
		cfg = config.NewDefaultConfig()
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.CacheDir = cacheDir
	}

	path := statsPath(cfg)
	out := cmd.OutOrStdout()

	if resetStats {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to reset stats: %w", err)
		}
		color.New(color.FgGreen).Fprintln(out, "统计已清空")
		return nil
	}

	manager := stats.NewManager(path, log)
	if err := manager.Load(); err != nil {
		return err
	}
	all := manager.All()

	switch statsFormat {
	case "json":
		data, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(all)
		if err != nil {
			return err
		}
		_, _ = out.Write(data)
	case "table":
		if len(all) == 0 {
			fmt.Fprintln(out, "暂无统计数据")
			return nil
		}
		renderProviderStats(out, all)
	default:
		return fmt.Errorf("unsupported format %q, use table, json or yaml", statsFormat)
	}
	return nil
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
