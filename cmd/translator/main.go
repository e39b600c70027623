package main

import (
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/cli"
	"github.com/nerdneilsfield/go-epub-translator/internal/logger"
	"github.com/nerdneilsfield/go-epub-translator/internal/translator"
)

// 由 -ldflags 注入
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// exitCanceled 与 shell 对 SIGINT 的约定一致
const exitCanceled = 130

func main() {
	log := logger.NewLogger(false)
	defer func() {
		_ = log.Sync()
	}()

	rootCmd := cli.NewRootCommand(Version, Commit, BuildDate)
	if err := rootCmd.Execute(); err != nil {
		// 已写出部分译文，不再作为错误记录
		if errors.Is(err, translator.ErrCanceled) {
			log.Warn("translation canceled, partial output written")
			os.Exit(exitCanceled)
		}
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
