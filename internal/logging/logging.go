// Package logging はアプリケーション共通の slog ロガーを提供する
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// InitLogger はログレベルを決めてグローバルロガーを初期化する。
// verbose なら DEBUG、そうでなければ INFO。
func InitLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return Init(os.Stdout, level)
}

// Init は出力先とレベルを指定してグローバルロガーを初期化する
func Init(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// GetLogger は初期化済みのロガーを返す。未初期化なら INFO レベルで初期化する。
func GetLogger() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()

	if l == nil {
		return InitLogger(false)
	}
	return l
}

// ParseLevel は "debug" "info" "warn" "error" をレベルに変換する。
// 不明な値は INFO として扱う。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
