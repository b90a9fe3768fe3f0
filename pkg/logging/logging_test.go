package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNew はロガー生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("指定したレベルが有効になること", func(t *testing.T) {
		t.Parallel()

		logger, err := New("production", "warn")
		if err != nil {
			t.Fatalf("ロガー生成に失敗: %v", err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Error("warnレベルでinfoが有効になっている")
		}
		if !logger.Core().Enabled(zapcore.WarnLevel) {
			t.Error("warnレベルでwarnが無効になっている")
		}
	})

	t.Run("開発環境ではdebugを出力できること", func(t *testing.T) {
		t.Parallel()

		logger, err := New("development", "debug")
		if err != nil {
			t.Fatalf("ロガー生成に失敗: %v", err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debugが無効になっている")
		}
	})

	t.Run("不正なレベルはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("development", "verbose"); err == nil {
			t.Error("エラーが発生しなかった")
		}
	})
}
