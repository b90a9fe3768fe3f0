// Package config は環境変数と.envファイルからAPIサーバーの設定を読み込む。
package config
