// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンによる認可ゲート、ロールチェック、ペイロード検証、
// リクエストログ、メトリクス、レート制限、パニックリカバリ、
// CORS設定を含む。
package middleware
