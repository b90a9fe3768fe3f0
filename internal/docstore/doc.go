// Package docstore はコレクション単位でJSONドキュメントを保存するドキュメントストアを提供する。
//
// バックエンドはSQLite(SQLiteStore)とRedis(RedisStore)の2種類。
// どちらも更新はトップレベルのフィールド単位のマージで行い、
// 存在しないドキュメントの取得・更新・削除はErrNotFoundを返す。
package docstore
