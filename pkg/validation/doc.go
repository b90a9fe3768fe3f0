// Package validation はリクエストペイロードのスキーマ検証を提供する。
//
// 検証は網羅的で、不正な全フィールドをJSON名をキーとしたエラー集合として返す。
// 未知のフィールドは無視され、デフォルト値は検証成功後にのみ適用される。
package validation
