// Package userstore はSQLiteに保存するIDディレクトリを提供する。
//
// ユーザーの作成・取得・部分更新・削除と、パスワード認証を行う。
// パスワードはbcryptでハッシュ化し、メールアドレスは小文字に正規化して保存する。
package userstore
