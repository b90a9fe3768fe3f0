// Package objectstore はS3互換バケットを使用するオブジェクトストアを提供する。
//
// クライアントは署名付きURLで直接アップロード・ダウンロードし、
// このパッケージは一覧取得・存在確認・削除のみを行う。
package objectstore
