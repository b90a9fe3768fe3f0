package objectstore

import (
	"context"
	"time"
)

// Object はバケット内のオブジェクトのメタデータ。
type Object struct {
	// Key はバケット内のオブジェクトキー。
	Key string
	// ContentType はオブジェクトのメディアタイプ。
	ContentType string
	// Size はバイト数。
	Size int64
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time
}

// Store は署名付きURLを発行できるオブジェクトストア。
type Store interface {
	// PresignUpload はcontentTypeに限定したアップロード用URLを発行する。
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// PresignDownload はダウンロード用URLを発行する。
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	// List はprefixで始まるオブジェクトを返す。
	List(ctx context.Context, prefix string) ([]Object, error)
	// Exists はオブジェクトが存在するかどうかを返す。
	Exists(ctx context.Context, key string) (bool, error)
	// Delete はオブジェクトを削除する。
	Delete(ctx context.Context, key string) error
	// PublicURL はオブジェクトの公開URLを返す。
	PublicURL(key string) string
}
