package docstore

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrNotFound はドキュメントが存在しない場合に返される。
var ErrNotFound = errors.New("document not found")

// Document はコレクション内の1件のドキュメント。
type Document struct {
	// ID はコレクション内で一意な識別子。
	ID string `json:"id"`
	// Data はドキュメント本体のフィールド。
	Data map[string]any `json:"data"`
	// CreatedAt は作成日時。一覧の並び順に使用する。
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time `json:"updatedAt"`
}

// Flatten はIDとフィールドを1つのマップにまとめる。
// フィールドに "id" が含まれていてもドキュメントIDが優先される。
func (d Document) Flatten() map[string]any {
	out := make(map[string]any, len(d.Data)+1)
	maps.Copy(out, d.Data)
	out["id"] = d.ID
	return out
}

// Collection はドキュメントの集合に対する操作。
type Collection interface {
	// List は全ドキュメントを作成順に返す。
	List(ctx context.Context) ([]Document, error)
	// Get はドキュメントを取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id string) (Document, error)
	// Add は新しいIDでドキュメントを追加する。
	Add(ctx context.Context, data map[string]any) (Document, error)
	// Update は既存ドキュメントのトップレベルのフィールドをdataで上書きする。
	// 存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, id string, data map[string]any) (Document, error)
	// Delete はドキュメントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// Store はコレクションを提供するドキュメントストア。
type Store interface {
	// Collection は名前に対応するコレクションを返す。
	Collection(name string) Collection
	// Ping はバックエンドへの疎通を確認する。
	Ping(ctx context.Context) error
}

// merge はbaseにpatchのトップレベルのフィールドを上書きした新しいマップを返す。
func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}
