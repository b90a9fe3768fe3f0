package docstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/starterkit/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLiteStore はdocumentsテーブルにJSONとして保存するドキュメントストア。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite はdocumentsテーブルのマイグレーションを適用してSQLiteStoreを生成する。
func NewSQLite(ctx context.Context, db *sql.DB, now func() time.Time, logger *zap.Logger) (*SQLiteStore, error) {
	if err := migration.Run(ctx, db, "docstore", migrationsFS, "migrations", logger); err != nil {
		return nil, fmt.Errorf("documentsテーブルのマイグレーションに失敗: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &SQLiteStore{db: db, now: now}, nil
}

// Collection は名前に対応するコレクションを返す。
func (s *SQLiteStore) Collection(name string) Collection {
	return &sqliteCollection{store: s, name: name}
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqliteCollection struct {
	store *SQLiteStore
	name  string
}

func (c *sqliteCollection) List(ctx context.Context) ([]Document, error) {
	rows, err := c.store.db.QueryContext(ctx, `
		SELECT id, data, created_at, updated_at FROM documents
		WHERE collection = ? ORDER BY created_at, id`, c.name)
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の走査に失敗: %w", err)
	}
	return docs, nil
}

func (c *sqliteCollection) Get(ctx context.Context, id string) (Document, error) {
	return c.get(ctx, c.store.db, id)
}

// queryer はsql.DBとsql.Txの共通インターフェース。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *sqliteCollection) get(ctx context.Context, q queryer, id string) (Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, data, created_at, updated_at FROM documents
		WHERE collection = ? AND id = ?`, c.name, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func (c *sqliteCollection) Add(ctx context.Context, data map[string]any) (Document, error) {
	now := c.store.now().UTC()
	doc := Document{ID: uuid.NewString(), Data: merge(nil, data), CreatedAt: now, UpdatedAt: now}
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return Document{}, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	if _, err := c.store.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.name, doc.ID, string(raw), formatTime(now), formatTime(now),
	); err != nil {
		return Document{}, fmt.Errorf("ドキュメントの追加に失敗: %w", err)
	}
	return doc, nil
}

func (c *sqliteCollection) Update(ctx context.Context, id string, data map[string]any) (Document, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	doc, err := c.get(ctx, tx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Data = merge(doc.Data, data)
	doc.UpdatedAt = c.store.now().UTC()
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return Document{}, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), formatTime(doc.UpdatedAt), c.name, id,
	); err != nil {
		return Document{}, fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return doc, nil
}

func (c *sqliteCollection) Delete(ctx context.Context, id string) error {
	res, err := c.store.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", c.name, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner はsql.Rowとsql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (Document, error) {
	var (
		doc                  Document
		raw                  string
		createdAt, updatedAt string
	)
	if err := s.Scan(&doc.ID, &raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("ドキュメントの読み込みに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return Document{}, fmt.Errorf("ドキュメントの解析に失敗: %w", err)
	}
	var err error
	if doc.CreatedAt, err = time.Parse(sortableTime, createdAt); err != nil {
		return Document{}, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(sortableTime, updatedAt); err != nil {
		return Document{}, fmt.Errorf("更新日時の解析に失敗: %w", err)
	}
	return doc, nil
}

// sortableTime は辞書順と時刻順が一致する固定桁のUTC時刻フォーマット。
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}
