package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore はドキュメントをJSON文字列として保存し、
// コレクションごとのソート済みセットで作成順を管理するドキュメントストア。
//
// キー構成:
//
//	<prefix>:<collection>       作成日時をスコアとするドキュメントIDのソート済みセット
//	<prefix>:<collection>:<id>  ドキュメント本体のJSON
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis は既存のクライアントを使用するRedisStoreを生成する。
func NewRedis(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "docs"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// NewRedisFromURL はredis:// 形式のURLからクライアントを生成してRedisStoreを返す。
func NewRedisFromURL(ctx context.Context, rawURL string, now func() time.Time) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("環境変数REDIS_URLの解析に失敗: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ドキュメントストア用Redisへの接続に失敗: %w", err)
	}
	return NewRedis(client, "", now), nil
}

// Collection は名前に対応するコレクションを返す。
func (s *RedisStore) Collection(name string) Collection {
	return &redisCollection{store: s, index: s.prefix + ":" + name}
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close はクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisCollection struct {
	store *RedisStore
	index string
}

func (c *redisCollection) key(id string) string {
	return c.index + ":" + id
}

func (c *redisCollection) List(ctx context.Context) ([]Document, error) {
	ids, err := c.store.client.ZRange(ctx, c.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ドキュメントIDの取得に失敗: %w", err)
	}
	docs := []Document{}
	if len(ids) == 0 {
		return docs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	values, err := c.store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// インデックスに残った削除済みのID
			continue
		}
		doc, err := decodeDocument([]byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *redisCollection) Get(ctx context.Context, id string) (Document, error) {
	raw, err := c.store.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return decodeDocument(raw)
}

func (c *redisCollection) Add(ctx context.Context, data map[string]any) (Document, error) {
	now := c.store.now().UTC()
	doc := Document{ID: uuid.NewString(), Data: merge(nil, data), CreatedAt: now, UpdatedAt: now}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	_, err = c.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(doc.ID), raw, 0)
		pipe.ZAdd(ctx, c.index, redis.Z{Score: float64(now.UnixMicro()), Member: doc.ID})
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("ドキュメントの追加に失敗: %w", err)
	}
	return doc, nil
}

// Update はWATCHでドキュメントキーを監視し、競合した場合はredis.TxFailedErrを返す。
func (c *redisCollection) Update(ctx context.Context, id string, data map[string]any) (Document, error) {
	key := c.key(id)
	var updated Document
	err := c.store.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		doc.Data = merge(doc.Data, data)
		doc.UpdatedAt = c.store.now().UTC()
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("ドキュメントの更新に失敗: %w", err)
		}
		updated = doc
		return nil
	}, key)
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

func (c *redisCollection) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := c.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, c.key(id))
		pipe.ZRem(ctx, c.index, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("ドキュメントの解析に失敗: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return doc, nil
}
