// APIサーバーのエントリポイント。
// ユーザー管理・アイテムのCRUD・署名付きURLによるファイル操作を提供する。
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/starterkit/internal/api"
	"github.com/nao1215/starterkit/internal/config"
	"github.com/nao1215/starterkit/internal/docstore"
	"github.com/nao1215/starterkit/internal/objectstore"
	"github.com/nao1215/starterkit/internal/userstore"
	"github.com/nao1215/starterkit/pkg/identity"
	"github.com/nao1215/starterkit/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("APIサーバーの起動に失敗: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	users, err := userstore.Open(ctx, db, userstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	if err := seedAdmins(ctx, users, cfg, logger); err != nil {
		return err
	}

	docs, closeDocs, err := openDocstore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeDocs()

	objects, err := objectstore.NewS3(ctx, objectstore.S3Config{
		Bucket:          cfg.StorageBucket,
		Region:          cfg.StorageRegion,
		Endpoint:        cfg.StorageEndpoint,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
		UsePathStyle:    cfg.StorageUsePathStyle,
		PublicURL:       cfg.StoragePublicURL,
	})
	if err != nil {
		return fmt.Errorf("オブジェクトストアの初期化に失敗: %w", err)
	}

	deps := api.Deps{
		Config:  cfg,
		Logger:  logger,
		Users:   users,
		Docs:    docs,
		Objects: objects,
	}
	if cfg.AuthJWKSURL != "" {
		provider, err := identity.NewJWKSProvider(ctx, identity.JWKSConfig{
			URL:      cfg.AuthJWKSURL,
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
		})
		if err != nil {
			return fmt.Errorf("JWKSプロバイダの初期化に失敗: %w", err)
		}
		deps.Verifier = identity.NewVerifier(provider)
		logger.Info("外部IDプロバイダでトークンを検証します", zap.String("jwks_url", cfg.AuthJWKSURL))
	} else {
		provider, err := identity.NewHMACProvider(identity.HMACConfig{
			Secret: cfg.JWTSecret,
			Issuer: cfg.AuthIssuer,
			TTL:    cfg.TokenTTL,
		})
		if err != nil {
			return fmt.Errorf("HMACプロバイダの初期化に失敗: %w", err)
		}
		deps.Verifier = identity.NewVerifier(provider)
		deps.Issuer = provider
	}

	return api.NewServer(deps).Run(ctx)
}

// seedAdmins はADMIN_EMAILSのアカウントを管理者として登録する。
// 管理者ロール無しで登録済みのアカウントは昇格させずに警告を出す。
func seedAdmins(ctx context.Context, users *userstore.Store, cfg config.Config, logger *zap.Logger) error {
	for _, email := range cfg.AdminEmails {
		u, err := users.EnsureAdmin(ctx, email, cfg.AdminPassword)
		switch {
		case errors.Is(err, userstore.ErrAdminConflict):
			logger.Warn("管理者ロール無しで登録済みのため昇格しません", zap.String("email", email))
		case err != nil:
			return fmt.Errorf("管理者の登録に失敗: %w", err)
		default:
			logger.Info("管理者を登録しました", zap.String("email", email), zap.String("uid", u.UID))
		}
	}
	return nil
}

// openDocstore は設定されたドライバのドキュメントストアを開く。
func openDocstore(ctx context.Context, cfg config.Config, db *sql.DB, logger *zap.Logger) (docstore.Store, func(), error) {
	switch cfg.DocstoreDriver {
	case config.DriverRedis:
		s, err := docstore.NewRedisFromURL(ctx, cfg.RedisURL, nil)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("ドキュメントストアにRedisを使用します")
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := docstore.NewSQLite(ctx, db, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
