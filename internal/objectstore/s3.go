package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config はS3Storeの設定。
type S3Config struct {
	// Bucket はバケット名。
	Bucket string
	// Region はリージョン。
	Region string
	// Endpoint が空でない場合、AWS以外のS3互換エンドポイント(MinIO等)を使用する。
	Endpoint string
	// AccessKeyID と SecretAccessKey が両方設定されている場合は静的な資格情報を使用する。
	// それ以外はデフォルトの資格情報チェーンを使用する。
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle はパススタイルのURLを使用するかどうか。
	UsePathStyle bool
	// PublicURL はPublicURLが返すURLのベース。空の場合はエンドポイントから組み立てる。
	PublicURL string
	// HTTPClient はAPI呼び出しに使うクライアント。nilの場合はSDKの既定値。
	HTTPClient *http.Client
}

// S3Store はS3互換バケットを使用するオブジェクトストア。
type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	publicURL string
}

// NewS3 はS3Storeを生成する。
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("バケット名が空です")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: publicBase(cfg),
	}, nil
}

// publicBase は公開URLのベースを組み立てる。
func publicBase(cfg S3Config) string {
	switch {
	case cfg.PublicURL != "":
		return strings.TrimSuffix(cfg.PublicURL, "/")
	case cfg.Endpoint != "" && cfg.UsePathStyle:
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	case cfg.Endpoint != "":
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || u.Host == "" {
			return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		}
		return u.Scheme + "://" + cfg.Bucket + "." + u.Host
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// PresignUpload はPUT用の署名付きURLを発行する。アップロード時のContent-Typeは署名に含まれる。
func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("アップロードURLの署名に失敗: %w", err)
	}
	return req.URL, nil
}

// PresignDownload はGET用の署名付きURLを発行する。
func (s *S3Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ダウンロードURLの署名に失敗: %w", err)
	}
	return req.URL, nil
}

// List はprefixで始まるオブジェクトを全ページ分取得する。
// ListObjectsV2はContent-Typeを返さないため、拡張子から推定する。
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	objects := []Object{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("オブジェクト一覧の取得に失敗: %w", err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			modified := aws.ToTime(o.LastModified)
			objects = append(objects, Object{
				Key:         key,
				ContentType: mime.TypeByExtension(path.Ext(key)),
				Size:        aws.ToInt64(o.Size),
				CreatedAt:   modified,
				UpdatedAt:   modified,
			})
		}
	}
	return objects, nil
}

// Exists はHeadObjectでオブジェクトの存在を確認する。
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("オブジェクトの存在確認に失敗: %w", err)
}

// Delete はオブジェクトを削除する。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("オブジェクトの削除に失敗: %w", err)
	}
	return nil
}

// PublicURL はオブジェクトの公開URLを返す。
func (s *S3Store) PublicURL(key string) string {
	return s.publicURL + "/" + key
}

// isNotFound はHeadObjectがオブジェクト不在で失敗したかどうかを判定する。
func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
