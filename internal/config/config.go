package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ドキュメントストアのドライバ名。
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config はAPIサーバーの設定。
type Config struct {
	Port           string
	Host           string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	DatabasePath   string
	DocstoreDriver string
	RedisURL       string

	JWTSecret    string
	AuthIssuer   string
	AuthAudience string
	AuthJWKSURL  string
	TokenTTL     time.Duration
	AdminRoles   []string

	// AdminEmails は起動時に管理者として登録するメールアドレス。
	AdminEmails   []string
	AdminPassword string

	StorageBucket          string
	StorageRegion          string
	StorageEndpoint        string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageUsePathStyle    bool
	StoragePublicURL       string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Addr はリッスンするアドレスを返す。
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

var defaults = map[string]any{
	"PORT":                      "3001",
	"HOST":                      "0.0.0.0",
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
	"ALLOWED_ORIGINS":           "http://localhost:3000",
	"DATABASE_PATH":             "/data/api.db",
	"DOCSTORE_DRIVER":           DriverSQLite,
	"REDIS_URL":                 "",
	"JWT_SECRET":                "dev-secret-key",
	"AUTH_ISSUER":               "starterkit-api",
	"AUTH_AUDIENCE":             "",
	"AUTH_JWKS_URL":             "",
	"TOKEN_TTL":                 "1h",
	"ADMIN_ROLES":               "admin",
	"ADMIN_EMAILS":              "",
	"ADMIN_PASSWORD":            "",
	"STORAGE_BUCKET":            "starterkit-uploads",
	"STORAGE_REGION":            "us-east-1",
	"STORAGE_ENDPOINT":          "",
	"STORAGE_ACCESS_KEY_ID":     "",
	"STORAGE_SECRET_ACCESS_KEY": "",
	"STORAGE_USE_PATH_STYLE":    false,
	"STORAGE_PUBLIC_URL":        "",
	"RATE_LIMIT_RPS":            0.0,
	"RATE_LIMIT_BURST":          20,
}

// Load は.envファイル(存在する場合)と環境変数から設定を読み込む。
// .envの値は既に設定されている環境変数を上書きしない。
// 空文字の環境変数は未設定ではなく空として扱う(ADMIN_ROLES= でロール確認を無効化できる)。
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%sの読み込みに失敗: %w", f, err)
		}
	}

	v := viper.New()
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	cfg := Config{
		Port:           v.GetString("PORT"),
		Host:           v.GetString("HOST"),
		Env:            v.GetString("APP_ENV"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),

		DatabasePath:   v.GetString("DATABASE_PATH"),
		DocstoreDriver: strings.ToLower(v.GetString("DOCSTORE_DRIVER")),
		RedisURL:       v.GetString("REDIS_URL"),

		JWTSecret:    v.GetString("JWT_SECRET"),
		AuthIssuer:   v.GetString("AUTH_ISSUER"),
		AuthAudience: v.GetString("AUTH_AUDIENCE"),
		AuthJWKSURL:  v.GetString("AUTH_JWKS_URL"),
		TokenTTL:     v.GetDuration("TOKEN_TTL"),
		AdminRoles:   splitList(v.GetString("ADMIN_ROLES")),

		AdminEmails:   splitList(strings.ToLower(v.GetString("ADMIN_EMAILS"))),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),

		StorageBucket:          v.GetString("STORAGE_BUCKET"),
		StorageRegion:          v.GetString("STORAGE_REGION"),
		StorageEndpoint:        v.GetString("STORAGE_ENDPOINT"),
		StorageAccessKeyID:     v.GetString("STORAGE_ACCESS_KEY_ID"),
		StorageSecretAccessKey: v.GetString("STORAGE_SECRET_ACCESS_KEY"),
		StorageUsePathStyle:    v.GetBool("STORAGE_USE_PATH_STYLE"),
		StoragePublicURL:       v.GetString("STORAGE_PUBLIC_URL"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// minAdminPasswordLen はユーザー作成時のパスワードの最小長と同じ。
const minAdminPasswordLen = 6

// Validate は設定の組み合わせが起動可能かどうかを検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("環境変数PORTが空です"))
	}
	switch c.DocstoreDriver {
	case DriverSQLite:
	case DriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("DOCSTORE_DRIVER=redis の場合は環境変数REDIS_URLが必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("未対応のDOCSTORE_DRIVERです: %q", c.DocstoreDriver))
	}
	if c.AuthJWKSURL == "" {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("環境変数JWT_SECRETが空です"))
		}
		if c.TokenTTL <= 0 {
			errs = append(errs, errors.New("環境変数TOKEN_TTLは正の期間である必要があります"))
		}
	}
	if len(c.AdminEmails) > 0 && len(c.AdminPassword) < minAdminPasswordLen {
		errs = append(errs, fmt.Errorf("ADMIN_EMAILSを指定する場合は環境変数ADMIN_PASSWORDを%d文字以上で設定してください", minAdminPasswordLen))
	}
	if c.StorageBucket == "" {
		errs = append(errs, errors.New("環境変数STORAGE_BUCKETが空です"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("環境変数RATE_LIMIT_RPSは0以上である必要があります"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("環境変数RATE_LIMIT_BURSTは正の値である必要があります"))
	}
	return errors.Join(errs...)
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
