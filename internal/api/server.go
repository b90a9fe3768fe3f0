package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/starterkit/internal/config"
	"github.com/nao1215/starterkit/internal/docstore"
	"github.com/nao1215/starterkit/internal/objectstore"
	"github.com/nao1215/starterkit/internal/userstore"
	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/identity"
	"github.com/nao1215/starterkit/pkg/middleware"
)

// shutdownTimeout はRunがコンテキスト終了後にリクエストの完了を待つ時間。
const shutdownTimeout = 10 * time.Second

// itemsCollection はアイテムを保存するコレクション名。
const itemsCollection = "items"

// errMissingPayload はValidateJSONを通らずにハンドラが呼ばれた場合のエラー。
var errMissingPayload = errors.New("検証済みペイロードがコンテキストにありません")

// UserDirectory はユーザーを管理するIDディレクトリ。
type UserDirectory interface {
	Create(ctx context.Context, in userstore.NewUser) (userstore.User, error)
	Get(ctx context.Context, uid string) (userstore.User, error)
	Update(ctx context.Context, uid string, in userstore.Update) (userstore.User, error)
	Delete(ctx context.Context, uid string) error
	Authenticate(ctx context.Context, email, password string) (userstore.User, error)
}

// TokenIssuer はユーザーに対してトークンを発行する。
type TokenIssuer interface {
	Issue(subject string, claims identity.Claims) (string, time.Time, error)
}

// Deps はServerが使用する外部サービスと設定。
type Deps struct {
	Config   config.Config
	Logger   *zap.Logger
	Users    UserDirectory
	Docs     docstore.Store
	Objects  objectstore.Store
	Verifier middleware.CredentialVerifier
	// Issuer はローカルのIDプロバイダを使う場合のみ設定する。nilの場合は /api/auth/token を公開しない。
	Issuer TokenIssuer
	// Metrics がnilの場合は新しく生成する。
	Metrics *middleware.Metrics
	// Now は現在時刻を返す関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Server はAPIサーバーのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg    config.Config
	logger *zap.Logger
	// users はIDディレクトリ。
	users UserDirectory
	// docs はドキュメントストア。
	docs docstore.Store
	// items はアイテムのコレクション。
	items docstore.Collection
	// objects はファイルを保存するオブジェクトストア。
	objects  objectstore.Store
	verifier middleware.CredentialVerifier
	issuer   TokenIssuer
	metrics  *middleware.Metrics
	now      func() time.Time
}

// NewServer は新しいAPIサーバーを生成する。
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics("starterkit")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(deps.Config.AllowedOrigins))
	if deps.Config.RateLimitRPS > 0 {
		router.Use(middleware.NewRateLimiter(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst).Middleware())
	}

	s := &Server{
		router:   router,
		cfg:      deps.Config,
		logger:   logger,
		users:    deps.Users,
		docs:     deps.Docs,
		items:    deps.Docs.Collection(itemsCollection),
		objects:  deps.Objects,
		verifier: deps.Verifier,
		issuer:   deps.Issuer,
		metrics:  metrics,
		now:      now,
	}
	s.setupRoutes()

	return s
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するとリクエストの完了を待って停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("APIサーバーを起動します", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("APIサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
// 認証ゲートはグループ単位、ペイロード検証はルート単位で認証ゲートの後に適用する。
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.NoRoute(envelope.Handle(func(*gin.Context) envelope.Result {
		return envelope.Fail(envelope.NotFound("Not found"))
	}))

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth())
	api.GET("/data", s.handleData())

	auth := api.Group("/auth")
	{
		// ユーザー登録とトークン発行（認証不要）
		auth.POST("/users", middleware.ValidateJSON[createUserRequest](), s.handleCreateUser())
		if s.issuer != nil {
			auth.POST("/token", middleware.ValidateJSON[tokenRequest](), s.handleIssueToken())
		}

		me := auth.Group("/me", middleware.RequireAuth(s.verifier))
		{
			me.GET("", s.handleGetMe())
			me.PATCH("", middleware.ValidateJSON[updateUserRequest](), s.handleUpdateMe())
		}

		// ユーザー管理
		users := auth.Group("/users/:uid", s.adminGate()...)
		{
			users.GET("", s.handleGetUser())
			users.PATCH("", middleware.ValidateJSON[updateUserRequest](), s.handleUpdateUser())
			users.DELETE("", s.handleDeleteUser())
		}
	}

	items := api.Group("/items", middleware.RequireAuth(s.verifier))
	{
		items.GET("", s.handleListItems())
		items.GET("/:id", s.handleGetItem())
		items.POST("", middleware.ValidateJSON[itemRequest](), s.handleCreateItem())
		items.PUT("/:id", middleware.ValidateJSON[itemRequest](), s.handleUpdateItem())
		items.DELETE("/:id", s.handleDeleteItem())
	}

	storage := api.Group("/storage", middleware.RequireAuth(s.verifier))
	{
		storage.POST("/upload-url", middleware.ValidateJSON[uploadURLRequest](), s.handleUploadURL())
		storage.GET("/files", s.handleListFiles())
		storage.DELETE("/files/:filename", s.handleDeleteFile())
		storage.GET("/download-url/*filePath", s.handleDownloadURL())
	}
}

// adminGate はユーザー管理ルートに適用するミドルウェアを返す。
// ADMIN_ROLESが空の場合は認証のみを要求する。
func (s *Server) adminGate() []gin.HandlerFunc {
	gate := []gin.HandlerFunc{middleware.RequireAuth(s.verifier)}
	if len(s.cfg.AdminRoles) > 0 {
		gate = append(gate, middleware.RequireRole(s.cfg.AdminRoles...))
	}
	return gate
}

// handleRoot はAPIの案内を返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome to the starterkit API",
			"version": "1.0.0",
		})
	}
}

// handleHealth はヘルスチェックのハンドラを返す。
// ドキュメントストアへの疎通に失敗した場合も200を返し、statusで劣化を示す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		if err := s.docs.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("ドキュメントストアへの疎通に失敗", zap.Error(err))
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"timestamp": formatTime(s.now()),
			"env": gin.H{
				"appEnv": s.cfg.Env,
				"host":   s.cfg.Host,
				"port":   s.cfg.Port,
			},
		})
	}
}

// handleData はデモ用の固定データを返すハンドラを返す。
func (s *Server) handleData() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"items": []gin.H{
				{"id": 1, "name": "Item 1", "value": 100},
				{"id": 2, "name": "Item 2", "value": 200},
				{"id": 3, "name": "Item 3", "value": 300},
			},
		})
	}
}

// timeLayout はレスポンスの日時形式(UTC、ミリ秒精度)。
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
