package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/localauth"
	"github.com/nao1215/hrgate/internal/view"
	"github.com/nao1215/hrgate/pkg/metrics"
	"github.com/nao1215/hrgate/pkg/middleware"
	"github.com/nao1215/hrgate/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// sessionSweepInterval は期限切れセッションを削除する間隔。
const sessionSweepInterval = 10 * time.Minute

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server はhrgateのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// live は本番APIのGateway。
	live *Gateway
	// test はテスト環境APIのGateway。未設定の場合はnil。
	test *Gateway
	// sessions はセッションの読み込みと保存を行う。
	sessions *session.Manager
	// sessionStore は期限切れセッションの削除に使用する。
	sessionStore *session.Store
	// view はページを描画する。
	view *view.Renderer
	// registry はメトリクスのレジストリ。
	registry prometheus.Gatherer
	// logger はロガー。
	logger zerolog.Logger
}

// NewServer は新しいサーバーを生成する。
// dbはマイグレーション適用済みであること。
func NewServer(cfg *config.Config, db *sql.DB, logger zerolog.Logger) (*Server, error) {
	renderer, err := view.New("HR Dashboard")
	if err != nil {
		return nil, fmt.Errorf("ビューの初期化に失敗: %w", err)
	}

	registry, m := metrics.NewRegistry()
	live := New(Options{
		Name:            "live",
		BaseURL:         cfg.Upstream.BaseURL,
		Timeout:         cfg.Upstream.Timeout,
		ServiceEmail:    cfg.Upstream.ServiceEmail,
		ServicePassword: cfg.Upstream.ServicePassword,
		Keys:            LiveKeys,
		Users:           localauth.NewStore(db),
		Logger:          logger,
		Metrics:         m,
	})

	var test *Gateway
	if cfg.HasTestUpstream() {
		test = New(Options{
			Name:            "test",
			BaseURL:         cfg.Upstream.TestBaseURL,
			Timeout:         cfg.Upstream.Timeout,
			ServiceEmail:    cfg.Upstream.ServiceEmail,
			ServicePassword: cfg.Upstream.ServicePassword,
			Keys:            TestKeys,
			Logger:          logger,
			Metrics:         m,
		})
	}

	sessionStore := session.NewStore(db)
	sessions := session.NewManager(sessionStore, session.Options{
		Secret:   cfg.Session.Secret,
		Lifetime: cfg.Session.Lifetime,
		Secure:   cfg.Session.Secure,
	}, logger)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router:       router,
		port:         cfg.Port,
		live:         live,
		test:         test,
		sessions:     sessions,
		sessionStore: sessionStore,
		view:         renderer,
		registry:     registry,
		logger:       logger,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("hrgateを起動します")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("hrgateを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// sweepSessions は期限切れのセッションを定期的に削除する。
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessionStore.DeleteExpired(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("期限切れセッションの削除に失敗")
				continue
			}
			if n > 0 {
				s.logger.Debug().Int64("deleted", n).Msg("期限切れセッションを削除しました")
			}
		}
	}
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "hrgate"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))

	web := s.router.Group("")
	web.Use(s.sessions.Middleware())
	{
		web.GET("/", s.handleShowLogin())
		web.GET("/login", s.handleShowLogin())
		web.POST("/login", s.handleLogin())
		web.POST("/logout", s.handleLogout())
	}

	// ログイン必須
	auth := web.Group("")
	auth.Use(middleware.RequireSessionKey(LiveKeys.Token, "/login"))
	{
		auth.GET("/dashboard", s.handleDashboard())
		auth.GET("/offices", s.handleOfficesPage())

		auth.GET("/api-proxy/offices", s.handleListOffices())
		auth.GET("/api-proxy/employees/:officeUuid", s.handleOfficeEmployees())
		auth.GET("/api-proxy/permanent-employees", s.handlePermanentEmployees())

		auth.GET("/test-api/*endpoint", s.handleTestProxy())
	}
}
