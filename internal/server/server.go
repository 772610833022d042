package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sngm3741/emaily/api/internal/config"
	"github.com/sngm3741/emaily/api/internal/infrastructure/mailer"
	mongodoc "github.com/sngm3741/emaily/api/internal/infrastructure/mongo"
	apihttp "github.com/sngm3741/emaily/api/internal/interfaces/http/api"
	commonhttp "github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/metrics"
	"github.com/sngm3741/emaily/api/internal/survey/application"
)

// Server は HTTP サーバーのライフサイクルを管理し、各ハンドラへ依存注入するコンポジションルート。
type Server struct {
	logger         *log.Logger
	client         *mongo.Client
	database       *mongo.Database
	collections    mongodoc.Collections
	metrics        *metrics.Metrics
	surveyService  *application.SurveyService
	webhooks       application.WebhookProcessor
	accountService application.AccountService
	jwtConfigs     []config.JWTConfig
	jwtAudience    string
	billingSecret  []byte
	addr           string
	allowedOrigins []string
}

// Run は HTTP サーバーを起動し、ルーティングやミドルウェアを組み立てる。
func (s *Server) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mongodoc.EnsureIndexes(ctx, s.database, s.collections); err != nil {
		s.logger.Printf("インデックスの作成に失敗しました: %v", err)
	}
	cancel()

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP サーバー起動: http://%s", s.addr)
		errChan <- httpServer.ListenAndServe()
	}()

	waitForShutdown(httpServer, errChan, s)
	return nil
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(s.metrics.Middleware)
	router.Use(withCORS(s.allowedOrigins))

	router.Get("/healthz", s.healthHandler())
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	apiHandler := apihttp.NewHandler(apihttp.Config{
		Logger:         s.logger,
		SurveyCommands: s.surveyService,
		SurveyQueries:  s.surveyService,
		Webhooks:       s.webhooks,
		Accounts:       s.accountService,
		BillingSecret:  s.billingSecret,
	})
	apiHandler.Register(router, s.authMiddleware)

	return router
}

// withCORS は許可されたオリジン情報をもとに CORS ヘッダーを付与するミドルウェアを返す。
func withCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	allowAll := false
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || (!allowAll && !originAllowed(origin, allowed)) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed map[string]struct{}) bool {
	_, ok := allowed[origin]
	return ok
}

// healthHandler は MongoDB への疎通確認を行い、監視系からのヘルスチェック要求に応える。
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
			commonhttp.WriteJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}

		commonhttp.WriteJSON(s.logger, w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// shutdown は MongoDB クライアントをタイムアウト付きで切断する。
func (s *Server) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(shutdownCtx); err != nil {
		s.logger.Printf("MongoDB 切断時にエラー: %v", err)
	}
}

// waitForShutdown は ListenAndServe の終了と OS シグナルを監視し、graceful shutdown を実現する。
// 処理中の webhook バッチは Shutdown の待機中に完了する。
func waitForShutdown(httpServer *http.Server, errChan <-chan error, srv *Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Fatalf("サーバーが異常終了: %v", err)
		}
	case sig := <-sigChan:
		srv.logger.Printf("シグナル %s を受信。サーバー停止処理を開始します。", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			srv.logger.Printf("サーバー停止時にエラー: %v", err)
		}
	}

	srv.shutdown(context.Background())
}

// New は Config と Mongo クライアントを受け取り、リポジトリ・配信ドライバ・
// アプリケーションサービスを組み立てた Server を返す。
func New(cfg config.Config, client *mongo.Client) *Server {
	database := client.Database(cfg.MongoDatabase)
	m := metrics.New()

	surveyRepo := mongodoc.NewSurveyRepository(database, cfg.SurveyCollection)
	accountRepo := mongodoc.NewAccountRepository(database, cfg.AccountCollection)
	reconciliationRepo := mongodoc.NewReconciliationRepository(database, cfg.ReconciliationCollection)
	paymentRepo := mongodoc.NewPaymentRepository(database, cfg.PaymentCollection)

	if len(cfg.BillingWebhookSecret) == 0 {
		cfg.ServerLog.Printf("BILLING_WEBHOOK_SECRET が未設定のため決済通知はすべて拒否されます")
	}

	return &Server{
		logger:   cfg.ServerLog,
		client:   client,
		database: database,
		collections: mongodoc.Collections{
			Accounts:        cfg.AccountCollection,
			Surveys:         cfg.SurveyCollection,
			Reconciliations: cfg.ReconciliationCollection,
			Payments:        cfg.PaymentCollection,
		},
		metrics: m,
		surveyService: application.NewSurveyService(application.SurveyServiceConfig{
			Surveys:         surveyRepo,
			Ledger:          accountRepo,
			Reconciliations: reconciliationRepo,
			Dispatcher:      newDispatcher(cfg),
			Renderer:        mailer.NewTemplateRenderer(cfg.RedirectBaseURL),
			DispatchTimeout: cfg.DispatchTimeout,
			Logger:          cfg.ServerLog,
			Observer:        m,
		}),
		webhooks: application.NewResponseIngester(application.WebhookProcessorConfig{
			Surveys:      surveyRepo,
			Concurrency:  cfg.WebhookConcurrency,
			StoreTimeout: cfg.StoreTimeout,
			Logger:       cfg.ServerLog,
			Observer:     m,
		}),
		accountService: application.NewAccountService(application.AccountServiceConfig{
			Accounts:       accountRepo,
			Payments:       paymentRepo,
			InitialCredits: cfg.DefaultCredits,
			Logger:         cfg.ServerLog,
		}),
		jwtConfigs:     append([]config.JWTConfig(nil), cfg.JWTConfigs...),
		jwtAudience:    cfg.JWTAudience,
		billingSecret:  cfg.BillingWebhookSecret,
		addr:           cfg.Addr,
		allowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
	}
}

// newDispatcher は DISPATCH_DRIVER に応じた配信ドライバを返す。
func newDispatcher(cfg config.Config) application.Dispatcher {
	switch cfg.DispatchDriver {
	case config.DispatchDriverSMTP:
		return mailer.NewSMTPClient(mailer.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Logger:   cfg.ServerLog,
		})
	default:
		return mailer.NewSendGridClient(mailer.SendGridConfig{
			BaseURL:    cfg.SendGridAPIURL,
			APIKey:     cfg.SendGridAPIKey,
			From:       cfg.MailFrom,
			HTTPClient: &http.Client{Timeout: cfg.DispatchTimeout},
			Logger:     cfg.ServerLog,
		})
	}
}
