package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/creatorpulse/internal/metrics"
	"github.com/hitoshi/creatorpulse/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	APIToken          string
	RateLimiter       *middleware.RateLimiter

	// メトリクス
	Gatherer prometheus.Gatherer

	// サービス依存
	Pipeline          PipelineRunner
	NewsletterContent NewsletterContentUpdater
	Scheduler         JobScheduler
	Resolver          FetcherResolver
	Mailer            Mailer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS →（/api配下のみ）Auth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	draftHandler := NewDraftHandler(deps.Pipeline, deps.NewsletterContent, deps.Logger)
	sendHandler := NewSendHandler(deps.Scheduler, deps.Logger)
	sourceHandler := NewSourceHandler(deps.Resolver, deps.Logger)
	mailHandler := NewMailHandler(deps.Mailer, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ドラフト生成（LLM呼び出しを伴うため専用レート制限を追加）
		r.With(deps.RateLimiter.DraftGenerationMiddleware()).
			Post("/api/generate-draft", draftHandler.GenerateDraft)

		// ニュースレター送信
		r.Post("/api/send-newsletter", sendHandler.SendNewsletter)
		r.Post("/api/send-jobs/{id}/execute", sendHandler.ExecuteJob)

		// ソースプレビュー
		r.Get("/api/sources/{type}/preview", sourceHandler.Preview)

		// SMTP設定確認
		r.Post("/api/test-email", mailHandler.TestEmail)
	})

	return r
}

// HealthCheck はヘルスチェックエンドポイントを処理する。
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
