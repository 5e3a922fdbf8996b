package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fraternitybase/engagement/internal/metrics"
	"github.com/fraternitybase/engagement/internal/middleware"
	"github.com/fraternitybase/engagement/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// 分析
	AnalysisService AnalysisServiceInterface
	Sanitizer       *security.CaptionSanitizer
	TopLimit        int

	// メトリクス（nilの場合は/metricsを公開しない）
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → CORS → SecurityHeaders → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	analysisHandler := NewAnalysisHandler(deps.AnalysisService, deps.Sanitizer, deps.TopLimit)

	// --- 監視用ルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/opportunities", analysisHandler.ListOpportunities)

		// 書き込みを伴う分析は専用レート制限を追加
		r.Group(func(r chi.Router) {
			r.Use(rl.AnalysisMiddleware())

			r.Post("/api/posts/{id}/analyze", analysisHandler.AnalyzePost)
			r.Post("/api/chapters/{id}/analyze", analysisHandler.AnalyzeChapter)
			r.Post("/api/analysis/recent", analysisHandler.AnalyzeRecent)
			r.Post("/api/engagement/recalculate", analysisHandler.RecalculateEngagement)
		})
	})

	return r
}
