package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsrelay/internal/metrics"
	"github.com/hitoshi/newsrelay/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス
	Gatherer prometheus.Gatherer

	// ステータスAPI
	Queue        QueueInspector
	Ledger       PublishedLister
	Pipeline     PipelineInspector
	Deduplicator DedupInspector
}

// NewRouter はステータスAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → RateLimit（/api/* のみ）
//
// /health と /metrics は監視系から高頻度に呼ばれるためレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	statusHandler := NewStatusHandler(deps.Queue, deps.Ledger, deps.Pipeline, deps.Deduplicator, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/queue", statusHandler.Queue)
		r.Get("/published", statusHandler.Published)
		r.Get("/stats", statusHandler.Stats)
	})

	return r
}
