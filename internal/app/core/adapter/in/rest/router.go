package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter 建立 REST 路由
// gatherer 不為 nil 時掛上 /metrics
func NewRouter(h *Handler, logger *zap.Logger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders: []string{ReplayedHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.CreateWallet)
			r.Post("/transfer", h.Transfer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.Get("/balance", h.GetBalance)
				r.Get("/reconcile", h.Reconcile)
				r.Patch("/status", h.SetStatus)
				r.Post("/credit", h.Credit)
				r.Post("/debit", h.Debit)
			})
		})
		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Get("/", h.GetTransaction)
			r.Post("/refund", h.Refund)
		})
	})
	return r
}

// LoggerMiddleware 以 zap 記錄每個請求
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
