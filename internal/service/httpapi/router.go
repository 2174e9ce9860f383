package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
)

// CORSOptions: настройки CORS для браузерных клиентов.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSOptions разрешает методы и заголовки, которыми пользуется API.
func DefaultCORSOptions() CORSOptions {
	return CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderIdempotencyKey},
		ExposedHeaders: []string{"Location", HeaderIdempotentReplayed},
		MaxAge:         300,
	}
}

// NewRouter собирает chi-роутер API заказов.
func NewRouter(h *Handler, corsOpts CORSOptions) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(h.logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   corsOpts.AllowedOrigins,
		AllowedMethods:   corsOpts.AllowedMethods,
		AllowedHeaders:   corsOpts.AllowedHeaders,
		ExposedHeaders:   corsOpts.ExposedHeaders,
		AllowCredentials: corsOpts.AllowCredentials,
		MaxAge:           corsOpts.MaxAge,
	}).Handler)

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, newProblem(http.StatusNotFound, "Resource not found"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, newProblem(http.StatusMethodNotAllowed, "Method not allowed"))
	})

	router.Route("/api/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Route("/{id:[0-9]+}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Put("/", h.updateOrder)
			r.Delete("/", h.deleteOrder)
			r.Patch("/status", h.updateOrderStatus)
		})
	})

	return router
}

// requestLogger пишет строку access-лога на каждый запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
