// Пакет server — HTTP-сервер relay-bot: webhook, health, metrics,
// административный API. Graceful shutdown по отмене контекста.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/relay-bot/internal/api/handlers"
	"github.com/bigkaa/goartstore/relay-bot/internal/api/middleware"
)

// Routes — обработчики, монтируемые на роутер.
type Routes struct {
	Health *handlers.HealthHandler
	// Webhook — nil в режиме long polling
	Webhook http.Handler
	// Admin — nil, если административный API отключён
	Admin *handlers.AdminHandler
	// Auth — обязателен, если задан Admin
	Auth *middleware.JWTAuth
}

// Server — HTTP-сервер relay-bot.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewRouter собирает chi-роутер со всеми маршрутами.
func NewRouter(routes Routes, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", routes.Health.HealthLive)
	router.Get("/health/ready", routes.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	if routes.Webhook != nil {
		router.Method(http.MethodPost, "/telegram/webhook/{secret}", routes.Webhook)
	}

	if routes.Admin != nil && routes.Auth != nil {
		router.Route("/api/v1", func(r chi.Router) {
			r.Use(routes.Auth.Middleware())
			r.Use(middleware.RequireScope(middleware.AdminScope))

			r.Get("/stats", routes.Admin.GetStats)
			r.Get("/broadcasts", routes.Admin.ListBroadcasts)
			r.Get("/broadcasts/{id}", routes.Admin.GetBroadcast)
			r.Post("/broadcasts/{id}/cancel", routes.Admin.CancelBroadcast)
		})
	}

	return router
}

// New создаёт HTTP-сервер на указанном порту.
func New(port int, shutdownTimeout time.Duration, routes Routes, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(routes, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer:      srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(slog.String("component", "http")),
	}
}

// Run запускает сервер и блокируется до отмены ctx или ошибки
// сервера. После отмены ctx выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown HTTP-сервера...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
