// metrics.go — Prometheus HTTP метрики relay-bot.
// Регистрирует метрики: rb_http_requests_total, rb_http_request_duration_seconds.
// Метрики бота (rb_uploads_total, rb_broadcast_* и др.) регистрируются
// в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rb_http_requests_total",
			Help: "Общее количество HTTP-запросов к relay-bot",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rb_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к relay-bot в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := NormalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

const (
	webhookPrefix    = "/telegram/webhook/"
	broadcastsPrefix = "/api/v1/broadcasts/"
)

// NormalizePath заменяет переменные сегменты пути шаблонами.
// Секрет webhook не должен попадать ни в метки метрик, ни в логи.
//
//	/telegram/webhook/s3cr3t          → /telegram/webhook/{secret}
//	/api/v1/broadcasts/<uuid>/cancel  → /api/v1/broadcasts/{id}/cancel
func NormalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, webhookPrefix):
		return webhookPrefix + "{secret}"
	case strings.HasPrefix(path, broadcastsPrefix) && len(path) > len(broadcastsPrefix):
		rest := path[len(broadcastsPrefix):]
		if strings.HasSuffix(rest, "/cancel") {
			return broadcastsPrefix + "{id}/cancel"
		}
		return broadcastsPrefix + "{id}"
	}
	return path
}
