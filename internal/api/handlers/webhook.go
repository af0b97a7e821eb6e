// webhook.go — приём обновлений платформы в режиме webhook.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apierrors "github.com/bigkaa/goartstore/relay-bot/internal/api/errors"
)

// maxUpdateSize — предельный размер тела обновления.
const maxUpdateSize = 1 << 20

// enqueueTimeout — сколько запрос ждёт места в очереди обработки.
const enqueueTimeout = 5 * time.Second

// UpdateQueue — очередь обработки обновлений.
type UpdateQueue interface {
	Enqueue(ctx context.Context, u tgbotapi.Update) bool
}

// WebhookHandler обрабатывает POST /telegram/webhook/{secret}.
type WebhookHandler struct {
	secret string
	queue  UpdateQueue
	logger *slog.Logger
}

// NewWebhookHandler создаёт обработчик webhook.
func NewWebhookHandler(secret string, queue UpdateQueue, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		queue:  queue,
		logger: logger.With(slog.String("component", "webhook")),
	}
}

// ServeHTTP ставит обновление в очередь и всегда отвечает 200:
// иначе платформа будет повторять доставку некорректного обновления.
// Неверный секрет — 401.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.secret)) != 1 {
		apierrors.Unauthorized(w, "Неверный секрет webhook")
		return
	}

	var u tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
		h.logger.Warn("Некорректное тело обновления",
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if !h.queue.Enqueue(ctx, u) {
		h.logger.Debug("Обновление не поставлено в очередь", slog.Int("update_id", u.UpdateID))
	}

	w.WriteHeader(http.StatusOK)
}
