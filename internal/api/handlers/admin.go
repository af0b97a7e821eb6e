// admin.go — административный API: статистика и управление рассылками.
// Доступ защищён JWT (scope relay:admin), см. middleware.JWTAuth.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/relay-bot/internal/api/errors"
	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
)

// StatsSource — источники статистики.
type StatsSource interface {
	SessionUploads() int64
}

// Counter — размер множества (реестр пользователей, список банов).
type Counter interface {
	Count() int
}

// BroadcastControl — управление рассылками.
type BroadcastControl interface {
	Get(runID string) (model.BroadcastOutcome, bool)
	List() []model.BroadcastOutcome
	Cancel(runID string) bool
}

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	stats      StatsSource
	users      Counter
	bans       Counter
	broadcasts BroadcastControl
}

// NewAdminHandler создаёт обработчик административных endpoints.
func NewAdminHandler(stats StatsSource, users, bans Counter, broadcasts BroadcastControl) *AdminHandler {
	return &AdminHandler{
		stats:      stats,
		users:      users,
		bans:       bans,
		broadcasts: broadcasts,
	}
}

// StatsResponse — ответ GET /api/v1/stats.
type StatsResponse struct {
	SessionUploads int64 `json:"session_uploads"`
	KnownUsers     int   `json:"known_users"`
	BannedUsers    int   `json:"banned_users"`
	ActiveRuns     int   `json:"active_broadcasts"`
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	active := 0
	for _, run := range h.broadcasts.List() {
		if run.Running {
			active++
		}
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		SessionUploads: h.stats.SessionUploads(),
		KnownUsers:     h.users.Count(),
		BannedUsers:    h.bans.Count(),
		ActiveRuns:     active,
	})
}

// ListBroadcasts обрабатывает GET /api/v1/broadcasts.
func (h *AdminHandler) ListBroadcasts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": h.broadcasts.List(),
	})
}

// GetBroadcast обрабатывает GET /api/v1/broadcasts/{id}.
func (h *AdminHandler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, ok := h.broadcasts.Get(runID)
	if !ok {
		apierrors.NotFound(w, "Рассылка не найдена: "+runID)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelBroadcast обрабатывает POST /api/v1/broadcasts/{id}/cancel.
// Завершённая рассылка — 409.
func (h *AdminHandler) CancelBroadcast(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, ok := h.broadcasts.Get(runID); !ok {
		apierrors.NotFound(w, "Рассылка не найдена: "+runID)
		return
	}
	if !h.broadcasts.Cancel(runID) {
		apierrors.Conflict(w, "Рассылка уже завершена")
		return
	}

	run, _ := h.broadcasts.Get(runID)
	writeJSON(w, http.StatusAccepted, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
