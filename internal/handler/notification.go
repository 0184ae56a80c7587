package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/menolisa/billing/internal/store"
)

type NotificationHandler struct {
	notifications *store.NotificationStore
	logger        *slog.Logger
}

func NewNotificationHandler(ns *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: ns, logger: logger}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := h.notifications.ListByAccount(accountID, limit)
	if err != nil {
		h.logger.Error("list notifications", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if rows == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())

	count, err := h.notifications.UnreadCount(accountID)
	if err != nil {
		h.logger.Error("unread count", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())

	if err := h.notifications.MarkAllRead(accountID, time.Now().UTC()); err != nil {
		h.logger.Error("mark notifications read", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
