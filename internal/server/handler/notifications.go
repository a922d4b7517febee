package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/eventmarket/internal/service"
)

// Replayer reads recorded notifications back.
type Replayer interface {
	Replay(ctx context.Context, streamID string, limit int) ([]service.StreamedNotification, error)
}

// NotificationHandler lets clients catch up on notifications they missed.
type NotificationHandler struct {
	replayer Replayer
	logger   *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(replayer Replayer, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{replayer: replayer, logger: logger}
}

// ListNotifications returns notifications recorded after a stream position.
// GET /api/notifications?after=<stream id>&limit=100
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	out, err := h.replayer.Replay(r.Context(), q.Get("after"), limit)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}
