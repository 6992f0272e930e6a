package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rickgao/repairlink/internal/archive"
	"github.com/rickgao/repairlink/internal/connection"
	"github.com/rickgao/repairlink/internal/model"
)

// notificationService is the part of realtime.Service the status server uses.
type notificationService interface {
	GetConnectionStatus() connection.Status
	GetNotifications() []model.Notification
	GetUnreadCount() int
	MarkAsRead(id string) bool
	MarkAllAsRead()
}

// archiveStats is satisfied by *archive.Writer.
type archiveStats interface {
	Stats() archive.Metrics
}

// createStatusHandler serves health and notification log endpoints on a local address.
// archiver may be nil when archiving is disabled.
func createStatusHandler(svc notificationService, archiver archiveStats, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		st := svc.GetConnectionStatus()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["connection"] = st
		switch {
		case st.Connected:
		case st.State == connection.StateDisconnected && !st.ReconnectPending:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		health.Components["notifications"] = map[string]int{
			"unread": svc.GetUnreadCount(),
			"total":  len(svc.GetNotifications()),
		}
		if archiver != nil {
			health.Components["archive"] = archiver.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("GET /notifications", func(w http.ResponseWriter, r *http.Request) {
		all := svc.GetNotifications()
		showing := all
		if s := r.URL.Query().Get("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil || limit < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if limit < len(showing) {
				showing = showing[:limit]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":         len(all),
			"unread":        svc.GetUnreadCount(),
			"notifications": showing,
		})
	})

	mux.HandleFunc("POST /notifications/read", func(w http.ResponseWriter, r *http.Request) {
		svc.MarkAllAsRead()
		logger.Debug("marked all notifications read via status server")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		if !svc.MarkAsRead(r.PathValue("id")) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}
