package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chatcal-cloud/calendar"
	"chatcal-cloud/streams"
)

type opsHandler struct {
	eventLog *streams.EventLog
	gateway  *calendar.Gateway
}

func registerOpsRoutes(r *mux.Router, eventLog *streams.EventLog, gateway *calendar.Gateway) {
	h := &opsHandler{eventLog: eventLog, gateway: gateway}
	r.HandleFunc("/ops/events", h.handleRecent).Methods("GET")
	r.HandleFunc("/ops/events/live", h.handleLive).Methods("GET")
	r.HandleFunc("/ops/schedule", h.handleSchedule).Methods("GET")
}

// handleRecent returns the newest processed-event audit entries.
func (h *opsHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	count := int64(50)
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = parsed
	}

	entries, err := h.eventLog.Recent(r.Context(), count)
	if err != nil {
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

var opsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Output-only operator surface.
		return true
	},
}

// handleLive streams audit entries to a websocket client as events are
// processed. An optional after query parameter resumes from a stream ID.
func (h *opsHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	lastID := strings.TrimSpace(r.URL.Query().Get("after"))

	conn, err := opsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()

	for {
		entries, nextID, err := h.eventLog.Tail(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		lastID = nextID
		for _, entry := range entries {
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}

// handleSchedule lists the calendar's events for one day (default today in
// the gateway's time zone).
func (h *opsHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	day := time.Now().In(h.gateway.Location())
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.gateway.Location())
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	events, err := h.gateway.EventsOn(r.Context(), day)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":   day.Format("2006-01-02"),
		"events": events,
	})
}
