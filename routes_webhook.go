package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"chatcal-cloud/line"
	"chatcal-cloud/webhook"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

type webhookHandler struct {
	channelSecret string
	dispatcher    *webhook.Dispatcher
}

func registerWebhookRoutes(r *mux.Router, channelSecret string, dispatcher *webhook.Dispatcher) {
	h := &webhookHandler{channelSecret: channelSecret, dispatcher: dispatcher}
	r.HandleFunc("/webhook", h.handlePost).Methods("POST")
	r.HandleFunc("/webhook", h.handleGet).Methods("GET")
}

// handlePost processes an inbound webhook batch. The platform retries
// non-200 responses, so the response is 200 no matter what happened while
// processing: bad signatures and failed events are logged, never surfaced as
// HTTP errors.
func (h *webhookHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("webhook: failed to read body: %v", err)
		writeWebhookAck(w, map[string]any{"ok": false, "reason": "unreadable body"})
		return
	}

	// Signature check runs on the raw body, before any parsing.
	if !line.ValidateSignature(h.channelSecret, body, r.Header.Get(line.SignatureHeader)) {
		log.Printf("webhook: signature validation failed, dropping batch")
		writeWebhookAck(w, map[string]any{"ok": false, "reason": "signature mismatch"})
		return
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Printf("webhook: failed to decode body: %v", err)
		writeWebhookAck(w, map[string]any{"ok": false, "reason": "malformed body"})
		return
	}

	// An empty batch with a valid signature is the platform's verification
	// ping.
	if len(req.Events) == 0 {
		writeWebhookAck(w, map[string]any{"ok": true, "received": 0})
		return
	}

	summary := h.dispatcher.Dispatch(r.Context(), req.Events)
	log.Printf("webhook: batch processed: received=%d succeeded=%d failed=%d ignored=%d",
		summary.Received, summary.Succeeded, summary.Failed, summary.Ignored)

	writeWebhookAck(w, map[string]any{"ok": true, "summary": summary})
}

// handleGet serves a small info page so a browser hit on the webhook URL
// shows the deployment is alive.
func (h *webhookHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":   "chatcal-cloud",
		"version":   VERSION,
		"webhook":   "POST /webhook",
		"signature": line.SignatureHeader,
	})
}

func writeWebhookAck(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("webhook: failed to write ack: %v", err)
	}
}
