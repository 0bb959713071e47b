package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "chatcal-cloud/common/errors"
	"chatcal-cloud/security"
)

type oauthHandler struct {
	tokens *security.TokenManager
}

func registerOAuthRoutes(r *mux.Router, tokens *security.TokenManager) {
	h := &oauthHandler{tokens: tokens}
	r.HandleFunc("/oauth/auth", h.handleAuth).Methods("GET")
	r.HandleFunc("/oauth/callback", h.handleCallback).Methods("GET", "POST")
	r.HandleFunc("/oauth/status", h.handleStatus).Methods("GET")
	r.HandleFunc("/oauth/health", h.handleHealth).Methods("GET")
}

func (h *oauthHandler) handleAuth(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.tokens.BeginAuthorization(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth_url":        authURL,
		"state":           state,
		"installation_id": h.tokens.InstallationID(),
		"instructions": []string{
			"1. Visit the auth_url above in your browser",
			"2. Approve calendar access for the relay's Google account",
			"3. You will be redirected to /oauth/callback which stores the credential",
			"4. Check /oauth/status to confirm the credential is active",
		},
	})
}

func (h *oauthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" && r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			code = r.PostFormValue("code")
			state = r.PostFormValue("state")
		}
	}

	// The provider reports consent denials via an error query parameter.
	if provErr := r.URL.Query().Get("error"); provErr != "" {
		writeOAuthError(w, apperrors.NotAuthorizedError("authorization was not granted: "+provErr))
		return
	}

	cred, err := h.tokens.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	log.Printf("oauth: credential stored for installation %s, expires %s",
		h.tokens.InstallationID(), cred.ExpiryDate.Format("2006-01-02 15:04:05 MST"))

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"status":            string(cred.Status),
		"expiry_date":       cred.ExpiryDate,
		"has_refresh_token": cred.HasRefreshToken(),
		"scope":             cred.Scope,
	})
}

func (h *oauthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tokens.CheckTokenStatus(r.Context())
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *oauthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.tokens.CheckHealth(r.Context())
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeOAuthError renders an error as structured JSON with its category and
// a remediation hint instead of a bare 500.
func writeOAuthError(w http.ResponseWriter, err error) {
	category := apperrors.GetType(err)

	status := http.StatusInternalServerError
	hint := "unexpected failure; check the server logs"
	switch category {
	case apperrors.ErrTypeAuthentication:
		status = http.StatusBadRequest
		hint = "the state parameter is missing, expired or already used; restart the flow at /oauth/auth"
	case apperrors.ErrTypeNotAuthorized, apperrors.ErrTypeReauthorizationRequired:
		status = http.StatusUnauthorized
		hint = "complete the authorization flow again starting at /oauth/auth"
	case apperrors.ErrTypeConfiguration:
		status = http.StatusInternalServerError
		hint = "check GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and OAUTH_REDIRECT_URL against the provider console"
	case apperrors.ErrTypeTransientProvider:
		status = http.StatusBadGateway
		hint = "the provider is temporarily unavailable; retry in a few minutes"
	}

	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	writeJSON(w, status, map[string]any{
		"ok":       false,
		"category": string(category),
		"error":    message,
		"hint":     hint,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
