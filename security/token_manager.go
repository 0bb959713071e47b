package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	goerrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	apperrors "chatcal-cloud/common/errors"
)

// Calendar scopes requested during authorization: read events, manage events.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

const (
	// refreshSafetyWindow is the lead time before expiry at which a
	// credential is proactively refreshed.
	refreshSafetyWindow = 5 * time.Minute

	// stateTTL bounds how long an authorization attempt may stay pending.
	stateTTL = 10 * time.Minute

	// providerTimeout bounds each outbound call to the OAuth provider.
	providerTimeout = 10 * time.Second
)

// Now is replaceable in tests.
var Now = time.Now

// OAuthSettings configures the provider client used by the token manager.
type OAuthSettings struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	InstallationID string
	// Endpoint overrides the Google OAuth endpoint, used by tests.
	Endpoint oauth2.Endpoint
}

// TokenManager owns the credential's state machine: absent -> active ->
// expiring -> refreshing -> active, or refreshing -> revoked on a revoked
// grant. It classifies provider errors once, at this boundary.
type TokenManager struct {
	store          *CredentialStore
	redisClient    *redis.Client
	config         *oauth2.Config
	installationID string
}

// NewTokenManager creates a token manager for one installation.
func NewTokenManager(redisClient *redis.Client, store *CredentialStore, settings OAuthSettings) *TokenManager {
	endpoint := settings.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	config := &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURL,
		Scopes:       CalendarScopes,
		Endpoint:     endpoint,
	}

	installationID := settings.InstallationID
	if installationID == "" {
		installationID = "default"
	}

	return &TokenManager{
		store:          store,
		redisClient:    redisClient,
		config:         config,
		installationID: installationID,
	}
}

// InstallationID returns the installation this manager serves.
func (m *TokenManager) InstallationID() string {
	return m.installationID
}

func stateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}

// BeginAuthorization constructs the provider consent URL. When state is
// empty a random anti-CSRF state token is generated. The state is recorded
// with a short TTL so the callback can verify it; the credential document
// itself is not touched.
func (m *TokenManager) BeginAuthorization(ctx context.Context, state string) (string, string, error) {
	if state == "" {
		stateBytes := make([]byte, 32)
		if _, err := rand.Read(stateBytes); err != nil {
			return "", "", apperrors.InternalError("failed to generate state", err)
		}
		state = base64.URLEncoding.EncodeToString(stateBytes)
	}

	if err := m.redisClient.Set(ctx, stateKey(state), m.installationID, stateTTL).Err(); err != nil {
		return "", "", apperrors.InternalError("failed to store OAuth state", err)
	}

	authURL := m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return authURL, state, nil
}

// CompleteAuthorization exchanges an authorization code for tokens and
// persists the resulting credential. The state token is consumed on first
// use, so retrying the call with the same code fails instead of
// double-applying (the provider additionally enforces single-use codes).
func (m *TokenManager) CompleteAuthorization(ctx context.Context, code, state string) (*Credential, error) {
	if code == "" {
		return nil, apperrors.NotAuthorizedError("authorization code is required")
	}
	if state == "" {
		return nil, apperrors.AuthenticationError("state parameter is required")
	}

	stored, err := m.redisClient.GetDel(ctx, stateKey(state)).Result()
	if err == redis.Nil {
		return nil, apperrors.AuthenticationError("invalid or expired state parameter")
	} else if err != nil {
		return nil, apperrors.InternalError("failed to verify OAuth state", err)
	}
	if stored != m.installationID {
		return nil, apperrors.AuthenticationError("state parameter installation mismatch")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	token, err := m.config.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, m.classifyExchangeError(err)
	}

	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiryDate:   token.Expiry,
		Scope:        m.config.Scopes,
		Status:       StatusActive,
	}

	if err := m.store.Save(ctx, m.installationID, cred); err != nil {
		return nil, apperrors.InternalError("failed to persist credential", err)
	}

	log.Printf("Completed authorization for installation %s (refresh token: %t)",
		m.installationID, cred.HasRefreshToken())
	return cred, nil
}

// GetValidCredential returns a credential guaranteed to be outside the
// safety window of expiry, transparently refreshing when needed. A single
// refresh attempt is made per call; cross-call retry belongs to the caller.
func (m *TokenManager) GetValidCredential(ctx context.Context) (*Credential, error) {
	cred, err := m.store.Get(ctx, m.installationID)
	if err != nil {
		return nil, apperrors.InternalError("failed to read credential", err)
	}
	if cred == nil {
		return nil, apperrors.NotAuthorizedError("no credential stored; complete authorization first")
	}
	if cred.Status == StatusRevoked {
		return nil, apperrors.NotAuthorizedError("credential was revoked; reauthorization required")
	}
	if !cred.HasRefreshToken() {
		return nil, apperrors.NotAuthorizedError("credential has no refresh token; reauthorization required")
	}

	if !needsRefresh(cred) {
		return cred, nil
	}

	log.Printf("Credential for installation %s is within the refresh window, refreshing", m.installationID)
	return m.Refresh(ctx, cred)
}

// needsRefresh treats a credential as expiring when now plus the safety
// window reaches its expiry. An unknown expiry always refreshes.
func needsRefresh(cred *Credential) bool {
	if cred.ExpiryDate.IsZero() {
		return true
	}
	return !cred.ExpiryDate.After(Now().Add(refreshSafetyWindow))
}

// Refresh exchanges the refresh token for a new access token and persists
// the result. An invalid_grant response clears the stored credential and is
// terminal: callers must not retry without new end-user consent.
func (m *TokenManager) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if !cred.HasRefreshToken() {
		return nil, apperrors.NotAuthorizedError("credential has no refresh token; reauthorization required")
	}

	refreshCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	// Hand the token source an already-expired token so it performs the
	// refresh instead of returning the cached access token.
	stale := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       Now().Add(-time.Minute),
	}

	newToken, err := m.config.TokenSource(refreshCtx, stale).Token()
	if err != nil {
		return nil, m.classifyRefreshError(ctx, err)
	}

	refreshed := &Credential{
		AccessToken:  newToken.AccessToken,
		RefreshToken: newToken.RefreshToken,
		ExpiryDate:   newToken.Expiry,
		Scope:        cred.Scope,
		Status:       StatusActive,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	if err := m.store.Save(ctx, m.installationID, refreshed); err != nil {
		return nil, apperrors.InternalError("failed to persist refreshed credential", err)
	}

	log.Printf("Refreshed calendar credential for installation %s", m.installationID)
	return refreshed, nil
}

// classifyRefreshError maps a refresh failure into the error taxonomy and
// applies the state transition for revoked grants.
func (m *TokenManager) classifyRefreshError(ctx context.Context, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if goerrors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant":
			if revokeErr := m.store.MarkRevoked(ctx, m.installationID); revokeErr != nil {
				log.Printf("Failed to mark credential revoked: %v", revokeErr)
			}
			return apperrors.ReauthorizationRequiredError(
				"refresh token was revoked; end-user must reauthorize", err).WithCode(retrieveErr.ErrorCode)
		case "invalid_client", "invalid_request", "unauthorized_client":
			return apperrors.ConfigurationError(
				"OAuth client configuration rejected by provider", err).WithCode(retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return apperrors.TransientProviderError("token endpoint returned a server error", err)
		}
		return apperrors.ConfigurationError("token refresh rejected by provider", err).WithCode(retrieveErr.ErrorCode)
	}

	// No provider response at all: timeouts, DNS failures, resets.
	return apperrors.TransientProviderError("token endpoint unreachable", err)
}

// classifyExchangeError maps an authorization-code exchange failure.
// invalid_grant here means a bad, expired, or already-used code, not a
// revoked refresh token, so no stored state is cleared.
func (m *TokenManager) classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if goerrors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant":
			return apperrors.NotAuthorizedError(
				"authorization code rejected: codes are single-use and expire quickly").WithCode(retrieveErr.ErrorCode)
		case "invalid_client", "invalid_request", "unauthorized_client":
			return apperrors.ConfigurationError(
				"OAuth client configuration rejected by provider", err).WithCode(retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return apperrors.TransientProviderError("token endpoint returned a server error", err)
		}
		return apperrors.ConfigurationError("code exchange rejected by provider", err).WithCode(retrieveErr.ErrorCode)
	}

	return apperrors.TransientProviderError("token endpoint unreachable", err)
}
