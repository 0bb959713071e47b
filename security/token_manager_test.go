package security

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	apperrors "chatcal-cloud/common/errors"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

// fakeProvider is a stand-in OAuth token endpoint. Each test configures the
// response; calls are counted so refresh-exactly-once properties can be
// asserted.
type fakeProvider struct {
	server    *httptest.Server
	calls     int64
	status    int
	errorCode string
	token     map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		status: http.StatusOK,
		token: map[string]any{
			"access_token":  "fresh-access-token",
			"refresh_token": "fresh-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		},
	}

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if p.status != http.StatusOK {
			w.WriteHeader(p.status)
			json.NewEncoder(w).Encode(map[string]string{"error": p.errorCode})
			return
		}
		json.NewEncoder(w).Encode(p.token)
	}))
	t.Cleanup(p.server.Close)

	return p
}

func (p *fakeProvider) tokenCalls() int64 {
	return atomic.LoadInt64(&p.calls)
}

func newTestManager(t *testing.T, client *redis.Client, provider *fakeProvider) (*TokenManager, *CredentialStore) {
	t.Helper()

	store := NewCredentialStore(client)
	manager := NewTokenManager(client, store, OAuthSettings{
		ClientID:       "test-client-id",
		ClientSecret:   "test-client-secret",
		RedirectURL:    "http://localhost:8080/oauth/callback",
		InstallationID: "test-installation",
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.server.URL + "/auth",
			TokenURL: provider.server.URL + "/token",
		},
	})
	return manager, store
}

func TestTokenManager_BeginAuthorization(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, _ := newTestManager(t, client, provider)

	ctx := context.Background()

	authURL, state, err := manager.BeginAuthorization(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "client_id=test-client-id")
	assert.Contains(t, authURL, "state="+url.QueryEscape(state))
	assert.Contains(t, authURL, "access_type=offline")

	// Caller-supplied state is carried through verbatim.
	_, state2, err := manager.BeginAuthorization(ctx, "my-custom-state")
	require.NoError(t, err)
	assert.Equal(t, "my-custom-state", state2)
}

func TestTokenManager_CompleteAuthorization_RoundTrip(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()

	_, state, err := manager.BeginAuthorization(ctx, "")
	require.NoError(t, err)

	cred, err := manager.CompleteAuthorization(ctx, "auth-code-123", state)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", cred.AccessToken)
	assert.Equal(t, "fresh-refresh-token", cred.RefreshToken)
	assert.Equal(t, StatusActive, cred.Status)

	// The persisted document round-trips the token values.
	stored, err := store.Get(ctx, "test-installation")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, cred.AccessToken, stored.AccessToken)
	assert.Equal(t, cred.RefreshToken, stored.RefreshToken)
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestTokenManager_CompleteAuthorization_StateSingleUse(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, _ := newTestManager(t, client, provider)

	ctx := context.Background()

	_, state, err := manager.BeginAuthorization(ctx, "")
	require.NoError(t, err)

	_, err = manager.CompleteAuthorization(ctx, "auth-code-123", state)
	require.NoError(t, err)

	// Replaying the callback with the same state must fail, not double-apply.
	_, err = manager.CompleteAuthorization(ctx, "auth-code-123", state)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeAuthentication))
}

func TestTokenManager_CompleteAuthorization_UnknownState(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, _ := newTestManager(t, client, provider)

	_, err := manager.CompleteAuthorization(context.Background(), "auth-code-123", "never-issued")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeAuthentication))
	assert.Zero(t, provider.tokenCalls())
}

func TestTokenManager_GetValidCredential_FreshTokenSkipsRefresh(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "current-access-token",
		RefreshToken: "current-refresh-token",
		ExpiryDate:   time.Now().Add(time.Hour),
		Status:       StatusActive,
	}))

	cred, err := manager.GetValidCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "current-access-token", cred.AccessToken)
	assert.Zero(t, provider.tokenCalls(), "a credential outside the safety window must not trigger a refresh")
}

func TestTokenManager_GetValidCredential_WithinWindowRefreshesOnce(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "nearly-expired-token",
		RefreshToken: "current-refresh-token",
		ExpiryDate:   time.Now().Add(3 * time.Minute),
		Status:       StatusActive,
	}))

	cred, err := manager.GetValidCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", cred.AccessToken)
	assert.EqualValues(t, 1, provider.tokenCalls())

	// The refreshed credential is persisted.
	stored, err := store.Get(ctx, "test-installation")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", stored.AccessToken)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestTokenManager_GetValidCredential_Missing(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, _ := newTestManager(t, client, provider)

	_, err := manager.GetValidCredential(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotAuthorized))
}

func TestTokenManager_GetValidCredential_NoRefreshToken(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken: "access-without-refresh",
		ExpiryDate:  time.Now().Add(-time.Hour),
		Status:      StatusActive,
	}))

	_, err := manager.GetValidCredential(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotAuthorized))
	assert.Zero(t, provider.tokenCalls())
}

func TestTokenManager_Refresh_InvalidGrantRevokes(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	provider.status = http.StatusBadRequest
	provider.errorCode = "invalid_grant"
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "stale-access-token",
		RefreshToken: "revoked-refresh-token",
		ExpiryDate:   time.Now().Add(-time.Hour),
		Status:       StatusActive,
	}))

	_, err := manager.GetValidCredential(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeReauthorizationRequired))

	// The stored credential must report revoked, never valid, and serve no
	// stale tokens.
	status, err := manager.CheckTokenStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "revoked", status.Status)
	assert.False(t, status.HasRefreshToken)

	stored, err := store.Get(ctx, "test-installation")
	require.NoError(t, err)
	assert.Empty(t, stored.AccessToken)
	assert.Empty(t, stored.RefreshToken)
	assert.Equal(t, StatusRevoked, stored.Status)
}

func TestTokenManager_Refresh_InvalidClientIsConfiguration(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	provider.status = http.StatusUnauthorized
	provider.errorCode = "invalid_client"
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "stale-access-token",
		RefreshToken: "valid-refresh-token",
		ExpiryDate:   time.Now().Add(-time.Hour),
		Status:       StatusActive,
	}))

	_, err := manager.GetValidCredential(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))

	// Bad client credentials do not revoke the stored grant.
	stored, err := store.Get(ctx, "test-installation")
	require.NoError(t, err)
	assert.Equal(t, "valid-refresh-token", stored.RefreshToken)
}

func TestTokenManager_Refresh_ServerErrorIsTransient(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	provider.status = http.StatusServiceUnavailable
	provider.errorCode = "temporarily_unavailable"
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "stale-access-token",
		RefreshToken: "valid-refresh-token",
		ExpiryDate:   time.Now().Add(-time.Hour),
		Status:       StatusActive,
	}))

	_, err := manager.GetValidCredential(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))
}

func TestCheckTokenStatus(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()

	status, err := manager.CheckTokenStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not_found", status.Status)

	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiryDate:   time.Now().Add(time.Hour),
		Status:       StatusActive,
	}))

	status, err = manager.CheckTokenStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "valid", status.Status)
	assert.True(t, status.HasRefreshToken)
	require.NotNil(t, status.ExpiryDate)

	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiryDate:   time.Now().Add(2 * time.Minute),
		Status:       StatusActive,
	}))

	status, err = manager.CheckTokenStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "expired", status.Status, "inside the safety window counts as expired")
}

func TestCheckHealth(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	provider := newFakeProvider(t)
	manager, store := newTestManager(t, client, provider)

	ctx := context.Background()

	report, err := manager.CheckHealth(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasCredential)
	assert.Contains(t, report.Recommendation, "/oauth/auth")

	require.NoError(t, store.Save(ctx, "test-installation", &Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiryDate:   time.Now().Add(73 * time.Hour),
		Status:       StatusActive,
	}))

	report, err = manager.CheckHealth(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasCredential)
	assert.True(t, report.HasRefreshToken)
	assert.False(t, report.IsExpired)
	assert.Equal(t, 3, report.DaysUntilExpiry)
	assert.Equal(t, "credential healthy", report.Recommendation)

	// CheckHealth never mutates the stored credential.
	stored, err := store.Get(ctx, "test-installation")
	require.NoError(t, err)
	assert.Equal(t, "access-token", stored.AccessToken)
}
