package security

import (
	"context"
	"time"

	apperrors "chatcal-cloud/common/errors"
)

// TokenStatus is the read-only view served by the status endpoint.
type TokenStatus struct {
	Status          string     `json:"status"` // not_found | valid | expired | revoked
	HasRefreshToken bool       `json:"hasRefreshToken"`
	ExpiryDate      *time.Time `json:"expiryDate,omitempty"`
}

// HealthReport is the diagnostic view served by the token health endpoint.
type HealthReport struct {
	HasCredential   bool   `json:"hasCredential"`
	HasRefreshToken bool   `json:"hasRefreshToken"`
	IsExpired       bool   `json:"isExpired"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	Recommendation  string `json:"recommendation"`
}

// CheckTokenStatus reports the stored credential's state without mutating it.
func (m *TokenManager) CheckTokenStatus(ctx context.Context) (*TokenStatus, error) {
	cred, err := m.store.Get(ctx, m.installationID)
	if err != nil {
		return nil, apperrors.InternalError("failed to read credential", err)
	}

	if cred == nil {
		return &TokenStatus{Status: "not_found"}, nil
	}

	status := &TokenStatus{
		HasRefreshToken: cred.HasRefreshToken(),
	}
	if !cred.ExpiryDate.IsZero() {
		expiry := cred.ExpiryDate
		status.ExpiryDate = &expiry
	}

	switch {
	case cred.Status == StatusRevoked:
		status.Status = "revoked"
	case needsRefresh(cred):
		status.Status = "expired"
	default:
		status.Status = "valid"
	}

	return status, nil
}

// CheckHealth produces an operator-facing diagnostic. Never mutates state.
func (m *TokenManager) CheckHealth(ctx context.Context) (*HealthReport, error) {
	cred, err := m.store.Get(ctx, m.installationID)
	if err != nil {
		return nil, apperrors.InternalError("failed to read credential", err)
	}

	if cred == nil {
		return &HealthReport{
			Recommendation: "no credential found; complete the initial authorization via /oauth/auth",
		}, nil
	}

	report := &HealthReport{
		HasCredential:   true,
		HasRefreshToken: cred.HasRefreshToken(),
	}

	if !cred.ExpiryDate.IsZero() {
		remaining := cred.ExpiryDate.Sub(Now())
		report.IsExpired = remaining <= 0
		report.DaysUntilExpiry = int(remaining.Hours() / 24)
	} else {
		report.IsExpired = true
	}

	switch {
	case cred.Status == StatusRevoked:
		report.Recommendation = "credential revoked; reauthorize via /oauth/auth"
	case !report.HasRefreshToken:
		report.Recommendation = "no refresh token stored; reauthorize before the access token expires"
	case report.IsExpired:
		report.Recommendation = "access token expired; it will be refreshed automatically on next use"
	default:
		report.Recommendation = "credential healthy"
	}

	return report, nil
}
