package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CredentialStatus is the lifecycle state of a stored credential.
type CredentialStatus string

const (
	StatusActive  CredentialStatus = "active"
	StatusExpired CredentialStatus = "expired"
	StatusRevoked CredentialStatus = "revoked"
)

// Credential is the OAuth token pair and metadata used to call the calendar
// provider on behalf of one installation. If Status is StatusActive the
// access token is non-empty. A credential with no refresh token cannot be
// refreshed and requires a full reauthorization once it expires.
type Credential struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiryDate   time.Time        `json:"expiry_date"`
	Scope        []string         `json:"scope"`
	Status       CredentialStatus `json:"status"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// HasRefreshToken reports whether the credential can be refreshed.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// CredentialStore persists one credential document per installation in Redis.
// Writes are last-writer-wins; concurrent refreshes may overwrite each other,
// which is safe because multiple valid access tokens can coexist.
type CredentialStore struct {
	redisClient *redis.Client
}

// NewCredentialStore creates a credential store backed by the given client.
func NewCredentialStore(redisClient *redis.Client) *CredentialStore {
	return &CredentialStore{redisClient: redisClient}
}

func credentialKey(installationID string) string {
	return fmt.Sprintf("calendar_credential:%s", installationID)
}

// Save overwrites the installation's credential document, stamping updated_at.
func (s *CredentialStore) Save(ctx context.Context, installationID string, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential cannot be nil")
	}

	cred.UpdatedAt = time.Now()
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := s.redisClient.Set(ctx, credentialKey(installationID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	log.Printf("Stored calendar credential for installation %s (status=%s)", installationID, cred.Status)
	return nil
}

// Get returns the stored credential, or (nil, nil) when none exists.
func (s *CredentialStore) Get(ctx context.Context, installationID string) (*Credential, error) {
	data, err := s.redisClient.Get(ctx, credentialKey(installationID)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &cred, nil
}

// MarkRevoked clears the token fields and sets status to revoked so a stale
// access token is never served again. The document itself is kept; only a
// fresh authorization flow overwrites it.
func (s *CredentialStore) MarkRevoked(ctx context.Context, installationID string) error {
	cred, err := s.Get(ctx, installationID)
	if err != nil {
		return err
	}
	if cred == nil {
		cred = &Credential{}
	}

	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.ExpiryDate = time.Time{}
	cred.Status = StatusRevoked

	if err := s.Save(ctx, installationID, cred); err != nil {
		return err
	}

	log.Printf("Marked calendar credential revoked for installation %s", installationID)
	return nil
}
