package tokenstore

import (
	"context"
	"sync"
	"time"

	"slacklater/internal/errors"
	"slacklater/internal/metrics"
	"slacklater/internal/models"

	"slacklater/pkg/slack"

	"github.com/sirupsen/logrus"
)

// Database is the slice of the persistence layer the token store needs.
type Database interface {
	GetCredential(ctx context.Context, tenantID string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// Refresher exchanges a refresh token for a fresh credential.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*slack.OAuthToken, error)
}

// TokenStore owns the per-tenant credential lifecycle: lookup, expiry
// detection, and refresh. Refreshes for the same tenant are serialized so
// concurrent fires cannot race writes and revert to a stale refresh token.
type TokenStore struct {
	db        Database
	refresher Refresher
	logger    *logrus.Logger

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

func New(db Database, refresher Refresher, logger *logrus.Logger) *TokenStore {
	return &TokenStore{
		db:          db,
		refresher:   refresher,
		logger:      logger,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns the stored credential for a tenant.
func (s *TokenStore) Get(ctx context.Context, tenantID string) (*models.Credential, error) {
	cred, err := s.db.GetCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "no credential for tenant").
			WithContext("tenant_id", tenantID)
	}
	return cred, nil
}

// Put upserts the credential for its tenant. ObtainedAt is stamped here so
// every token replacement resets the expiry clock.
func (s *TokenStore) Put(ctx context.Context, cred *models.Credential) error {
	if cred.ObtainedAt.IsZero() {
		cred.ObtainedAt = time.Now().UTC()
	}
	return s.db.SaveCredential(ctx, cred)
}

// GetValidAccessToken returns an access token usable right now. An expired
// credential with a refresh token triggers exactly one refresh exchange; an
// expired credential without one is returned as-is and the provider call
// downstream surfaces the real error. Refresh failures are reported, not
// retried.
func (s *TokenStore) GetValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	cred, err := s.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}

	if !cred.IsExpired(time.Now()) {
		return cred.AccessToken, nil
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed while
	// this one was waiting.
	cred, err = s.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !cred.IsExpired(time.Now()) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
		}).Warn("Access token expired with no refresh token, returning stored token")
		return cred.AccessToken, nil
	}

	return s.refresh(ctx, cred)
}

func (s *TokenStore) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	token, err := s.refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		metrics.IncrementCounter("token_refresh_total", map[string]string{"result": "failure"},
			"Token refresh exchanges")
		return "", errors.Wrap(err, errors.ErrCodeRefreshFailed, "token refresh exchange failed").
			WithContext("tenant_id", cred.TenantID)
	}

	updated := &models.Credential{
		TenantID:     cred.TenantID,
		TeamName:     cred.TeamName,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		ObtainedAt:   time.Now().UTC(),
	}
	// Providers that do not rotate refresh tokens omit them from the
	// refresh response; keep the one that still works.
	if updated.RefreshToken == "" {
		updated.RefreshToken = cred.RefreshToken
	}

	if err := s.db.SaveCredential(ctx, updated); err != nil {
		return "", err
	}

	metrics.IncrementCounter("token_refresh_total", map[string]string{"result": "success"},
		"Token refresh exchanges")

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  cred.TenantID,
		"expires_in": updated.ExpiresIn,
	}).Info("Refreshed access token")

	return updated.AccessToken, nil
}

func (s *TokenStore) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenantLocks[tenantID] = lock
	}
	return lock
}
