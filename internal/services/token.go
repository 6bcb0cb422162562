package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tokenBytes = 32

// AccessTokenService issues and validates the opaque caregiver link tokens.
type AccessTokenService struct {
	store  database.Store
	ttl    time.Duration
	clock  *Clock
	logger *zap.SugaredLogger
}

// NewAccessTokenService creates a token service. A zero ttl issues non-expiring tokens.
func NewAccessTokenService(store database.Store, ttl time.Duration, clock *Clock, logger *zap.SugaredLogger) *AccessTokenService {
	return &AccessTokenService{store: store, ttl: ttl, clock: clock, logger: logger}
}

// Issue returns the case's token, creating it on first call. Two concurrent
// callers get the same token: the loser of the unique insert reads the winner's row.
func (s *AccessTokenService) Issue(ctx context.Context, caseID uuid.UUID) (*models.AccessToken, error) {
	existing, err := s.store.GetTokenByCase(ctx, caseID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, &DependencyError{Op: "lookup token", Err: err}
	}

	value, err := newToken()
	if err != nil {
		return nil, &DependencyError{Op: "generate token", Err: err}
	}

	now := s.clock.Now()
	t := &models.AccessToken{Token: value, CaseID: caseID, CreatedAt: now}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		t.ExpiresAt = &expires
	}

	if err := s.store.InsertToken(ctx, t); err != nil {
		if !errors.Is(err, database.ErrDuplicate) {
			return nil, &DependencyError{Op: "insert token", Err: err}
		}
		winner, err := s.store.GetTokenByCase(ctx, caseID)
		if err != nil {
			return nil, &DependencyError{Op: "lookup token after race", Err: err}
		}
		s.logger.Infow("Token issuance raced, reusing existing token", "case_id", caseID)
		return winner, nil
	}

	s.logger.Infow("Access token issued", "case_id", caseID, "token_hint", tokenHint(value))
	return t, nil
}

// Resolve maps a token to its case. Unknown and expired tokens are distinct
// errors here so they can be logged apart; callers present both the same way.
func (s *AccessTokenService) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrInvalidToken
	}

	t, err := s.store.GetToken(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		s.logger.Infow("Access token rejected", "reason", "unknown", "token_hint", tokenHint(token))
		return uuid.Nil, ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, &DependencyError{Op: "lookup token", Err: err}
	}

	if t.Expired(s.clock.Now()) {
		s.logger.Infow("Access token rejected", "reason", "expired", "case_id", t.CaseID, "token_hint", tokenHint(token))
		return uuid.Nil, ErrExpiredToken
	}
	return t.CaseID, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenHint is a short prefix safe to log.
func tokenHint(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[:6]
}
