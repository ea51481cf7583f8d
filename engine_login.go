package tessera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-auth/tessera/internal/stores"
)

// Login verifies credentials and issues a fresh access+refresh pair. Unknown
// email, wrong password, and deactivated account all fail with the same
// ErrInvalidCredentials: neither the message nor the response time
// distinguishes them (an unknown email still burns a full hash
// verification against a decoy).
func (e *Engine) Login(ctx context.Context, projectID, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRate(ctx, proj, OpLogin); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	user, err := e.findByEmail(ctx, projectID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.hasher.Verify(plaintext, e.decoyHash)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, projectID, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok := e.hasher.Verify(plaintext, user.PasswordHash)
	if !ok || !user.IsActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, projectID, user.UserID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	patch := UserPatch{LastLogin: &now}

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsRehash(user.PasswordHash) {
		if upgraded, hashErr := e.hasher.Hash(plaintext); hashErr == nil {
			patch.PasswordHash = &upgraded
		}
	}

	updated, err := e.users.Update(ctx, projectID, user.UserID, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tokens, err := e.issueTokens(ctx, projectID, user.UserID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, projectID, user.UserID, nil, nil)

	return &LoginResult{User: updated, Tokens: tokens}, nil
}

// Logout consumes the presented refresh token so no new access token can be
// minted from it. Outstanding access tokens are stateless and expire on
// their own; that is the entire logout guarantee.
func (e *Engine) Logout(ctx context.Context, projectID, refreshToken string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}

	if _, err := e.project(ctx, projectID); err != nil {
		return err
	}

	tokenID, secretHash, ok := splitRefreshToken(refreshToken)
	if !ok {
		return ErrRefreshInvalid
	}

	userID, err := e.refreshStore.Consume(ctx, projectID, tokenID, secretHash)
	if err != nil {
		if errors.Is(err, stores.ErrRedisUnavailable) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// Unknown, expired, and already-consumed tokens all surface the
		// same ErrRefreshInvalid; there is nothing left to consume.
		return ErrRefreshInvalid
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, projectID, userID, nil, nil)
	return nil
}
