package tessera

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-auth/tessera/internal/stores"
)

const refreshSecretBytes = 32

// generateRefreshToken produces an opaque token "<id>.<secret>" plus the
// stored form: the record ID and the SHA-256 hash of the secret.
func generateRefreshToken() (plaintext, tokenID string, secretHash [32]byte, err error) {
	secret := make([]byte, refreshSecretBytes)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", "", secretHash, err
	}

	tokenID = uuid.NewString()
	plaintext = tokenID + "." + base64.RawURLEncoding.EncodeToString(secret)
	secretHash = sha256.Sum256(secret)
	return plaintext, tokenID, secretHash, nil
}

func splitRefreshToken(plaintext string) (tokenID string, secretHash [32]byte, ok bool) {
	parts := strings.SplitN(plaintext, ".", 2)
	if len(parts) != 2 {
		return "", secretHash, false
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return "", secretHash, false
	}
	secret, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(secret) != refreshSecretBytes {
		return "", secretHash, false
	}
	return parts[0], sha256.Sum256(secret), true
}

// issueTokens mints one access+refresh pair for (projectID, userID) and
// persists the refresh record.
func (e *Engine) issueTokens(ctx context.Context, projectID, userID string) (TokenPair, error) {
	access, err := e.tokens.Issue(projectID, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	plaintext, tokenID, secretHash, err := generateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	record := &stores.RefreshRecord{
		UserID:     userID,
		SecretHash: secretHash,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.config.RefreshToken.TTL).Unix(),
	}
	if err := e.refreshStore.Save(ctx, projectID, tokenID, record, e.config.RefreshToken.TTL); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return TokenPair{AccessToken: access, RefreshToken: plaintext}, nil
}

// Refresh rotates a refresh token: it mints a new access+refresh pair and
// consumes the presented token in the same logical step. The new refresh
// record is persisted before the old one is consumed, so a failure anywhere
// leaves the old token active (fail closed). Redeeming an already-consumed
// token returns ErrRefreshReuse and, when RevokeOnReuse is set, revokes the
// user's whole chain.
func (e *Engine) Refresh(ctx context.Context, projectID, refreshToken string) (TokenPair, error) {
	if e == nil || e.refreshStore == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := e.checkRate(ctx, proj, OpRefresh); err != nil {
		e.metricInc(MetricRefreshRateLimited)
		return TokenPair{}, err
	}

	tokenID, secretHash, ok := splitRefreshToken(refreshToken)
	if !ok {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, projectID, "", ErrRefreshInvalid, nil)
		return TokenPair{}, ErrRefreshInvalid
	}

	record, used, err := e.refreshStore.Get(ctx, projectID, tokenID)
	if err != nil {
		if errors.Is(err, stores.ErrRefreshNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, projectID, "", ErrRefreshInvalid, nil)
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, projectID, "", ErrRefreshInvalid, nil)
		return TokenPair{}, ErrRefreshInvalid
	}
	if used {
		return TokenPair{}, e.handleRefreshReuse(ctx, projectID, record.UserID)
	}

	// New pair first; the old token stays active until the consume commits.
	pair, err := e.issueTokens(ctx, projectID, record.UserID)
	if err != nil {
		return TokenPair{}, err
	}

	consumedUser, err := e.refreshStore.Consume(ctx, projectID, tokenID, secretHash)
	if err != nil {
		newTokenID, _, splitOK := splitRefreshToken(pair.RefreshToken)
		if splitOK {
			_ = e.refreshStore.Delete(ctx, projectID, record.UserID, newTokenID)
		}

		switch {
		case errors.Is(err, stores.ErrRefreshReused):
			return TokenPair{}, e.handleRefreshReuse(ctx, projectID, record.UserID)
		case errors.Is(err, stores.ErrRefreshNotFound),
			errors.Is(err, stores.ErrRefreshExpired),
			errors.Is(err, stores.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, projectID, record.UserID, ErrRefreshInvalid, nil)
			return TokenPair{}, ErrRefreshInvalid
		default:
			return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, projectID, consumedUser, nil, nil)
	return pair, nil
}

// handleRefreshReuse reports a consumed-token replay and applies the
// configured theft-detection policy.
func (e *Engine) handleRefreshReuse(ctx context.Context, projectID, userID string) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, projectID, userID, ErrRefreshReuse, nil)

	if e.config.RefreshToken.RevokeOnReuse && userID != "" {
		revoked, err := e.refreshStore.RevokeUser(ctx, projectID, userID)
		if err == nil && revoked > 0 {
			e.metricInc(MetricRefreshChainRevoked)
			e.emitAudit(ctx, auditEventRefreshChainRevoked, true, projectID, userID, nil, func() map[string]string {
				return map[string]string{
					"revoked": fmt.Sprintf("%d", revoked),
				}
			})
		}
	}

	return ErrRefreshReuse
}

// revokeUserRefreshTokens invalidates every outstanding refresh token for
// the user. Used after password reset so credential rotation cannot leave
// old sessions silently valid.
func (e *Engine) revokeUserRefreshTokens(ctx context.Context, projectID, userID string) error {
	if _, err := e.refreshStore.RevokeUser(ctx, projectID, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
