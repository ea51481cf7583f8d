package tessera

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tessera-auth/tessera/internal/stores"
)

// Side-channel token purposes. A token issued for one purpose can never
// satisfy a redemption for the other.
const (
	purposeVerifyEmail   = "verify_email"
	purposeResetPassword = "reset_password"
)

const sideChannelTokenBytes = 32

func generateSideChannelToken() (plaintext, tokenHash string, err error) {
	raw := make([]byte, sideChannelTokenBytes)
	if _, err = io.ReadFull(rand.Reader, raw); err != nil {
		return "", "", err
	}

	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(plaintext))
	return plaintext, hex.EncodeToString(sum[:]), nil
}

func hashSideChannelToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// issueSideChannelToken persists a single-use token record and returns the
// plaintext exactly once. Only the hash reaches storage.
func (e *Engine) issueSideChannelToken(ctx context.Context, projectID, userID, purpose string, ttl time.Duration) (string, error) {
	plaintext, tokenHash, err := generateSideChannelToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := &stores.SideChannelRecord{
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	if err := e.sideChannel.Save(ctx, projectID, tokenHash, record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return plaintext, nil
}

// redeemSideChannelToken consumes the token for the given purpose and
// returns the owning user ID. Outcomes map onto the public taxonomy:
// unknown/mismatched tokens are ErrTokenInvalid, expired-but-unused are
// ErrTokenExpired, replays are ErrTokenUsed.
func (e *Engine) redeemSideChannelToken(ctx context.Context, projectID, plaintext, purpose string) (string, error) {
	userID, err := e.sideChannel.Consume(ctx, projectID, hashSideChannelToken(plaintext), purpose)
	if err == nil {
		return userID, nil
	}

	switch {
	case errors.Is(err, stores.ErrSideChannelUsed):
		return "", ErrTokenUsed
	case errors.Is(err, stores.ErrSideChannelExpired):
		return "", ErrTokenExpired
	case errors.Is(err, stores.ErrSideChannelNotFound):
		return "", ErrTokenInvalid
	default:
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
