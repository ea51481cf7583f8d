package tessera

import (
	"context"
	"errors"
	"fmt"
)

// RequestPasswordReset issues a reset-purpose token and emails it.
// Enumeration-safe: an unknown email returns success and sends nothing.
func (e *Engine) RequestPasswordReset(ctx context.Context, projectID, email string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.checkRate(ctx, proj, OpPasswordReset); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}

	user, err := e.findByEmail(ctx, projectID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, true, projectID, "", nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return nil
		}
		return err
	}
	if !user.IsActive {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, projectID, user.UserID, nil, func() map[string]string {
			return map[string]string{"noop": "inactive"}
		})
		return nil
	}

	plaintext, err := e.issueSideChannelToken(ctx, projectID, user.UserID, purposeResetPassword, e.config.SideChannel.ResetTTL)
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, projectID, user.UserID, nil, nil)

	e.sendMailAsync(projectID, user.UserID, TemplatePasswordReset, map[string]string{
		"email": user.Email,
		"token": plaintext,
	})
	return nil
}

// ConfirmPasswordReset redeems a reset-purpose token, replaces the password
// hash, and revokes every outstanding refresh token for the user so the
// credential rotation cannot leave old sessions silently valid.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, projectID, tokenPlaintext, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.checkRate(ctx, proj, OpPasswordReset); err != nil {
		return err
	}

	if len(newPassword) < 8 {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	// Hash before redeeming: if the new password is unusable the token
	// survives for another attempt.
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return &ValidationError{Field: "password", Reason: err.Error()}
	}

	if tokenPlaintext == "" {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrTokenInvalid
	}

	userID, err := e.redeemSideChannelToken(ctx, projectID, tokenPlaintext, purposeResetPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, projectID, "", err, nil)
		return err
	}

	if _, err := e.users.Update(ctx, projectID, userID, UserPatch{PasswordHash: &hash}); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricPasswordResetConfirmFailure)
			return ErrTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.revokeUserRefreshTokens(ctx, projectID, userID); err != nil {
		// The password already changed; the caller must know revocation is
		// incomplete rather than assume all sessions died.
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, projectID, userID, nil, nil)
	return nil
}
