package tessera

import (
	"context"
	"errors"
	"fmt"
)

// RequestEmailVerification issues a fresh verify-purpose token for the
// account and emails it. The call is enumeration-safe: unknown email and
// already-verified account both return success without revealing which, and
// neither sends anything.
func (e *Engine) RequestEmailVerification(ctx context.Context, projectID, email string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.checkRate(ctx, proj, OpEmailVerification); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}

	user, err := e.findByEmail(ctx, projectID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventEmailVerificationRequest, true, projectID, "", nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return nil
		}
		return err
	}

	if user.IsVerified || !user.IsActive {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, projectID, user.UserID, nil, func() map[string]string {
			return map[string]string{"noop": "not_verifiable"}
		})
		return nil
	}

	e.fireVerificationEmail(ctx, projectID, user)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, projectID, user.UserID, nil, nil)
	return nil
}

// ConfirmEmailVerification redeems a verify-purpose token and marks the
// account verified exactly once. A second redemption of the same token
// fails with ErrTokenUsed; the verified flag itself is untouched by the
// replay.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, projectID, tokenPlaintext string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.checkRate(ctx, proj, OpEmailVerification); err != nil {
		return err
	}

	if tokenPlaintext == "" {
		e.metricInc(MetricEmailVerificationFailure)
		return ErrTokenInvalid
	}

	userID, err := e.redeemSideChannelToken(ctx, projectID, tokenPlaintext, purposeVerifyEmail)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, projectID, "", err, nil)
		return err
	}

	verified := true
	user, err := e.users.Update(ctx, projectID, userID, UserPatch{IsVerified: &verified})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricEmailVerificationFailure)
			return ErrTokenInvalid
		}
		// The token is already consumed; surface the transient failure
		// rather than pretending the flag flipped.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, projectID, userID, nil, nil)

	e.sendMailAsync(projectID, userID, TemplateWelcome, map[string]string{
		"email": user.Email,
	})
	return nil
}
