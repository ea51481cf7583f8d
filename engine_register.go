package tessera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Register creates an account in the project: uniqueness checks, password
// hashing, record creation in the unverified state, token issuance, and the
// verification email side effect. Duplicate email or username within the
// project fails with ErrEmailTaken / ErrUsernameTaken.
func (e *Engine) Register(ctx context.Context, projectID string, req RegisterRequest) (*RegisterResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRate(ctx, proj, OpRegister); err != nil {
		e.metricInc(MetricRegisterRateLimited)
		return nil, err
	}

	if err := e.validateRegisterRequest(proj, &req); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, projectID, "", err, nil)
		return nil, err
	}

	email := normalizeEmail(req.Email)

	if _, err := e.findByEmail(ctx, projectID, email); err == nil {
		e.metricInc(MetricRegisterConflict)
		e.emitAudit(ctx, auditEventRegisterConflict, false, projectID, "", ErrEmailTaken, func() map[string]string {
			return map[string]string{"field": "email"}
		})
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if req.Username != "" {
		if _, err := e.users.FindByUsername(ctx, projectID, req.Username); err == nil {
			e.metricInc(MetricRegisterConflict)
			e.emitAudit(ctx, auditEventRegisterConflict, false, projectID, "", ErrUsernameTaken, func() map[string]string {
				return map[string]string{"field": "username"}
			})
			return nil, ErrUsernameTaken
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, &ValidationError{Field: "password", Reason: err.Error()}
	}

	now := time.Now().UTC()
	record := &UserRecord{
		ProjectID:    projectID,
		UserID:       uuid.NewString(),
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DisplayName:  req.DisplayName,
		Avatar:       req.Avatar,
		CustomFields: req.CustomFields,
		IsVerified:   false,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.users.Create(ctx, record); err != nil {
		// The repository is the authority on uniqueness; a concurrent
		// register can slip past the pre-checks above.
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricRegisterConflict)
			e.emitAudit(ctx, auditEventRegisterConflict, false, projectID, "", err, nil)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tokens, err := e.issueTokens(ctx, projectID, record.UserID)
	if err != nil {
		return nil, err
	}

	e.fireVerificationEmail(ctx, projectID, record)

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, projectID, record.UserID, nil, nil)

	return &RegisterResult{User: record, Tokens: tokens}, nil
}

// fireVerificationEmail issues a verify-purpose side-channel token and hands
// it to the mailer. A token-store failure here degrades to an audit entry:
// the registration itself already committed, and the user can re-request
// verification later.
func (e *Engine) fireVerificationEmail(ctx context.Context, projectID string, user *UserRecord) {
	plaintext, err := e.issueSideChannelToken(ctx, projectID, user.UserID, purposeVerifyEmail, e.config.SideChannel.VerificationTTL)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, projectID, user.UserID, err, nil)
		return
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.sendMailAsync(projectID, user.UserID, TemplateVerifyEmail, map[string]string{
		"email": user.Email,
		"token": plaintext,
	})
}

func (e *Engine) validateRegisterRequest(proj *Project, req *RegisterRequest) error {
	if err := e.validate.Var(req.Email, "required,email"); err != nil {
		return &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if len(req.Password) < 8 {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	if req.Username != "" {
		if err := e.validate.Var(req.Username, "min=3,max=64,excludesall= "); err != nil {
			return &ValidationError{Field: "username", Reason: "must be 3-64 characters without spaces"}
		}
	}
	if err := validateCustomFields(proj.CustomFields, req.CustomFields, true); err != nil {
		return err
	}
	return nil
}
