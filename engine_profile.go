package tessera

import (
	"context"
	"errors"
	"fmt"
)

// UpdateProfile overwrites accepted profile fields only. Password,
// verification state, and activation state are never reachable through this
// path; custom fields are validated against the project schema.
func (e *Engine) UpdateProfile(ctx context.Context, projectID, userID string, update ProfileUpdate) (*UserRecord, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRate(ctx, proj, OpGeneral); err != nil {
		return nil, err
	}

	if len(update.CustomFields) > 0 {
		if err := validateCustomFields(proj.CustomFields, update.CustomFields, false); err != nil {
			return nil, err
		}
	}

	patch := UserPatch{
		FirstName:    update.FirstName,
		LastName:     update.LastName,
		DisplayName:  update.DisplayName,
		Avatar:       update.Avatar,
		CustomFields: update.CustomFields,
	}

	user, err := e.users.Update(ctx, projectID, userID, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricProfileUpdate)
	e.emitAudit(ctx, auditEventProfileUpdate, true, projectID, userID, nil, nil)
	return user, nil
}

// SetAccountStatus activates or deactivates an account. Deactivation is a
// soft delete: the record stays queryable and exportable, and every
// outstanding refresh token is revoked. The HTTP layer is responsible for
// restricting this call to elevated callers.
func (e *Engine) SetAccountStatus(ctx context.Context, projectID, userID string, active bool) (*UserRecord, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.project(ctx, projectID); err != nil {
		return nil, err
	}

	if !active {
		if err := e.users.SoftDelete(ctx, projectID, userID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := e.revokeUserRefreshTokens(ctx, projectID, userID); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.users.Update(ctx, projectID, userID, UserPatch{IsActive: &active}); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	user, err := e.users.FindByID(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricStatusChange)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, projectID, userID, nil, func() map[string]string {
		status := "inactive"
		if active {
			status = "active"
		}
		return map[string]string{"status": status}
	})
	return user, nil
}
