package tessera

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-auth/tessera/password"
)

// Export produces a portable, public-safe record set for the project.
// Password hashes and token state never leave through this path; soft-deleted
// accounts are included (distinguishable via isActive) unless the filter
// narrows them out.
func (e *Engine) Export(ctx context.Context, projectID string, filter ExportFilter) (*ExportResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRate(ctx, proj, OpExport); err != nil {
		e.metricInc(MetricBulkRateLimited)
		return nil, err
	}

	pageSize := e.config.Bulk.ExportPageSize
	records := make([]PortableUser, 0, pageSize)

	for page := 1; ; page++ {
		batch, _, err := e.users.List(ctx, projectID, ListFilter{
			Page:   page,
			Limit:  pageSize,
			Search: filter.Search,
			Status: filter.Status,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for i := range batch {
			u := &batch[i]
			if !filter.CreatedAfter.IsZero() && u.CreatedAt.Before(filter.CreatedAfter) {
				continue
			}
			if !filter.CreatedBefore.IsZero() && u.CreatedAt.After(filter.CreatedBefore) {
				continue
			}
			records = append(records, portableFromRecord(u))
		}

		if len(batch) < pageSize {
			break
		}
	}

	result := &ExportResult{
		Metadata: ExportMetadata{
			ExportID:   uuid.NewString(),
			ProjectID:  projectID,
			ExportedAt: time.Now().UTC(),
			Count:      len(records),
		},
		Records: records,
	}

	e.metricInc(MetricExportSuccess)
	e.emitAudit(ctx, auditEventExport, true, projectID, "", nil, func() map[string]string {
		return map[string]string{
			"export_id": result.Metadata.ExportID,
			"count":     fmt.Sprintf("%d", result.Metadata.Count),
		}
	})
	return result, nil
}

// Import reconciles an incoming record set against the project under the
// given conflict policy. Every record is processed independently: one bad
// record becomes a skip or an error entry, never an aborted batch. The
// summary counts imported/updated/skipped and carries per-record errors
// detailed enough for a selective retry.
func (e *Engine) Import(ctx context.Context, projectID string, records []ImportRecord, opts ImportOptions) (*ImportResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	proj, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRate(ctx, proj, OpImport); err != nil {
		e.metricInc(MetricBulkRateLimited)
		return nil, err
	}

	if len(records) > e.config.Bulk.MaxImportBatch {
		return nil, &ValidationError{
			Field:  "records",
			Reason: fmt.Sprintf("batch exceeds %d records", e.config.Bulk.MaxImportBatch),
		}
	}

	result := &ImportResult{}

	for i := range records {
		e.importOne(ctx, proj, &records[i], opts, result)
	}

	e.emitAudit(ctx, auditEventImport, true, projectID, "", nil, func() map[string]string {
		return map[string]string{
			"imported": fmt.Sprintf("%d", result.Imported),
			"updated":  fmt.Sprintf("%d", result.Updated),
			"skipped":  fmt.Sprintf("%d", result.Skipped),
			"errors":   fmt.Sprintf("%d", len(result.Errors)),
		}
	})
	return result, nil
}

func (e *Engine) importOne(ctx context.Context, proj *Project, rec *ImportRecord, opts ImportOptions, result *ImportResult) {
	reject := func(reason string) {
		if opts.SkipInvalid {
			result.Skipped++
			e.metricInc(MetricImportRecordSkipped)
			return
		}
		result.Errors = append(result.Errors, ImportError{Email: rec.Email, Reason: reason})
		e.metricInc(MetricImportRecordFailed)
	}

	if err := e.validate.Struct(rec); err != nil {
		reject("invalid record: " + err.Error())
		return
	}
	if rec.Password != "" && rec.PasswordHash != "" {
		reject("password and passwordHash are mutually exclusive")
		return
	}
	if err := validateCustomFields(proj.CustomFields, rec.CustomFields, false); err != nil {
		reject(err.Error())
		return
	}

	email := normalizeEmail(rec.Email)

	existing, err := e.users.FindByEmail(ctx, proj.ProjectID, email)
	switch {
	case err == nil:
		if !opts.UpdateExisting {
			result.Skipped++
			e.metricInc(MetricImportRecordSkipped)
			return
		}
		e.importUpdate(ctx, proj.ProjectID, existing, rec, result)
	case errors.Is(err, ErrNotFound):
		e.importCreate(ctx, proj.ProjectID, email, rec, opts, result)
	default:
		result.Errors = append(result.Errors, ImportError{Email: rec.Email, Reason: "backend unavailable"})
		e.metricInc(MetricImportRecordFailed)
	}
}

func (e *Engine) importCreate(ctx context.Context, projectID, email string, rec *ImportRecord, opts ImportOptions, result *ImportResult) {
	fail := func(reason string) {
		result.Errors = append(result.Errors, ImportError{Email: rec.Email, Reason: reason})
		e.metricInc(MetricImportRecordFailed)
	}

	hash, err := e.resolveImportHash(rec)
	if err != nil {
		if opts.SkipInvalid {
			result.Skipped++
			e.metricInc(MetricImportRecordSkipped)
			return
		}
		fail(err.Error())
		return
	}

	if rec.Username != "" {
		if _, err := e.users.FindByUsername(ctx, projectID, rec.Username); err == nil {
			fail("username already taken")
			return
		} else if !errors.Is(err, ErrNotFound) {
			fail("backend unavailable")
			return
		}
	}

	active := true
	if rec.IsActive != nil {
		active = *rec.IsActive
	}

	now := time.Now().UTC()
	record := &UserRecord{
		ProjectID:    projectID,
		UserID:       uuid.NewString(),
		Email:        email,
		Username:     rec.Username,
		PasswordHash: hash,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		DisplayName:  rec.DisplayName,
		Avatar:       rec.Avatar,
		CustomFields: rec.CustomFields,
		IsVerified:   rec.IsVerified,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.users.Create(ctx, record); err != nil {
		if errors.Is(err, ErrConflict) {
			fail("conflict: " + err.Error())
		} else {
			fail("backend unavailable")
		}
		return
	}

	result.Imported++
	e.metricInc(MetricImportRecordImported)
}

func (e *Engine) importUpdate(ctx context.Context, projectID string, existing *UserRecord, rec *ImportRecord, result *ImportResult) {
	fail := func(reason string) {
		result.Errors = append(result.Errors, ImportError{Email: rec.Email, Reason: reason})
		e.metricInc(MetricImportRecordFailed)
	}

	patch := UserPatch{CustomFields: rec.CustomFields}
	if rec.FirstName != "" {
		patch.FirstName = &rec.FirstName
	}
	if rec.LastName != "" {
		patch.LastName = &rec.LastName
	}
	if rec.DisplayName != "" {
		patch.DisplayName = &rec.DisplayName
	}
	if rec.Avatar != "" {
		patch.Avatar = &rec.Avatar
	}
	if rec.IsActive != nil {
		patch.IsActive = rec.IsActive
	}

	// Credentials change only when the incoming record carries one
	// explicitly; an update never resets an existing password.
	if rec.Password != "" || rec.PasswordHash != "" {
		hash, err := e.resolveImportHash(rec)
		if err != nil {
			fail(err.Error())
			return
		}
		patch.PasswordHash = &hash
	}

	if _, err := e.users.Update(ctx, projectID, existing.UserID, patch); err != nil {
		fail("backend unavailable")
		return
	}

	result.Updated++
	e.metricInc(MetricImportRecordUpdated)
}

// resolveImportHash turns the incoming credential into a stored hash:
// plaintext is re-hashed, a pre-hashed value must parse as a valid PHC
// string, and a record with neither receives a random unusable credential
// (the account must go through password reset before first login).
func (e *Engine) resolveImportHash(rec *ImportRecord) (string, error) {
	switch {
	case rec.Password != "":
		hash, err := e.hasher.Hash(rec.Password)
		if err != nil {
			return "", fmt.Errorf("invalid password: %v", err)
		}
		return hash, nil
	case rec.PasswordHash != "":
		if err := password.Inspect(rec.PasswordHash); err != nil {
			return "", fmt.Errorf("malformed passwordHash: %v", err)
		}
		return rec.PasswordHash, nil
	default:
		raw := make([]byte, 24)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return "", errors.New("entropy unavailable")
		}
		hash, err := e.hasher.Hash(base64.RawURLEncoding.EncodeToString(raw))
		if err != nil {
			return "", errors.New("credential generation failed")
		}
		return hash, nil
	}
}

func portableFromRecord(u *UserRecord) PortableUser {
	return PortableUser{
		Email:        u.Email,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		DisplayName:  u.DisplayName,
		Avatar:       u.Avatar,
		CustomFields: u.CustomFields,
		IsVerified:   u.IsVerified,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		LastLogin:    u.LastLogin,
	}
}
