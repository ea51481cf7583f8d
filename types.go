package tessera

import (
	"context"
	"time"
)

// Operation classifies rate-limited engine entry points. Per-project
// overrides and config defaults are both keyed by Operation.
type Operation string

const (
	// OpRegister is the account registration operation class.
	OpRegister Operation = "register"
	// OpLogin is the credential login operation class.
	OpLogin Operation = "login"
	// OpRefresh is the refresh-rotation operation class.
	OpRefresh Operation = "refresh"
	// OpPasswordReset covers reset request and confirmation.
	OpPasswordReset Operation = "password_reset"
	// OpEmailVerification covers verification request and confirmation.
	OpEmailVerification Operation = "email_verification"
	// OpExport is the bulk export operation class.
	OpExport Operation = "export"
	// OpImport is the bulk import operation class.
	OpImport Operation = "import"
	// OpGeneral is the fallback class for uncategorized calls.
	OpGeneral Operation = "general"
)

// RatePolicy is one operation budget: at most Limit calls per Window.
// A zero Limit leaves the operation unthrottled.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// FieldType is the declared type of a project custom field.
type FieldType string

const (
	// FieldString accepts string values.
	FieldString FieldType = "string"
	// FieldNumber accepts float64 and integer values.
	FieldNumber FieldType = "number"
	// FieldBool accepts boolean values.
	FieldBool FieldType = "bool"
	// FieldTimestamp accepts time.Time or RFC 3339 strings.
	FieldTimestamp FieldType = "timestamp"
)

// CustomFieldSpec declares one named, typed custom field in a project
// schema. Unknown fields are rejected on write.
type CustomFieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
}

// Project is the tenant boundary: every user record and token belongs to
// exactly one project, and no lookup crosses projects. The API key is stored
// only as a SHA-256 hash.
type Project struct {
	ProjectID    string
	APIKeyHash   [32]byte
	RateLimits   map[Operation]RatePolicy
	CustomFields []CustomFieldSpec
}

// ProjectProvider resolves project configuration. Implementations must
// return ErrNotFound for unknown projects.
type ProjectProvider interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
}

// UserRecord is one account within a project. Email is unique per project
// (case-insensitive); Username is sparsely unique: absent values never
// collide, present values must differ. Records are never physically deleted;
// deactivation flips IsActive and stays visible to export and audit.
type UserRecord struct {
	ProjectID    string
	UserID       string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	DisplayName  string
	Avatar       string
	CustomFields map[string]any
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    time.Time
}

// UserPatch is a partial update applied by UserRepository.Update. Nil
// pointer fields are left untouched; a non-nil CustomFields map overwrites
// only the keys it contains.
type UserPatch struct {
	PasswordHash *string
	FirstName    *string
	LastName     *string
	DisplayName  *string
	Avatar       *string
	CustomFields map[string]any
	IsVerified   *bool
	IsActive     *bool
	LastLogin    *time.Time
}

// StatusFilter narrows repository listings by activation state.
type StatusFilter string

const (
	// StatusAny matches active and inactive records.
	StatusAny StatusFilter = ""
	// StatusActive matches records with IsActive set.
	StatusActive StatusFilter = "active"
	// StatusInactive matches soft-deleted records.
	StatusInactive StatusFilter = "inactive"
)

// ListFilter pages and narrows UserRepository.List results.
type ListFilter struct {
	Page   int
	Limit  int
	Search string
	Status StatusFilter
}

// UserRepository is the external user store the engine writes through. All
// lookups are project-scoped. Implementations must enforce the
// (projectID, email) uniqueness constraint and the sparse
// (projectID, username) constraint, returning ErrEmailTaken or
// ErrUsernameTaken when a concurrent write races past the engine's
// pre-checks, and ErrNotFound for missing records.
type UserRepository interface {
	FindByEmail(ctx context.Context, projectID, email string) (*UserRecord, error)
	FindByUsername(ctx context.Context, projectID, username string) (*UserRecord, error)
	FindByID(ctx context.Context, projectID, userID string) (*UserRecord, error)
	Create(ctx context.Context, record *UserRecord) error
	Update(ctx context.Context, projectID, userID string, patch UserPatch) (*UserRecord, error)
	List(ctx context.Context, projectID string, filter ListFilter) ([]UserRecord, int, error)
	SoftDelete(ctx context.Context, projectID, userID string) error
}

// EmailTemplate is the tagged template variant handed to the Mailer. The
// engine never dispatches templates by string name.
type EmailTemplate uint8

const (
	// TemplateVerifyEmail carries the email-verification link token.
	TemplateVerifyEmail EmailTemplate = iota
	// TemplatePasswordReset carries the password-reset link token.
	TemplatePasswordReset
	// TemplateWelcome is sent after successful verification.
	TemplateWelcome
)

// String returns the template's stable wire name.
func (t EmailTemplate) String() string {
	switch t {
	case TemplateVerifyEmail:
		return "verify_email"
	case TemplatePasswordReset:
		return "password_reset"
	case TemplateWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// Mailer delivers rendered notification email. The engine calls Send on a
// bounded-timeout goroutine and treats failure as an audit event, never as
// an operation failure.
type Mailer interface {
	Send(ctx context.Context, projectID string, template EmailTemplate, data map[string]string) error
}

// TokenPair is one access+refresh issuance.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AccessIdentity is the result of validating an access token: the project
// and user the token was minted for.
type AccessIdentity struct {
	ProjectID string
	UserID    string
}

// RegisterRequest is the input for Engine.Register.
type RegisterRequest struct {
	Email        string
	Password     string
	Username     string
	FirstName    string
	LastName     string
	DisplayName  string
	Avatar       string
	CustomFields map[string]any
}

// RegisterResult is returned by Engine.Register. The account starts
// unverified; a verification token is issued and emailed as a side effect.
type RegisterResult struct {
	User   *UserRecord
	Tokens TokenPair
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	User   *UserRecord
	Tokens TokenPair
}

// ProfileUpdate carries the profile fields UpdateProfile may overwrite.
// Password, verification, and activation state are never reachable through
// this path.
type ProfileUpdate struct {
	FirstName    *string
	LastName     *string
	DisplayName  *string
	Avatar       *string
	CustomFields map[string]any
}

// ExportFilter narrows a bulk export by status, creation window, and search.
type ExportFilter struct {
	Status        StatusFilter
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Search        string
}

// PortableUser is the public-safe export shape. It never carries the
// password hash or any token state.
type PortableUser struct {
	Email        string         `json:"email"`
	Username     string         `json:"username,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	DisplayName  string         `json:"displayName,omitempty"`
	Avatar       string         `json:"avatar,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
	IsVerified   bool           `json:"isVerified"`
	IsActive     bool           `json:"isActive"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastLogin    time.Time      `json:"lastLogin,omitempty"`
}

// ExportMetadata describes one export run.
type ExportMetadata struct {
	ExportID   string    `json:"exportId"`
	ProjectID  string    `json:"projectId"`
	ExportedAt time.Time `json:"exportedAt"`
	Count      int       `json:"count"`
}

// ExportResult is the portable record set produced by Engine.Export.
type ExportResult struct {
	Metadata ExportMetadata `json:"metadata"`
	Records  []PortableUser `json:"records"`
}

// ImportRecord is one incoming record for Engine.Import. Password (plaintext,
// re-hashed on import) and PasswordHash (pre-hashed PHC string) are mutually
// exclusive; with neither, the account receives an unusable random credential
// and must go through password reset.
type ImportRecord struct {
	Email        string         `json:"email" validate:"required,email"`
	Username     string         `json:"username,omitempty" validate:"omitempty,min=3,max=64"`
	Password     string         `json:"password,omitempty"`
	PasswordHash string         `json:"passwordHash,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	DisplayName  string         `json:"displayName,omitempty"`
	Avatar       string         `json:"avatar,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
	IsVerified   bool           `json:"isVerified,omitempty"`
	IsActive     *bool          `json:"isActive,omitempty"`
}

// ImportOptions selects the bulk-import conflict policy.
type ImportOptions struct {
	UpdateExisting bool
	SkipInvalid    bool
}

// ImportError is one per-record import failure, with enough detail for a
// selective retry.
type ImportError struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// ImportResult is the per-batch summary. Partial failure is data, not an
// error: a bad record never aborts the batch.
type ImportResult struct {
	Imported int           `json:"imported"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors,omitempty"`
}
