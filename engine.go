package tessera

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tessera-auth/tessera/internal/rate"
	"github.com/tessera-auth/tessera/internal/stores"
	"github.com/tessera-auth/tessera/password"
	"github.com/tessera-auth/tessera/token"
)

// Engine is the credential and token lifecycle coordinator. It is the only
// component that touches the external user repository; hashing, token
// stores, and rate limiting hang off it as leaves. Engine methods are safe
// for concurrent use after Builder.Build.
type Engine struct {
	config       Config
	users        UserRepository
	projects     ProjectProvider
	mailer       Mailer
	hasher       *password.Hasher
	tokens       *token.Manager
	refreshStore *stores.RefreshStore
	sideChannel  *stores.SideChannelStore
	limiter      *rate.Limiter
	audit        *auditDispatcher
	metrics      *Metrics
	validate     *validator.Validate

	// decoyHash is verified against when login hits an unknown email, so the
	// response time does not reveal whether the account exists.
	decoyHash string
}

// Close stops the audit dispatcher, draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports the number of audit events discarded since startup.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// VerifyAccessToken validates signature and expiry and returns the token's
// project and user. It performs no I/O, which is what keeps per-request
// checks cheap; revocation granularity lives entirely with refresh tokens.
func (e *Engine) VerifyAccessToken(tokenStr string) (AccessIdentity, error) {
	if e == nil || e.tokens == nil {
		return AccessIdentity{}, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.Parse(tokenStr)
	if e.metrics != nil {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		return AccessIdentity{}, ErrTokenInvalid
	}

	return AccessIdentity{ProjectID: claims.PID, UserID: claims.UID}, nil
}

// VerifyAPIKey checks the presented project API key against the stored
// hash. The comparison is constant time; unknown project and wrong key are
// the same failure.
func (e *Engine) VerifyAPIKey(ctx context.Context, projectID, apiKey string) error {
	if e == nil || e.projects == nil {
		return ErrEngineNotReady
	}

	proj, err := e.projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	presented := sha256.Sum256([]byte(apiKey))
	if subtle.ConstantTimeCompare(presented[:], proj.APIKeyHash[:]) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashAPIKey returns the SHA-256 digest a ProjectProvider should store for
// an API key.
func HashAPIKey(apiKey string) [32]byte {
	return sha256.Sum256([]byte(apiKey))
}

func (e *Engine) project(ctx context.Context, projectID string) (*Project, error) {
	if projectID == "" {
		return nil, &ValidationError{Field: "projectId", Reason: "required"}
	}

	proj, err := e.projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return proj, nil
}

func (e *Engine) ratePolicy(proj *Project, op Operation) RatePolicy {
	if proj != nil {
		if policy, ok := proj.RateLimits[op]; ok {
			return policy
		}
	}
	return e.config.RateLimit.Defaults[op]
}

func (e *Engine) checkRate(ctx context.Context, proj *Project, op Operation) error {
	policy := e.ratePolicy(proj, op)

	retryAfter, err := e.limiter.Check(ctx, proj.ProjectID, string(op), rate.Policy{
		Limit:  policy.Limit,
		Window: policy.Window,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		e.emitRateLimit(ctx, proj.ProjectID, op, retryAfter)
		return &ThrottledError{Operation: op, RetryAfter: retryAfter}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// sendMailAsync fires the mailer on its own bounded-timeout goroutine.
// Delivery failure is audited and counted, never surfaced to the lifecycle
// operation that triggered it.
func (e *Engine) sendMailAsync(projectID, userID string, template EmailTemplate, data map[string]string) {
	if e.mailer == nil || !e.config.Mail.Enabled {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Mail.SendTimeout)
		defer cancel()

		if err := e.mailer.Send(ctx, projectID, template, data); err != nil {
			e.metricInc(MetricMailSendFailure)
			e.emitAudit(ctx, auditEventMailSendFailure, false, projectID, userID, ErrUnavailable, func() map[string]string {
				return map[string]string{
					"template": template.String(),
				}
			})
		}
	}()
}

// findByEmail wraps the repository lookup with one transparent retry for
// transient failures. Retries happen only here, before any externally
// visible side effect; later stages surface ErrUnavailable instead.
func (e *Engine) findByEmail(ctx context.Context, projectID, email string) (*UserRecord, error) {
	user, err := e.users.FindByEmail(ctx, projectID, email)
	if err == nil || errors.Is(err, ErrNotFound) {
		return user, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	user, err = e.users.FindByEmail(ctx, projectID, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return user, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateCustomFields checks values against the project schema: unknown
// names are rejected, declared types enforced, and (for full writes)
// required fields must be present.
func validateCustomFields(spec []CustomFieldSpec, fields map[string]any, requireRequired bool) error {
	byName := make(map[string]CustomFieldSpec, len(spec))
	for _, f := range spec {
		byName[f.Name] = f
	}

	for name, value := range fields {
		field, ok := byName[name]
		if !ok {
			return &ValidationError{Field: "customFields." + name, Reason: "not in project schema"}
		}
		if value == nil {
			continue
		}
		if !matchesFieldType(field.Type, value) {
			return &ValidationError{Field: "customFields." + name, Reason: "expected " + string(field.Type)}
		}
	}

	if requireRequired {
		for _, f := range spec {
			if !f.Required {
				continue
			}
			if v, ok := fields[f.Name]; !ok || v == nil {
				return &ValidationError{Field: "customFields." + f.Name, Reason: "required"}
			}
		}
	}

	return nil
}

func matchesFieldType(t FieldType, value any) bool {
	switch t {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldTimestamp:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, v)
			return err == nil
		}
		return false
	default:
		return false
	}
}
