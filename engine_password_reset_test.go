package tessera

import (
	"context"
	"errors"
	"testing"
)

func resetToken(t *testing.T, env *testEnv, email string) string {
	t.Helper()

	if err := env.engine.RequestPasswordReset(context.Background(), "p1", email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	mail := waitMail(t, env.mailer)
	if mail.template != TemplatePasswordReset {
		t.Fatalf("expected password_reset mail, got %s", mail.template)
	}
	if mail.data["token"] == "" {
		t.Fatal("expected reset token in mail data")
	}
	return mail.data["token"]
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	reg := registerUser(t, env, "p1", "reset@example.com", "old-password-1")
	waitMail(t, env.mailer) // verification mail from registration

	token := resetToken(t, env, "reset@example.com")

	if err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "new-password-1"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	// Old credential dead, new credential live.
	if _, err := env.engine.Login(context.Background(), "p1", "reset@example.com", "old-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), "p1", "reset@example.com", "new-password-1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}

	// Every refresh token issued before the reset is revoked.
	if _, err := env.engine.Refresh(context.Background(), "p1", reg.Tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected pre-reset refresh token to be revoked, got %v", err)
	}
}

func TestPasswordResetTokenReplay(t *testing.T) {
	env := newTestEnv(t, testConfig())
	registerUser(t, env, "p1", "replay@example.com", "old-password-1")
	waitMail(t, env.mailer)

	token := resetToken(t, env, "replay@example.com")

	if err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "new-password-1"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "third-password-1")
	if !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on replay, got %v", err)
	}

	// The replay must not have changed the credential again.
	if _, err := env.engine.Login(context.Background(), "p1", "replay@example.com", "new-password-1"); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
}

func TestPasswordResetWeakPasswordPreservesToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	registerUser(t, env, "p1", "weak@example.com", "old-password-1")
	waitMail(t, env.mailer)

	token := resetToken(t, env, "weak@example.com")

	// The rejected password must not burn the single-use token.
	err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "short")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	if err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "acceptable-pass-1"); err != nil {
		t.Fatalf("expected token to survive the rejected attempt, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.RequestPasswordReset(context.Background(), "p1", "ghost@example.com"); err != nil {
		t.Fatalf("expected enumeration-safe success, got %v", err)
	}
	if env.mailer.count() != 0 {
		t.Fatal("expected no mail for unknown email")
	}
}

func TestRequestPasswordResetInactiveAccount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	reg := registerUser(t, env, "p1", "inactive@example.com", "old-password-1")
	waitMail(t, env.mailer)

	if _, err := env.engine.SetAccountStatus(context.Background(), "p1", reg.User.UserID, false); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}

	sent := env.mailer.count()
	if err := env.engine.RequestPasswordReset(context.Background(), "p1", "inactive@example.com"); err != nil {
		t.Fatalf("expected success for inactive account, got %v", err)
	}
	if env.mailer.count() != sent {
		t.Fatal("expected no reset mail for inactive account")
	}
}

func TestPasswordResetGarbageToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	err := env.engine.ConfirmPasswordReset(context.Background(), "p1", "garbage", "new-password-1")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
