package tessera

import (
	"context"
	"errors"
	"testing"
)

func verificationToken(t *testing.T, env *testEnv) (userID, token string) {
	t.Helper()

	reg := registerUser(t, env, "p1", "verify@example.com", "strong-password-1")
	mail := waitMail(t, env.mailer)
	if mail.template != TemplateVerifyEmail {
		t.Fatalf("expected verify_email mail, got %s", mail.template)
	}
	return reg.User.UserID, mail.data["token"]
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userID, token := verificationToken(t, env)

	if err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	stored := env.repo.get(userID)
	if !stored.IsVerified {
		t.Fatal("expected account to be verified")
	}

	welcome := waitMail(t, env.mailer)
	if welcome.template != TemplateWelcome {
		t.Fatalf("expected welcome mail, got %s", welcome.template)
	}
}

func TestEmailVerificationReplay(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userID, token := verificationToken(t, env)

	if err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token)
	if !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on replay, got %v", err)
	}

	// The replay must not flip the flag back.
	if !env.repo.get(userID).IsVerified {
		t.Fatal("expected account to stay verified after replay")
	}
}

func TestEmailVerificationGarbageToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, token := range []string{"", "garbage", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestVerificationTokenRejectedForPasswordReset(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userID, token := verificationToken(t, env)

	// A verify-purpose token cannot satisfy the reset flow.
	err := env.engine.ConfirmPasswordReset(context.Background(), "p1", token, "another-password-1")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for cross-purpose redemption, got %v", err)
	}

	// The failed cross-purpose attempt must not consume the token.
	if err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token); err != nil {
		t.Fatalf("expected token to survive cross-purpose attempt, got %v", err)
	}
	if !env.repo.get(userID).IsVerified {
		t.Fatal("expected account to be verified")
	}
}

func TestRequestEmailVerificationUnknownEmail(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.RequestEmailVerification(context.Background(), "p1", "ghost@example.com"); err != nil {
		t.Fatalf("expected enumeration-safe success, got %v", err)
	}
	if env.mailer.count() != 0 {
		t.Fatal("expected no mail for unknown email")
	}
}

func TestRequestEmailVerificationAlreadyVerified(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, token := verificationToken(t, env)

	if err := env.engine.ConfirmEmailVerification(context.Background(), "p1", token); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	waitMail(t, env.mailer) // welcome
	sent := env.mailer.count()

	if err := env.engine.RequestEmailVerification(context.Background(), "p1", "verify@example.com"); err != nil {
		t.Fatalf("expected success for verified account, got %v", err)
	}
	if env.mailer.count() != sent {
		t.Fatal("expected no new mail for already-verified account")
	}
}

func TestRequestEmailVerificationReissuesToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userID, first := verificationToken(t, env)

	if err := env.engine.RequestEmailVerification(context.Background(), "p1", "verify@example.com"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	second := waitMail(t, env.mailer)
	if second.data["token"] == "" || second.data["token"] == first {
		t.Fatal("expected a fresh token on re-request")
	}

	// Either outstanding token verifies; the fresh one is used here.
	if err := env.engine.ConfirmEmailVerification(context.Background(), "p1", second.data["token"]); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if !env.repo.get(userID).IsVerified {
		t.Fatal("expected account to be verified")
	}
}
