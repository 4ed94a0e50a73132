package stepauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBeginTOTPEnrollmentIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)

	first, err := engine.BeginTOTPEnrollment(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if first.SecretBase32 == "" || first.URI == "" {
		t.Fatalf("incomplete setup material: %+v", first)
	}

	// Reopening the setup screen keeps the same unconfirmed secret.
	second, err := engine.BeginTOTPEnrollment(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("repeat BeginTOTPEnrollment failed: %v", err)
	}
	if second.SecretBase32 != first.SecretBase32 {
		t.Fatal("unconfirmed secret was rotated")
	}
	if second.URI != first.URI {
		t.Fatalf("URI changed between calls: %q vs %q", second.URI, first.URI)
	}
}

func TestBeginTOTPEnrollmentRendersQR(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.TOTP.QRSize = 128
	}, nil)

	setup, err := engine.BeginTOTPEnrollment(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if len(setup.QRPNG) == 0 {
		t.Fatal("expected rendered QR PNG")
	}
	// PNG magic bytes.
	if string(setup.QRPNG[1:4]) != "PNG" {
		t.Fatalf("not a PNG: % x", setup.QRPNG[:8])
	}
}

func TestConfirmTOTPEnrollmentWrongCode(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)

	if _, err := engine.BeginTOTPEnrollment(ctx, "a@x.com"); err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if err := engine.ConfirmTOTPEnrollment(ctx, "a@x.com", "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}

	// A failed confirmation must leave TOTP off: login stays single-factor.
	result, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2")
	if err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("unconfirmed enrollment must not gate logins")
	}
}

func TestConfirmTOTPEnrollmentWithoutBegin(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)

	if err := engine.ConfirmTOTPEnrollment(ctx, "a@x.com", "123456"); !errors.Is(err, ErrMFANotInitialized) {
		t.Fatalf("expected ErrMFANotInitialized, got %v", err)
	}
}

func TestConfirmTOTPEnrollmentEnablesStepUp(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)
	enrollTOTP(t, engine, "a@x.com")

	// A second enrollment attempt is rejected once confirmed.
	if _, err := engine.BeginTOTPEnrollment(ctx, "a@x.com"); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected ErrTOTPAlreadyEnabled, got %v", err)
	}

	result, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2")
	if err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}
	if !result.MFARequired || result.MFAKind != MFAKindTOTP {
		t.Fatalf("expected pending TOTP factor after enablement, got %+v", result)
	}
}

// secretClearedStore reports the secret gone at enable time, as when a
// concurrent disable lands between the confirmation read and the enable.
type secretClearedStore struct {
	SettingsStore
}

func (secretClearedStore) EnableTOTP(context.Context, string) error {
	return ErrSettingsSecretMissing
}

func TestConfirmTOTPEnrollmentSecretClearedConcurrently(t *testing.T) {
	ctx := context.Background()

	cfg := defaultConfig()
	cfg.Token.SigningKey = testSigningKey()
	cfg.TOTP.QRSize = 0
	cfg.Audit.Enabled = false
	engine, err := New().
		WithConfig(cfg).
		WithCredentialChecker(&fakeCredentials{identifier: "a@x.com", secret: "hunter2", principal: "a@x.com"}).
		WithSettingsStore(secretClearedStore{NewMemorySettingsStore()}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	setup, err := engine.BeginTOTPEnrollment(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	secret, err := DecodeSecret(setup.SecretBase32)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	code, err := hotpCode(secret, time.Now().Unix()/30, engine.config.TOTP.Digits, engine.config.TOTP.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}

	// The vanished secret is an enrollment-state problem, not an
	// infrastructure one.
	if err := engine.ConfirmTOTPEnrollment(ctx, "a@x.com", code); !errors.Is(err, ErrMFANotInitialized) {
		t.Fatalf("expected ErrMFANotInitialized, got %v", err)
	}
}

func TestDisableTOTPRestoresDirectLogin(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)
	enrollTOTP(t, engine, "a@x.com")

	if err := engine.DisableTOTP(ctx, "a@x.com"); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}

	token, err := engine.Login(ctx, "a@x.com", "hunter2")
	if err != nil {
		t.Fatalf("Login failed after disable: %v", err)
	}
	if token == "" {
		t.Fatal("expected direct token after disable")
	}

	// Re-enrollment starts from a fresh secret, not the disabled one.
	setup, err := engine.BeginTOTPEnrollment(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if setup.SecretBase32 == "" {
		t.Fatal("expected fresh setup material")
	}
}

func TestTOTPSkewAcceptsAdjacentStep(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, nil)
	secret := enrollTOTP(t, engine, "a@x.com")

	if _, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2"); err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}

	// A code from the previous step is still inside the drift window.
	counter := time.Now().Unix()/30 - 1
	code, err := hotpCode(secret, counter, engine.config.TOTP.Digits, engine.config.TOTP.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if _, err := engine.ConfirmLoginTOTP(ctx, "a@x.com", code); err != nil {
		t.Fatalf("expected adjacent-step code to verify, got %v", err)
	}
}
