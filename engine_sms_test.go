package stepauth

import (
	"context"
	"errors"
	"testing"
)

func TestConfigureSMSEnableRequiresPhone(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, &captureSender{})

	if err := engine.ConfigureSMS(ctx, "a@x.com", nil, boolPtr(true)); !errors.Is(err, ErrSMSNotConfigured) {
		t.Fatalf("expected ErrSMSNotConfigured, got %v", err)
	}

	// Staging the phone first makes a later enable-only call valid.
	if err := engine.ConfigureSMS(ctx, "a@x.com", strPtr("+15551234567"), nil); err != nil {
		t.Fatalf("phone-only update failed: %v", err)
	}
	if err := engine.ConfigureSMS(ctx, "a@x.com", nil, boolPtr(true)); err != nil {
		t.Fatalf("enable after staging failed: %v", err)
	}

	result, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2")
	if err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}
	if result.MFAKind != MFAKindSMS {
		t.Fatalf("expected pending SMS factor, got %+v", result)
	}
}

func TestConfigureSMSDisable(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, &captureSender{})
	enableSMS(t, engine, "a@x.com", "+15551234567")

	if err := engine.ConfigureSMS(ctx, "a@x.com", nil, boolPtr(false)); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	token, err := engine.Login(ctx, "a@x.com", "hunter2")
	if err != nil {
		t.Fatalf("Login failed after disable: %v", err)
	}
	if token == "" {
		t.Fatal("expected direct token once SMS is off")
	}
}

func TestResendLoginSMSReplacesCode(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	engine := newTestEngine(t, nil, sender)
	enableSMS(t, engine, "a@x.com", "+15551234567")

	if _, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2"); err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}
	firstCode := sender.lastCode(t)

	if err := engine.ResendLoginSMS(ctx, "a@x.com"); err != nil {
		t.Fatalf("ResendLoginSMS failed: %v", err)
	}
	if len(sender.messages) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(sender.messages))
	}
	secondCode := sender.lastCode(t)

	if firstCode != secondCode {
		// The superseded code must be dead.
		if _, err := engine.ConfirmLoginSMS(ctx, "a@x.com", firstCode); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected superseded code to be invalid, got %v", err)
		}
	}
	if _, err := engine.ConfirmLoginSMS(ctx, "a@x.com", secondCode); err != nil {
		t.Fatalf("resent code failed to verify: %v", err)
	}
}

func TestResendLoginSMSWithoutEnablement(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, &captureSender{})

	if err := engine.ResendLoginSMS(ctx, "a@x.com"); !errors.Is(err, ErrSMSNotConfigured) {
		t.Fatalf("expected ErrSMSNotConfigured, got %v", err)
	}
}

func TestResendLoginSMSRequiresPendingLogin(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	engine := newTestEngine(t, nil, sender)
	enableSMS(t, engine, "a@x.com", "+15551234567")

	// SMS is enabled but no login is in flight: a resend must not open
	// a verification path that skips the primary credential.
	if err := engine.ResendLoginSMS(ctx, "a@x.com"); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected ErrNoActiveChallenge, got %v", err)
	}
	if len(sender.messages) != 0 {
		t.Fatalf("no code may be delivered without a pending login: %v", sender.messages)
	}
	if _, err := engine.ConfirmLoginSMS(ctx, "a@x.com", "000000"); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("expected ErrNoActiveChallenge, got %v", err)
	}

	// A resend inside an actual step-up still works.
	if _, err := engine.LoginWithResult(ctx, "a@x.com", "hunter2"); err != nil {
		t.Fatalf("LoginWithResult failed: %v", err)
	}
	if err := engine.ResendLoginSMS(ctx, "a@x.com"); err != nil {
		t.Fatalf("ResendLoginSMS failed mid step-up: %v", err)
	}
	if _, err := engine.ConfirmLoginSMS(ctx, "a@x.com", sender.lastCode(t)); err != nil {
		t.Fatalf("ConfirmLoginSMS failed: %v", err)
	}
}
