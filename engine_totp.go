package stepauth

import (
	"context"
	"errors"
	"time"
)

// BeginTOTPEnrollment provisions a TOTP secret for the principal and returns
// setup material (base32 secret, otpauth URI and optionally a QR PNG). The
// secret is stored but stays disabled until [Engine.ConfirmTOTPEnrollment]
// verifies a code against it.
//
// The call is idempotent: an existing unconfirmed secret is reused rather
// than rotated, so a user who reopens the setup screen keeps scanning the
// same QR.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, principal string) (*TOTPSetup, error) {
	if e == nil || e.settings == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if principal == "" {
		return nil, ErrMFANotInitialized
	}

	settings, err := e.settings.Get(ctx, principal)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if settings.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	secret := settings.TOTPSecret
	if len(secret) == 0 {
		raw, _, gerr := e.totp.GenerateSecret()
		if gerr != nil {
			return nil, ErrBackendUnavailable
		}
		if serr := e.settings.SetTOTPSecret(ctx, principal, raw); serr != nil {
			return nil, ErrBackendUnavailable
		}
		secret = raw
	}

	secretBase32 := b32.EncodeToString(secret)
	uri := e.totp.ProvisionURI(secretBase32, principal)
	png, err := provisionQR(uri, e.config.TOTP.QRSize)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, principal, nil, nil)
	return &TOTPSetup{
		SecretBase32: secretBase32,
		URI:          uri,
		QRPNG:        png,
	}, nil
}

// ConfirmTOTPEnrollment verifies a code against the provisioned secret and,
// only on success, flips TOTP on for the principal. A wrong code leaves the
// enrollment unconfirmed; the provisioned secret stays reusable.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, principal, code string) error {
	if e == nil || e.settings == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if principal == "" {
		return ErrMFANotInitialized
	}

	settings, err := e.settings.Get(ctx, principal)
	if err != nil {
		return ErrBackendUnavailable
	}
	if len(settings.TOTPSecret) == 0 {
		return ErrMFANotInitialized
	}

	ok, verr := e.totp.VerifyCode(settings.TOTPSecret, code, time.Now())
	if verr != nil || !ok {
		e.metricInc(MetricTOTPConfirmFailure)
		e.emitAudit(ctx, auditEventTOTPConfirmFailure, false, principal, ErrCodeInvalid, func() map[string]string {
			return map[string]string{
				"stage": "enrollment",
			}
		})
		return ErrCodeInvalid
	}

	if err := e.settings.EnableTOTP(ctx, principal); err != nil {
		// A concurrent disable may clear the secret between the read
		// above and the enable.
		if errors.Is(err, ErrSettingsSecretMissing) {
			return ErrMFANotInitialized
		}
		return ErrBackendUnavailable
	}

	e.metricInc(MetricEnrollmentConfirmed)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, principal, nil, nil)
	return nil
}

// DisableTOTP clears the enabled flag and the stored secret. A later
// enrollment starts from a fresh secret.
func (e *Engine) DisableTOTP(ctx context.Context, principal string) error {
	if e == nil || e.settings == nil {
		return ErrEngineNotReady
	}
	if principal == "" {
		return ErrMFANotInitialized
	}

	if err := e.settings.DisableTOTP(ctx, principal); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, principal, nil, nil)
	return nil
}
