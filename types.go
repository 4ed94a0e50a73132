package stepauth

import (
	"context"
	"time"
)

// MFAKind identifies which second factor a login is waiting on.
type MFAKind string

const (
	// MFAKindSMS marks a login waiting on an out-of-band SMS code.
	MFAKindSMS MFAKind = "sms"
	// MFAKindTOTP marks a login waiting on an authenticator-app code.
	MFAKindTOTP MFAKind = "totp"
)

// LoginResult is returned by [Engine.LoginWithResult] and the Confirm*
// operations. Either Token is set (authenticated) or MFARequired is true and
// MFAKind names the factor the caller must satisfy next.
type LoginResult struct {
	// Token is the signed bearer token. Empty while a second factor is
	// outstanding.
	Token string
	// Principal is the canonical account identifier resolved by the
	// primary credential check.
	Principal string
	// MFARequired is true when the caller must complete a second factor
	// before a token is issued.
	MFARequired bool
	// MFAKind is "sms" or "totp" when MFARequired is true.
	MFAKind MFAKind
	// PhoneHint is the masked delivery number for SMS challenges, e.g.
	// "•••••••1234". Empty for TOTP.
	PhoneHint string
}

// TOTPSetup is returned by [Engine.BeginTOTPEnrollment]. The secret is not
// considered enabled until a code is verified through ConfirmTOTPEnrollment.
type TOTPSetup struct {
	// SecretBase32 is the shared secret, base32 without padding, for
	// manual entry into an authenticator app.
	SecretBase32 string
	// URI is the otpauth:// provisioning URI.
	URI string
	// QRPNG is the provisioning URI rendered as a PNG QR code. Nil when
	// QR rendering is disabled in config.
	QRPNG []byte
}

// MFASettings is the per-principal second-factor record. A default disabled
// record is materialized lazily on first read.
//
// Invariant: TOTPEnabled implies TOTPSecret is non-empty. A secret may be
// present with TOTPEnabled false while enrollment is unconfirmed.
type MFASettings struct {
	Principal   string
	TOTPEnabled bool
	TOTPSecret  []byte
	SMSEnabled  bool
	PhoneNumber string
}

// SMSChallenge is the short-lived one-time-code record held by a
// [ChallengeStore]. At most one challenge is live per principal; issuing a
// new one replaces any outstanding record.
type SMSChallenge struct {
	// ID correlates audit events for one challenge lifecycle.
	ID string
	// Code is the 6-digit numeric code as delivered.
	Code string
	// ExpiresAt is the absolute expiry as a Unix timestamp.
	ExpiresAt int64
	// Attempts counts failed verification attempts against this record.
	Attempts uint16
}

// SettingsStore persists per-principal MFA configuration. Implementations
// must serialize mutations per principal: concurrent writes for the same key
// must not produce lost updates. Operations on distinct principals may
// proceed in parallel.
//
// Infrastructure faults are reported as errors wrapping
// [ErrSettingsStoreBackend].
type SettingsStore interface {
	// Get returns the settings record for the principal, creating a
	// default disabled record on first access.
	Get(ctx context.Context, principal string) (MFASettings, error)
	// SetTOTPSecret stores a provisioned (not yet enabled) secret.
	SetTOTPSecret(ctx context.Context, principal string, secret []byte) error
	// EnableTOTP flips the enabled flag. Fails with
	// [ErrSettingsSecretMissing] when no secret is on record.
	EnableTOTP(ctx context.Context, principal string) error
	// DisableTOTP clears the enabled flag and the secret.
	DisableTOTP(ctx context.Context, principal string) error
	// SetSMSSettings applies a partial update: nil fields are left
	// unchanged.
	SetSMSSettings(ctx context.Context, principal string, phoneNumber *string, enabled *bool) error
}

// ChallengeStore holds at most one live SMS challenge per principal.
//
// Consume performs the whole verification transition atomically: a matching
// unexpired code deletes the record and returns nil (one-shot success); a
// mismatch increments Attempts and returns [ErrChallengeMismatch] with the
// record retained, or [ErrChallengeStoreExceeded] with the record removed
// once maxAttempts is reached; an expired record is removed and
// [ErrChallengeStoreExpired] returned; a missing record returns
// [ErrChallengeNotFound].
//
// Replace swaps the outstanding challenge for a new one and fails with
// [ErrChallengeNotFound] when the principal has no live record, so a resend
// can only ever supersede a code that a login created. DeleteIf removes the
// record only when its ID matches, reporting whether anything was removed.
type ChallengeStore interface {
	Put(ctx context.Context, principal string, challenge SMSChallenge, ttl time.Duration) error
	Replace(ctx context.Context, principal string, challenge SMSChallenge, ttl time.Duration) error
	Consume(ctx context.Context, principal, code string, maxAttempts int) error
	Delete(ctx context.Context, principal string) (bool, error)
	DeleteIf(ctx context.Context, principal, challengeID string) (bool, error)
}

// CredentialChecker validates the primary factor against an external
// credential source (password hash table, IdP, directory).
//
// VerifyPrimary returns the canonical principal identifier and true on
// success. A false return means the credentials did not match; the engine
// reports it as [ErrInvalidCredentials] without further detail. A non-nil
// error means the check itself could not run.
type CredentialChecker interface {
	VerifyPrimary(ctx context.Context, identifier, secret string) (string, bool, error)
}

// SMSSender delivers a one-time code out of band. Implementations should
// apply their own bounded timeout; a returned error is surfaced as
// [ErrDeliveryFailed] and never crashes the engine.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}
