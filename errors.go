package stepauth

import "errors"

var (
	// ErrInvalidCredentials is returned for any primary-factor failure.
	// It is deliberately generic: unknown account and wrong password are
	// indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSecondFactorRequired is returned by [Engine.Login] when the
	// principal has a second factor enabled and the caller must continue
	// with ConfirmLoginSMS or ConfirmLoginTOTP.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrMFANotInitialized is returned when an operation requires a
	// provisioned TOTP secret and none is on record.
	ErrMFANotInitialized = errors.New("mfa not initialized")
	// ErrTOTPAlreadyEnabled is returned by BeginTOTPEnrollment when TOTP is
	// already confirmed for the principal.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrCodeInvalid is returned when a submitted TOTP or SMS code does not
	// match.
	ErrCodeInvalid = errors.New("invalid code")
	// ErrChallengeExpired is returned when an SMS code is submitted after
	// its expiry. The challenge record is removed as a side effect.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrNoActiveChallenge is returned when SMS verification is attempted
	// with no outstanding challenge for the principal.
	ErrNoActiveChallenge = errors.New("no active challenge")
	// ErrChallengeAttemptsExceeded is returned once the attempt cap for an
	// outstanding SMS challenge is reached. The challenge is invalidated.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrDeliveryFailed is returned when the SMS collaborator could not
	// deliver a code. It is distinct from every verification error.
	ErrDeliveryFailed = errors.New("sms delivery failed")
	// ErrSMSNotConfigured is returned when SMS-MFA is enabled, or an SMS
	// challenge requested, without a phone number on record.
	ErrSMSNotConfigured = errors.New("sms not configured")
	// ErrBackendUnavailable is returned when a store or collaborator fails
	// for infrastructure reasons. It carries no internal detail.
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build or
	// with a required dependency missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Challenge store sentinel errors. ChallengeStore implementations outside
// this package must return these so the engine can map outcomes uniformly.
var (
	// ErrChallengeNotFound reports that no challenge exists for the
	// principal.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeMismatch reports a code mismatch; the challenge record is
	// retained so the user can retry within the window.
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	// ErrChallengeStoreExpired reports that the challenge is past expiry;
	// the record has been removed.
	ErrChallengeStoreExpired = errors.New("challenge record expired")
	// ErrChallengeStoreExceeded reports that the attempt cap was reached;
	// the record has been removed.
	ErrChallengeStoreExceeded = errors.New("challenge attempts exceeded")
	// ErrChallengeStoreBackend reports an infrastructure fault in the
	// challenge store.
	ErrChallengeStoreBackend = errors.New("challenge store unavailable")
)

// Settings store sentinel errors.
var (
	// ErrSettingsSecretMissing reports an enable attempt with no
	// provisioned secret.
	ErrSettingsSecretMissing = errors.New("totp secret missing")
	// ErrSettingsStoreBackend reports an infrastructure fault in the
	// settings store.
	ErrSettingsStoreBackend = errors.New("settings store unavailable")
)

func mapChallengeStoreError(err error) error {
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return ErrNoActiveChallenge
	case errors.Is(err, ErrChallengeStoreExpired):
		return ErrChallengeExpired
	case errors.Is(err, ErrChallengeMismatch):
		return ErrCodeInvalid
	case errors.Is(err, ErrChallengeStoreExceeded):
		return ErrChallengeAttemptsExceeded
	default:
		return ErrBackendUnavailable
	}
}
