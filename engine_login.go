package stepauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyberscope/stepauth/internal"
)

// Login validates the primary credential and, when no second factor is
// enabled, returns a bearer token directly. When a second factor is
// outstanding it fails with [ErrSecondFactorRequired]; callers that handle
// step-up should use [Engine.LoginWithResult] instead.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (string, error) {
	result, err := e.LoginWithResult(ctx, identifier, secret)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", ErrEngineNotReady
	}
	if result.MFARequired {
		return "", ErrSecondFactorRequired
	}
	return result.Token, nil
}

// LoginWithResult runs the first half of the state machine: primary
// credential check, then either direct token issuance or a transition to a
// pending second factor.
//
// When both factors are enabled for a principal, SMS is challenged first
// unless Config.SMS.PreferTOTP is set.
func (e *Engine) LoginWithResult(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if e == nil || e.credentials == nil || e.settings == nil {
		return nil, ErrEngineNotReady
	}

	principal, ok, err := e.credentials.VerifyPrimary(ctx, identifier, secret)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "credential_backend",
			}
		})
		return nil, ErrBackendUnavailable
	}
	if !ok || principal == "" {
		// Unknown account and wrong password are reported identically.
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
			}
		})
		return nil, ErrInvalidCredentials
	}
	secret = ""

	settings, err := e.settings.Get(ctx, principal)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal, ErrBackendUnavailable, nil)
		return nil, ErrBackendUnavailable
	}

	smsReady := settings.SMSEnabled && settings.PhoneNumber != ""
	totpReady := settings.TOTPEnabled && len(settings.TOTPSecret) > 0

	if smsReady && (!e.config.SMS.PreferTOTP || !totpReady) {
		if err := e.issueSMSChallenge(ctx, principal, settings.PhoneNumber, false); err != nil {
			return nil, err
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, principal, nil, func() map[string]string {
			return map[string]string{
				"factor": string(MFAKindSMS),
			}
		})
		return &LoginResult{
			Principal:   principal,
			MFARequired: true,
			MFAKind:     MFAKindSMS,
			PhoneHint:   maskPhone(settings.PhoneNumber),
		}, nil
	}

	if totpReady {
		// TOTP is time-derived; no challenge record is created.
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, principal, nil, func() map[string]string {
			return map[string]string{
				"factor": string(MFAKindTOTP),
			}
		})
		return &LoginResult{
			Principal:   principal,
			MFARequired: true,
			MFAKind:     MFAKindTOTP,
		}, nil
	}

	token, err := e.issueToken(ctx, principal)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principal, nil, nil)
	return &LoginResult{
		Token:     token,
		Principal: principal,
	}, nil
}

// ConfirmLoginSMS completes an SMS step-up. A matching unexpired code is
// consumed exactly once: a repeat submission of the same code fails with
// [ErrNoActiveChallenge]. A mismatch keeps the challenge alive for retry
// until Config.SMS.MaxAttempts is reached.
func (e *Engine) ConfirmLoginSMS(ctx context.Context, principal, code string) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if principal == "" {
		return nil, ErrNoActiveChallenge
	}

	code = strings.TrimSpace(code)
	if err := e.challenges.Consume(ctx, principal, code, e.config.SMS.MaxAttempts); err != nil {
		mapped := mapChallengeStoreError(err)
		e.metricInc(MetricSMSConfirmFailure)
		if errors.Is(mapped, ErrChallengeExpired) {
			e.metricInc(MetricSMSChallengeExpired)
		}
		e.emitAudit(ctx, auditEventSMSConfirmFailure, false, principal, mapped, nil)
		return nil, mapped
	}

	token, err := e.issueToken(ctx, principal)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSMSConfirmSuccess)
	e.emitAudit(ctx, auditEventSMSConfirmSuccess, true, principal, nil, nil)
	return &LoginResult{
		Token:     token,
		Principal: principal,
	}, nil
}

// ConfirmLoginTOTP completes a TOTP step-up by checking the submitted code
// against the principal's stored secret within the configured skew window.
func (e *Engine) ConfirmLoginTOTP(ctx context.Context, principal, code string) (*LoginResult, error) {
	if e == nil || e.settings == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if principal == "" {
		return nil, ErrMFANotInitialized
	}

	settings, err := e.settings.Get(ctx, principal)
	if err != nil {
		e.metricInc(MetricTOTPConfirmFailure)
		e.emitAudit(ctx, auditEventTOTPConfirmFailure, false, principal, ErrBackendUnavailable, nil)
		return nil, ErrBackendUnavailable
	}
	if !settings.TOTPEnabled || len(settings.TOTPSecret) == 0 {
		e.metricInc(MetricTOTPConfirmFailure)
		e.emitAudit(ctx, auditEventTOTPConfirmFailure, false, principal, ErrMFANotInitialized, nil)
		return nil, ErrMFANotInitialized
	}

	ok, verr := e.totp.VerifyCode(settings.TOTPSecret, code, time.Now())
	if verr != nil || !ok {
		e.metricInc(MetricTOTPConfirmFailure)
		e.emitAudit(ctx, auditEventTOTPConfirmFailure, false, principal, ErrCodeInvalid, nil)
		return nil, ErrCodeInvalid
	}

	token, err := e.issueToken(ctx, principal)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPConfirmSuccess)
	e.emitAudit(ctx, auditEventTOTPConfirmSuccess, true, principal, nil, nil)
	return &LoginResult{
		Token:     token,
		Principal: principal,
	}, nil
}

// issueSMSChallenge generates, stores and delivers a one-time code. With
// resend set, the store swap only succeeds against a live challenge: a
// resend can supersede a code a login created, never mint the first one.
func (e *Engine) issueSMSChallenge(ctx context.Context, principal, phoneNumber string, resend bool) error {
	if e.challenges == nil || e.sms == nil {
		return ErrEngineNotReady
	}
	if phoneNumber == "" {
		return ErrSMSNotConfigured
	}

	code, err := internal.NewNumericCode(e.config.SMS.CodeDigits)
	if err != nil {
		return ErrBackendUnavailable
	}

	challenge := SMSChallenge{
		ID:        uuid.NewString(),
		Code:      code,
		ExpiresAt: time.Now().Add(e.config.SMS.ChallengeTTL).Unix(),
	}
	if resend {
		if err := e.challenges.Replace(ctx, principal, challenge, e.config.SMS.ChallengeTTL); err != nil {
			if errors.Is(err, ErrChallengeNotFound) {
				return ErrNoActiveChallenge
			}
			return ErrBackendUnavailable
		}
	} else if err := e.challenges.Put(ctx, principal, challenge, e.config.SMS.ChallengeTTL); err != nil {
		return ErrBackendUnavailable
	}

	message := fmt.Sprintf(e.config.SMS.MessageTemplate, code)
	if err := e.sms.Send(ctx, phoneNumber, message); err != nil {
		// Roll back only this challenge: a concurrent issuance may have
		// stored a fresh one that was delivered.
		_, _ = e.challenges.DeleteIf(ctx, principal, challenge.ID)
		e.metricInc(MetricSMSDeliveryFailure)
		e.emitAudit(ctx, auditEventSMSDeliveryFailed, false, principal, ErrDeliveryFailed, func() map[string]string {
			return map[string]string{
				"challenge_id": challenge.ID,
			}
		})
		return ErrDeliveryFailed
	}

	e.metricInc(MetricSMSChallengeIssued)
	e.emitAudit(ctx, auditEventSMSIssued, true, principal, nil, func() map[string]string {
		return map[string]string{
			"challenge_id": challenge.ID,
		}
	})
	return nil
}

// maskPhone keeps the trailing digits visible, e.g. "•••••••1234".
func maskPhone(phone string) string {
	const visible = 4
	runes := []rune(phone)
	if len(runes) <= visible {
		return phone
	}
	return strings.Repeat("•", len(runes)-visible) + string(runes[len(runes)-visible:])
}
