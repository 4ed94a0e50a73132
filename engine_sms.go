package stepauth

import "context"

// ConfigureSMS applies a partial update to the principal's SMS settings.
// Nil arguments are left unchanged. Enabling SMS requires a phone number
// either already on record or supplied in the same call.
func (e *Engine) ConfigureSMS(ctx context.Context, principal string, phoneNumber *string, enabled *bool) error {
	if e == nil || e.settings == nil {
		return ErrEngineNotReady
	}
	if principal == "" {
		return ErrSMSNotConfigured
	}

	if enabled != nil && *enabled {
		phone := ""
		if phoneNumber != nil {
			phone = *phoneNumber
		} else {
			settings, err := e.settings.Get(ctx, principal)
			if err != nil {
				return ErrBackendUnavailable
			}
			phone = settings.PhoneNumber
		}
		if phone == "" {
			return ErrSMSNotConfigured
		}
	}

	if err := e.settings.SetSMSSettings(ctx, principal, phoneNumber, enabled); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventSMSSettingsUpdated, true, principal, nil, func() map[string]string {
		meta := map[string]string{}
		if phoneNumber != nil {
			meta["phone"] = maskPhone(*phoneNumber)
		}
		if enabled != nil {
			if *enabled {
				meta["enabled"] = "true"
			} else {
				meta["enabled"] = "false"
			}
		}
		return meta
	})
	return nil
}

// ResendLoginSMS delivers a fresh code for a step-up already in progress,
// superseding the outstanding challenge. It fails with [ErrSMSNotConfigured]
// when SMS-MFA is not enabled for the principal, and with
// [ErrNoActiveChallenge] when no login put a challenge in flight: a resend
// never opens a verification path of its own.
func (e *Engine) ResendLoginSMS(ctx context.Context, principal string) error {
	if e == nil || e.settings == nil {
		return ErrEngineNotReady
	}
	if principal == "" {
		return ErrSMSNotConfigured
	}

	settings, err := e.settings.Get(ctx, principal)
	if err != nil {
		return ErrBackendUnavailable
	}
	if !settings.SMSEnabled || settings.PhoneNumber == "" {
		return ErrSMSNotConfigured
	}

	return e.issueSMSChallenge(ctx, principal, settings.PhoneNumber, true)
}
