package stepauth

import (
	"context"
	"time"

	"github.com/cyberscope/stepauth/jwt"
)

// Engine drives the step-up authentication state machine. Construct it
// through [Builder.Build]; a zero Engine is not usable.
type Engine struct {
	config      Config
	settings    SettingsStore
	challenges  ChallengeStore
	credentials CredentialChecker
	sms         SMSSender
	totp        *totpManager
	tokens      *jwt.Manager
	audit       *auditDispatcher
	metrics     *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// VerifyToken validates a bearer token previously issued by this engine and
// returns its principal. Failure reasons are distinguishable via
// [jwt.ErrTokenMalformed], [jwt.ErrTokenSignature] and [jwt.ErrTokenExpired].
func (e *Engine) VerifyToken(token string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	return e.tokens.Parse(token)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principal string,
	cause error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Principal: principal,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) issueToken(ctx context.Context, principal string) (string, error) {
	if e.tokens == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.tokens.Issue(principal)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal, err, func() map[string]string {
			return map[string]string{
				"reason": "token_issue_failed",
			}
		})
		return "", ErrBackendUnavailable
	}
	e.metricInc(MetricTokenIssued)
	return token, nil
}
