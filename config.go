package stepauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the process-wide engine configuration. It is loaded once through
// [Builder.WithConfig], validated at Build, and never reloaded mid-request.
type Config struct {
	Token   TokenConfig
	TOTP    TOTPConfig
	SMS     SMSConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls the bearer-token issuer.
type TokenConfig struct {
	// TTL is the fixed validity window embedded in every token.
	TTL time.Duration
	// SigningKey is the symmetric HS256 key. Must be at least
	// minSigningKeyBytes of real entropy; never a source literal.
	SigningKey []byte
	// Issuer is stamped into the iss claim when non-empty.
	Issuer string
	// Leeway tolerates clock skew between issuer and verifier.
	Leeway time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls secret provisioning and code verification.
type TOTPConfig struct {
	// Issuer is embedded in provisioning URIs and shown by authenticator
	// apps.
	Issuer string
	// Digits is the code length. Default 6.
	Digits int
	// Period is the time step in seconds. Default 30.
	Period int
	// Algorithm selects the HMAC hash: SHA1 (default), SHA256 or SHA512.
	Algorithm string
	// Skew is the clock-drift tolerance in time steps on each side of
	// the current counter. The default of 2 accepts codes within ±60s,
	// trading a wider replay window for usability; set 1 for the
	// stricter ±30s policy.
	Skew int
	// QRSize is the provisioning QR code edge length in pixels. 0
	// disables QR rendering in TOTPSetup.
	QRSize int
}

/*
====================================
SMS CONFIG
====================================
*/

// SMSConfig controls the out-of-band code challenge.
type SMSConfig struct {
	// CodeDigits is the one-time-code length. Default 6.
	CodeDigits int
	// ChallengeTTL bounds how long an issued code stays valid. Default
	// 5 minutes.
	ChallengeTTL time.Duration
	// MaxAttempts caps failed verifications per challenge before it is
	// invalidated. Default 5.
	MaxAttempts int
	// MessageTemplate formats the delivered text; it must contain one
	// %s verb for the code.
	MessageTemplate string
	// PreferTOTP flips the factor priority when a principal has both
	// factors enabled. The default (false) challenges SMS first, which
	// matches the historical behavior of the platform; it is a policy
	// choice, not a security requirement.
	PreferTOTP bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking request goroutines
	// when the buffer is saturated. Dropped counts are observable via
	// [Engine.AuditDropped].
	DropIfFull bool
}

// MetricsConfig controls the in-process counter registry.
type MetricsConfig struct {
	Enabled bool
}

const minSigningKeyBytes = 32

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:    24 * time.Hour,
			Leeway: 30 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:    "CyberScope",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      2,
			QRSize:    256,
		},
		SMS: SMSConfig{
			CodeDigits:      6,
			ChallengeTTL:    5 * time.Minute,
			MaxAttempts:     5,
			MessageTemplate: "Your verification code is %s",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for values the engine cannot operate
// with. It is called by [Builder.Build]; direct callers only need it when
// constructing configs programmatically.
func (c Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be positive")
	}
	if len(c.Token.SigningKey) < minSigningKeyBytes {
		return fmt.Errorf("Token SigningKey must be at least %d bytes", minSigningKeyBytes)
	}
	if allSameByte(c.Token.SigningKey) {
		return errors.New("Token SigningKey has insufficient entropy")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway out of range")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP Digits out of range")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("TOTP Period out of range")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 4 {
		return errors.New("TOTP Skew out of range")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm unsupported")
	}
	if c.TOTP.QRSize < 0 {
		return errors.New("TOTP QRSize must not be negative")
	}
	if c.SMS.CodeDigits < 6 || c.SMS.CodeDigits > 10 {
		return errors.New("SMS CodeDigits out of range")
	}
	if c.SMS.ChallengeTTL <= 0 {
		return errors.New("SMS ChallengeTTL must be positive")
	}
	if c.SMS.MaxAttempts <= 0 {
		return errors.New("SMS MaxAttempts must be positive")
	}
	if !strings.Contains(c.SMS.MessageTemplate, "%s") {
		return errors.New("SMS MessageTemplate must contain a %s verb for the code")
	}
	return nil
}

func allSameByte(b []byte) bool {
	for _, v := range b[1:] {
		if v != b[0] {
			return false
		}
	}
	return true
}
