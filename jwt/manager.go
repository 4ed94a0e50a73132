package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed is returned for input that is not structurally a
	// signed token.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned when the signature does not verify
	// under the configured key.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenExpired is returned when the embedded expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other validation failure.
	ErrTokenInvalid = errors.New("token invalid")
)

const minKeyBytes = 32

// Config holds the issuer parameters. The signing key is process-wide
// state: loaded once, validated at construction, never rotated by this
// package.
type Config struct {
	// TTL is the validity window embedded in every issued token.
	TTL time.Duration
	// SigningKey is the HS256 symmetric key, minimum 32 bytes.
	SigningKey []byte
	// Issuer is stamped into and required from the iss claim when set.
	Issuer string
	// Leeway tolerates clock skew during validation.
	Leeway time.Duration
}

// Manager mints and validates HS256 bearer tokens binding a principal,
// issue time and expiry. Tokens are stateless: validity is entirely the
// signature plus the embedded timestamps.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.SigningKey) < minKeyBytes {
		return nil, errors.New("signing key too short")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Issue mints a token with subject = principal, iat = now and
// exp = now + TTL.
func (m *Manager) Issue(principal string) (string, error) {
	return m.issueAt(principal, time.Now())
}

func (m *Manager) issueAt(principal string, now time.Time) (string, error) {
	if principal == "" {
		return "", errors.New("empty principal")
	}

	claims := jwt.RegisteredClaims{
		Subject:   principal,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
	}
	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.SigningKey)
}

// Parse validates a token and returns its principal. Failures are
// distinguishable via [ErrTokenMalformed], [ErrTokenSignature] and
// [ErrTokenExpired].
func (m *Manager) Parse(tokenStr string) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		return "", mapParseError(err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}

	return claims.Subject, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return ErrTokenInvalid
	}
}
