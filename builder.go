package stepauth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/cyberscope/stepauth/jwt"
)

// Builder assembles an [Engine]. A Builder is single-use: Build succeeds at
// most once.
type Builder struct {
	config Config
	redis  *redis.Client

	settings    SettingsStore
	challenges  ChallengeStore
	credentials CredentialChecker
	sms         SMSSender
	auditSink   AuditSink

	built bool
}

// New returns a Builder preloaded with defaults. The caller must still
// provide a signing key and a [CredentialChecker].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-valued sections fail
// validation at Build; start from [New]'s defaults when only overriding
// individual fields.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSigningKey sets the token signing key on top of the current config.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.Token.SigningKey = cloneBytes(key)
	return b
}

// WithRedis backs both stores with Redis unless explicit stores are also
// supplied. Without a Redis client the engine falls back to the in-memory
// stores, which do not survive process restarts.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithSettingsStore overrides the MFA settings store.
func (b *Builder) WithSettingsStore(store SettingsStore) *Builder {
	b.settings = store
	return b
}

// WithChallengeStore overrides the SMS challenge store.
func (b *Builder) WithChallengeStore(store ChallengeStore) *Builder {
	b.challenges = store
	return b
}

// WithCredentialChecker sets the primary-factor collaborator. Required.
func (b *Builder) WithCredentialChecker(checker CredentialChecker) *Builder {
	b.credentials = checker
	return b
}

// WithSMSSender sets the SMS delivery collaborator. Required only when any
// principal will use SMS-MFA.
func (b *Builder) WithSMSSender(sender SMSSender) *Builder {
	b.sms = sender
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the counter registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires defaults for any store not
// explicitly supplied, and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.credentials == nil {
		return nil, errors.New("credential checker required")
	}

	settings := b.settings
	if settings == nil {
		if b.redis != nil {
			settings = NewRedisSettingsStore(b.redis)
		} else {
			settings = NewMemorySettingsStore()
		}
	}

	challenges := b.challenges
	if challenges == nil {
		if b.redis != nil {
			challenges = NewRedisChallengeStore(b.redis)
		} else {
			challenges = NewMemoryChallengeStore()
		}
	}

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:        cfg.Token.TTL,
		SigningKey: cloneBytes(cfg.Token.SigningKey),
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		settings:    settings,
		challenges:  challenges,
		credentials: b.credentials,
		sms:         b.sms,
		totp:        newTOTPManager(cfg.TOTP),
		tokens:      tokens,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}
