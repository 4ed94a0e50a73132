package stepauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
)

/*
====================================
IN-MEMORY SETTINGS STORE
====================================
*/

// MemorySettingsStore keeps MFA settings in process memory. It is the
// default store when no Redis client is supplied and the reference store for
// tests. Mutations are serialized per principal by a keyed mutex.
type MemorySettingsStore struct {
	mu      sync.Mutex
	records map[string]*memorySettingsEntry
}

type memorySettingsEntry struct {
	mu       sync.Mutex
	settings MFASettings
}

// NewMemorySettingsStore returns an empty in-memory store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{records: make(map[string]*memorySettingsEntry)}
}

func (s *MemorySettingsStore) entry(principal string) *memorySettingsEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[principal]
	if !ok {
		e = &memorySettingsEntry{settings: MFASettings{Principal: principal}}
		s.records[principal] = e
	}
	return e
}

// Get implements [SettingsStore]. First access materializes a default
// disabled record.
func (s *MemorySettingsStore) Get(_ context.Context, principal string) (MFASettings, error) {
	e := s.entry(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.settings
	out.TOTPSecret = cloneBytes(e.settings.TOTPSecret)
	return out, nil
}

// SetTOTPSecret implements [SettingsStore].
func (s *MemorySettingsStore) SetTOTPSecret(_ context.Context, principal string, secret []byte) error {
	e := s.entry(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.TOTPSecret = cloneBytes(secret)
	return nil
}

// EnableTOTP implements [SettingsStore].
func (s *MemorySettingsStore) EnableTOTP(_ context.Context, principal string) error {
	e := s.entry(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.settings.TOTPSecret) == 0 {
		return ErrSettingsSecretMissing
	}
	e.settings.TOTPEnabled = true
	return nil
}

// DisableTOTP implements [SettingsStore]. The secret is cleared together
// with the flag so a later re-enrollment always starts from a fresh secret.
func (s *MemorySettingsStore) DisableTOTP(_ context.Context, principal string) error {
	e := s.entry(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.TOTPEnabled = false
	e.settings.TOTPSecret = nil
	return nil
}

// SetSMSSettings implements [SettingsStore]. Nil fields are left untouched.
func (s *MemorySettingsStore) SetSMSSettings(_ context.Context, principal string, phoneNumber *string, enabled *bool) error {
	e := s.entry(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	if phoneNumber != nil {
		e.settings.PhoneNumber = *phoneNumber
	}
	if enabled != nil {
		e.settings.SMSEnabled = *enabled
	}
	return nil
}

/*
====================================
REDIS SETTINGS STORE
====================================
*/

const (
	settingsKeyPrefix     = "mfs"
	settingsRecordVersion = 1
	settingsWatchRetries  = 4
)

// RedisSettingsStore persists MFA settings as versioned binary records.
// Read-modify-write operations run under WATCH so concurrent mutations for
// the same principal never lose updates.
type RedisSettingsStore struct {
	redis *redis.Client
}

// NewRedisSettingsStore wraps an existing Redis client.
func NewRedisSettingsStore(client *redis.Client) *RedisSettingsStore {
	return &RedisSettingsStore{redis: client}
}

func (s *RedisSettingsStore) key(principal string) string {
	return settingsKeyPrefix + ":" + principal
}

// Get implements [SettingsStore].
func (s *RedisSettingsStore) Get(ctx context.Context, principal string) (MFASettings, error) {
	data, err := s.redis.Get(ctx, s.key(principal)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return MFASettings{Principal: principal}, nil
		}
		return MFASettings{}, fmt.Errorf("%w: %v", ErrSettingsStoreBackend, err)
	}
	rec, err := decodeSettings(data)
	if err != nil {
		return MFASettings{}, fmt.Errorf("%w: %v", ErrSettingsStoreBackend, err)
	}
	rec.Principal = principal
	return rec, nil
}

// SetTOTPSecret implements [SettingsStore].
func (s *RedisSettingsStore) SetTOTPSecret(ctx context.Context, principal string, secret []byte) error {
	return s.update(ctx, principal, func(rec *MFASettings) error {
		rec.TOTPSecret = cloneBytes(secret)
		return nil
	})
}

// EnableTOTP implements [SettingsStore].
func (s *RedisSettingsStore) EnableTOTP(ctx context.Context, principal string) error {
	return s.update(ctx, principal, func(rec *MFASettings) error {
		if len(rec.TOTPSecret) == 0 {
			return ErrSettingsSecretMissing
		}
		rec.TOTPEnabled = true
		return nil
	})
}

// DisableTOTP implements [SettingsStore].
func (s *RedisSettingsStore) DisableTOTP(ctx context.Context, principal string) error {
	return s.update(ctx, principal, func(rec *MFASettings) error {
		rec.TOTPEnabled = false
		rec.TOTPSecret = nil
		return nil
	})
}

// SetSMSSettings implements [SettingsStore].
func (s *RedisSettingsStore) SetSMSSettings(ctx context.Context, principal string, phoneNumber *string, enabled *bool) error {
	return s.update(ctx, principal, func(rec *MFASettings) error {
		if phoneNumber != nil {
			rec.PhoneNumber = *phoneNumber
		}
		if enabled != nil {
			rec.SMSEnabled = *enabled
		}
		return nil
	})
}

func (s *RedisSettingsStore) update(ctx context.Context, principal string, mutate func(*MFASettings) error) error {
	key := s.key(principal)

	for i := 0; i < settingsWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec := MFASettings{Principal: principal}
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				decoded, derr := decodeSettings(data)
				if derr != nil {
					return derr
				}
				decoded.Principal = principal
				rec = decoded
			}

			if merr := mutate(&rec); merr != nil {
				return merr
			}

			encoded, eerr := encodeSettings(&rec)
			if eerr != nil {
				return eerr
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrSettingsSecretMissing) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrSettingsStoreBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: watch retries exhausted", ErrSettingsStoreBackend)
}

func encodeSettings(rec *MFASettings) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(settingsRecordVersion)

	var flags uint8
	if rec.TOTPEnabled {
		flags |= 1 << 0
	}
	if rec.SMSEnabled {
		flags |= 1 << 1
	}
	buf.WriteByte(flags)

	if len(rec.TOTPSecret) > 65535 || len(rec.PhoneNumber) > 65535 {
		return nil, errors.New("settings field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.TOTPSecret))); err != nil {
		return nil, err
	}
	buf.Write(rec.TOTPSecret)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.PhoneNumber))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.PhoneNumber)

	return buf.Bytes(), nil
}

func decodeSettings(data []byte) (MFASettings, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return MFASettings{}, err
	}
	if version != settingsRecordVersion {
		return MFASettings{}, errors.New("invalid settings record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return MFASettings{}, err
	}

	var rec MFASettings
	rec.TOTPEnabled = flags&(1<<0) != 0
	rec.SMSEnabled = flags&(1<<1) != 0

	var secretLen uint16
	if err := binary.Read(reader, binary.BigEndian, &secretLen); err != nil {
		return MFASettings{}, err
	}
	if secretLen > 0 {
		secret := make([]byte, secretLen)
		if _, err := io.ReadFull(reader, secret); err != nil {
			return MFASettings{}, err
		}
		rec.TOTPSecret = secret
	}

	var phoneLen uint16
	if err := binary.Read(reader, binary.BigEndian, &phoneLen); err != nil {
		return MFASettings{}, err
	}
	phone := make([]byte, phoneLen)
	if _, err := io.ReadFull(reader, phone); err != nil {
		return MFASettings{}, err
	}
	rec.PhoneNumber = string(phone)

	return rec, nil
}
