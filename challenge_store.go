package stepauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
====================================
IN-MEMORY CHALLENGE STORE
====================================
*/

// MemoryChallengeStore keeps SMS challenges in process memory. Expiry is
// checked lazily during Consume; no background sweep is required for
// correctness.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]*SMSChallenge
}

// NewMemoryChallengeStore returns an empty in-memory store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{records: make(map[string]*SMSChallenge)}
}

// Put implements [ChallengeStore]. Any outstanding challenge for the
// principal is replaced.
func (s *MemoryChallengeStore) Put(_ context.Context, principal string, challenge SMSChallenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := challenge
	s.records[principal] = &c
	return nil
}

// Replace implements [ChallengeStore]. An expired record counts as absent.
func (s *MemoryChallengeStore) Replace(_ context.Context, principal string, challenge SMSChallenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principal]
	if !ok {
		return ErrChallengeNotFound
	}
	if time.Now().Unix() > rec.ExpiresAt {
		delete(s.records, principal)
		return ErrChallengeNotFound
	}

	c := challenge
	s.records[principal] = &c
	return nil
}

// Consume implements [ChallengeStore].
func (s *MemoryChallengeStore) Consume(_ context.Context, principal, code string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principal]
	if !ok {
		return ErrChallengeNotFound
	}
	if time.Now().Unix() > rec.ExpiresAt {
		delete(s.records, principal)
		return ErrChallengeStoreExpired
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		rec.Attempts++
		if int(rec.Attempts) >= maxAttempts {
			delete(s.records, principal)
			return ErrChallengeStoreExceeded
		}
		return ErrChallengeMismatch
	}

	delete(s.records, principal)
	return nil
}

// Delete implements [ChallengeStore].
func (s *MemoryChallengeStore) Delete(_ context.Context, principal string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[principal]
	delete(s.records, principal)
	return ok, nil
}

// DeleteIf implements [ChallengeStore].
func (s *MemoryChallengeStore) DeleteIf(_ context.Context, principal, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principal]
	if !ok || rec.ID != challengeID {
		return false, nil
	}
	delete(s.records, principal)
	return true, nil
}

/*
====================================
REDIS CHALLENGE STORE
====================================
*/

const (
	challengeKeyPrefix     = "smc"
	challengeRecordVersion = 1
	challengeWatchRetries  = 4
)

// RedisChallengeStore persists SMS challenges as versioned binary records
// with a TTL. Consume runs under WATCH so the one-shot-on-success invariant
// holds across concurrent verifiers.
type RedisChallengeStore struct {
	redis *redis.Client
}

// NewRedisChallengeStore wraps an existing Redis client.
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{redis: client}
}

func (s *RedisChallengeStore) key(principal string) string {
	return challengeKeyPrefix + ":" + principal
}

// Put implements [ChallengeStore].
func (s *RedisChallengeStore) Put(ctx context.Context, principal string, challenge SMSChallenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(&challenge)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
	}
	if err := s.redis.Set(ctx, s.key(principal), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
	}
	return nil
}

// Replace implements [ChallengeStore]. Runs under WATCH so the existence
// check and the swap are atomic against concurrent Consume or Delete.
func (s *RedisChallengeStore) Replace(ctx context.Context, principal string, challenge SMSChallenge, ttl time.Duration) error {
	key := s.key(principal)
	encoded, err := encodeChallenge(&challenge)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
	}

	for i := 0; i < challengeWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > rec.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil), errors.Is(err, ErrChallengeNotFound):
			return ErrChallengeNotFound
		default:
			return fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
		}
	}

	return fmt.Errorf("%w: watch retries exhausted", ErrChallengeStoreBackend)
}

// Consume implements [ChallengeStore].
func (s *RedisChallengeStore) Consume(ctx context.Context, principal, code string, maxAttempts int) error {
	key := s.key(principal)

	for i := 0; i < challengeWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > rec.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeStoreExpired
			}

			if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
				rec.Attempts++
				if int(rec.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return ErrChallengeStoreExceeded
				}
				ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return ErrChallengeStoreExpired
				}
				updated, eerr := encodeChallenge(rec)
				if eerr != nil {
					return eerr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeMismatch
			}

			return txDelete(ctx, tx, key)
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return ErrChallengeNotFound
		case errors.Is(err, ErrChallengeStoreExpired),
			errors.Is(err, ErrChallengeStoreExceeded),
			errors.Is(err, ErrChallengeMismatch):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
		}
	}

	return fmt.Errorf("%w: watch retries exhausted", ErrChallengeStoreBackend)
}

// Delete implements [ChallengeStore].
func (s *RedisChallengeStore) Delete(ctx context.Context, principal string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(principal)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
	}
	return n > 0, nil
}

// DeleteIf implements [ChallengeStore]. The ID check and the delete run
// under WATCH so a challenge stored by a concurrent issuance is never
// removed by another issuance's rollback.
func (s *RedisChallengeStore) DeleteIf(ctx context.Context, principal, challengeID string) (bool, error) {
	key := s.key(principal)

	for i := 0; i < challengeWatchRetries; i++ {
		deleted := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if rec.ID != challengeID {
				return nil
			}
			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}
			deleted = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrChallengeStoreBackend, err)
		}
		return deleted, nil
	}

	return false, fmt.Errorf("%w: watch retries exhausted", ErrChallengeStoreBackend)
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeChallenge(rec *SMSChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion)

	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	if len(rec.ID) > 255 || len(rec.Code) > 255 {
		return nil, errors.New("challenge field length exceeded")
	}
	buf.WriteByte(byte(len(rec.ID)))
	buf.WriteString(rec.ID)
	buf.WriteByte(byte(len(rec.Code)))
	buf.WriteString(rec.Code)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*SMSChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion {
		return nil, errors.New("invalid challenge record version")
	}

	rec := &SMSChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	idLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	rec.ID = string(id)

	codeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	codeBytes := make([]byte, codeLen)
	if _, err := io.ReadFull(reader, codeBytes); err != nil {
		return nil, err
	}
	rec.Code = string(codeBytes)

	return rec, nil
}
