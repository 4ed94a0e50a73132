package stepauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

func liveChallenge(code string) SMSChallenge {
	return SMSChallenge{
		ID:        "ch-1",
		Code:      code,
		ExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}
}

func runChallengeStoreSuite(t *testing.T, store ChallengeStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("consume without challenge", func(t *testing.T) {
		if err := store.Consume(ctx, "nobody", "123456", 5); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected ErrChallengeNotFound, got %v", err)
		}
	})

	t.Run("one-shot on success", func(t *testing.T) {
		if err := store.Put(ctx, "u1", liveChallenge("111222"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Consume(ctx, "u1", "111222", 5); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		// The accepted code must never verify twice.
		if err := store.Consume(ctx, "u1", "111222", 5); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected ErrChallengeNotFound on replay, got %v", err)
		}
	})

	t.Run("mismatch retains record", func(t *testing.T) {
		if err := store.Put(ctx, "u2", liveChallenge("333444"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Consume(ctx, "u2", "000000", 5); !errors.Is(err, ErrChallengeMismatch) {
			t.Fatalf("expected ErrChallengeMismatch, got %v", err)
		}
		if err := store.Consume(ctx, "u2", "333444", 5); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
	})

	t.Run("attempts exceeded invalidates", func(t *testing.T) {
		if err := store.Put(ctx, "u3", liveChallenge("555666"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Consume(ctx, "u3", "000000", 2); !errors.Is(err, ErrChallengeMismatch) {
			t.Fatalf("expected ErrChallengeMismatch, got %v", err)
		}
		if err := store.Consume(ctx, "u3", "000000", 2); !errors.Is(err, ErrChallengeStoreExceeded) {
			t.Fatalf("expected ErrChallengeStoreExceeded, got %v", err)
		}
		// Even the correct code is dead once the cap is hit.
		if err := store.Consume(ctx, "u3", "555666", 2); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected ErrChallengeNotFound after invalidation, got %v", err)
		}
	})

	t.Run("expired record removed", func(t *testing.T) {
		expired := SMSChallenge{
			ID:        "ch-old",
			Code:      "777888",
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		}
		if err := store.Put(ctx, "u4", expired, 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Consume(ctx, "u4", "777888", 5); !errors.Is(err, ErrChallengeStoreExpired) {
			t.Fatalf("expected ErrChallengeStoreExpired, got %v", err)
		}
		if err := store.Consume(ctx, "u4", "777888", 5); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected record gone after expiry, got %v", err)
		}
	})

	t.Run("put replaces outstanding challenge", func(t *testing.T) {
		if err := store.Put(ctx, "u5", liveChallenge("111111"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Put(ctx, "u5", liveChallenge("222222"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Consume(ctx, "u5", "111111", 5); !errors.Is(err, ErrChallengeMismatch) {
			t.Fatalf("expected old code to be invalid, got %v", err)
		}
		if err := store.Consume(ctx, "u5", "222222", 5); err != nil {
			t.Fatalf("expected replacement code to verify, got %v", err)
		}
	})

	t.Run("replace requires a live challenge", func(t *testing.T) {
		if err := store.Replace(ctx, "u7", liveChallenge("123456"), 5*time.Minute); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected ErrChallengeNotFound without a record, got %v", err)
		}
		// A record cannot be confirmable after a refused replace.
		if err := store.Consume(ctx, "u7", "123456", 5); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected no record stored, got %v", err)
		}

		if err := store.Put(ctx, "u7", liveChallenge("111111"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Replace(ctx, "u7", liveChallenge("222222"), 5*time.Minute); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
		if err := store.Consume(ctx, "u7", "111111", 5); !errors.Is(err, ErrChallengeMismatch) {
			t.Fatalf("expected superseded code to mismatch, got %v", err)
		}
		if err := store.Consume(ctx, "u7", "222222", 5); err != nil {
			t.Fatalf("replacement code failed to verify: %v", err)
		}
	})

	t.Run("replace treats expired record as absent", func(t *testing.T) {
		expired := SMSChallenge{
			ID:        "ch-stale",
			Code:      "123123",
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		}
		if err := store.Put(ctx, "u8", expired, 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Replace(ctx, "u8", liveChallenge("456456"), 5*time.Minute); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("expected ErrChallengeNotFound for expired record, got %v", err)
		}
	})

	t.Run("delete-if honors the challenge id", func(t *testing.T) {
		live := liveChallenge("654321")
		live.ID = "ch-live"
		if err := store.Put(ctx, "u9", live, 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		deleted, err := store.DeleteIf(ctx, "u9", "ch-other")
		if err != nil || deleted {
			t.Fatalf("mismatched id must not delete, got %v/%v", deleted, err)
		}
		if err := store.Consume(ctx, "u9", "654321", 5); err != nil {
			t.Fatalf("record should have survived, got %v", err)
		}

		if err := store.Put(ctx, "u9", live, 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		deleted, err = store.DeleteIf(ctx, "u9", "ch-live")
		if err != nil || !deleted {
			t.Fatalf("matching id must delete, got %v/%v", deleted, err)
		}
		deleted, err = store.DeleteIf(ctx, "u9", "ch-live")
		if err != nil || deleted {
			t.Fatalf("second delete-if must report false, got %v/%v", deleted, err)
		}
	})

	t.Run("delete reports presence", func(t *testing.T) {
		if err := store.Put(ctx, "u6", liveChallenge("999000"), 5*time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		deleted, err := store.Delete(ctx, "u6")
		if err != nil || !deleted {
			t.Fatalf("expected delete to report true, got %v/%v", deleted, err)
		}
		deleted, err = store.Delete(ctx, "u6")
		if err != nil || deleted {
			t.Fatalf("expected second delete to report false, got %v/%v", deleted, err)
		}
	})
}

func TestMemoryChallengeStore(t *testing.T) {
	runChallengeStoreSuite(t, NewMemoryChallengeStore())
}

func TestRedisChallengeStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	runChallengeStoreSuite(t, NewRedisChallengeStore(rdb))
}

func TestRedisChallengeRecordCodec(t *testing.T) {
	rec := &SMSChallenge{
		ID:        "abc-123",
		Code:      "042042",
		ExpiresAt: 1_900_000_000,
		Attempts:  3,
	}

	encoded, err := encodeChallenge(rec)
	if err != nil {
		t.Fatalf("encodeChallenge failed: %v", err)
	}
	decoded, err := decodeChallenge(encoded)
	if err != nil {
		t.Fatalf("decodeChallenge failed: %v", err)
	}
	if *decoded != *rec {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, rec)
	}

	if _, err := decodeChallenge([]byte{0xFF}); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := decodeChallenge(nil); err == nil {
		t.Fatal("expected error for empty record")
	}
}
