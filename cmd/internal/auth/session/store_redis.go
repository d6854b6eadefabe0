package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements RefreshStore on Redis.
//
// Layout:
//   - <prefix>rt:<fingerprint> -> JSON record, TTL = remaining lifetime + retention
//   - <prefix>acct:<account_id> -> SET of fingerprints (index for bulk delete)
//
// Keys outlive ExpiresAt by the retention window so an expired token is still
// reported as expired (not unknown) for a while. Past that, Redis evicts it.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace (default "splitbill:").
func WithKeyPrefix(p string) RedisOption {
	return func(s *RedisStore) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithRetention sets how long after expiry a record remains observable (default 24h).
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewRedisStore creates a Redis-backed refresh store. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "splitbill:",
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type redisRecord struct {
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisStore) tokenKey(fp string) string   { return s.prefix + "rt:" + fp }
func (s *RedisStore) accountKey(id string) string { return s.prefix + "acct:" + id }

func (s *RedisStore) ttl(rec Record) time.Duration {
	d := time.Until(rec.ExpiresAt) + s.retention
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Create stores the record with SET NX; an existing key reports ErrFingerprintTaken.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	data, err := json.Marshal(redisRecord{
		AccountID: rec.AccountID,
		CreatedAt: rec.CreatedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	ttl := s.ttl(rec)
	ok, err := s.client.SetNX(ctx, s.tokenKey(rec.Fingerprint), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrFingerprintTaken
	}

	acct := s.accountKey(rec.AccountID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, acct, rec.Fingerprint)
		// Refresh lifetimes are uniform, so the newest member expires last.
		p.Expire(ctx, acct, ttl)
		return nil
	})
	return err
}

// Exists reports whether the token key is present.
func (s *RedisStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, s.tokenKey(fingerprint)).Result()
	return n > 0, err
}

// Consume uses GETDEL so only one caller can observe the record.
func (s *RedisStore) Consume(ctx context.Context, fingerprint string) (Record, error) {
	val, err := s.client.GetDel(ctx, s.tokenKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rr redisRecord
	if err := json.Unmarshal([]byte(val), &rr); err != nil {
		return Record{}, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	// Index cleanup is best-effort; a stale member points at a missing key.
	_ = s.client.SRem(ctx, s.accountKey(rr.AccountID), fingerprint).Err()

	return Record{
		Fingerprint: fingerprint,
		AccountID:   rr.AccountID,
		CreatedAt:   rr.CreatedAt,
		ExpiresAt:   rr.ExpiresAt,
	}, nil
}

// Delete removes the record (idempotent).
func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.Consume(ctx, fingerprint)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// DeleteAllForAccount removes every indexed token for the account.
func (s *RedisStore) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	acct := s.accountKey(accountID)

	fps, err := s.client.SMembers(ctx, acct).Result()
	if err != nil {
		return 0, err
	}
	if len(fps) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(fps))
	for _, fp := range fps {
		keys = append(keys, s.tokenKey(fp))
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.SRem(ctx, acct, toAny(fps)...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

// DeleteExpired is a no-op: Redis evicts keys by TTL.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var (
	_ RefreshStore = (*MemoryStore)(nil)
	_ RefreshStore = (*PostgresStore)(nil)
	_ RefreshStore = (*RedisStore)(nil)
)
