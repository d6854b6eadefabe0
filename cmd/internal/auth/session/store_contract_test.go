package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"splitbill/cmd/identity"
	"splitbill/cmd/security/token"
)

// storeHarness adapts a RefreshStore implementation to the shared suite.
type storeHarness struct {
	store RefreshStore

	// newAccount returns an account id the store will accept as an owner.
	newAccount func(t *testing.T) string

	// purges is false for stores that rely on native TTL eviction.
	purges bool
}

func runRefreshStoreSuite(t *testing.T, h storeHarness) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)

	newRecord := func(t *testing.T, accountID string, exp time.Time) Record {
		raw, err := token.NewOpaque(32)
		require.NoError(t, err)
		return Record{
			Fingerprint: token.HashSHA256Hex(raw),
			AccountID:   accountID,
			CreatedAt:   now,
			ExpiresAt:   exp,
		}
	}

	t.Run("CreateConsume", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(t, h.newAccount(t), now.Add(time.Hour))

		require.NoError(t, h.store.Create(ctx, rec))

		ok, err := h.store.Exists(ctx, rec.Fingerprint)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := h.store.Consume(ctx, rec.Fingerprint)
		require.NoError(t, err)
		require.Equal(t, rec.AccountID, got.AccountID)
		require.True(t, got.ExpiresAt.Equal(rec.ExpiresAt), "expires_at %v vs %v", got.ExpiresAt, rec.ExpiresAt)

		_, err = h.store.Consume(ctx, rec.Fingerprint)
		require.ErrorIs(t, err, ErrSessionNotFound)

		ok, err = h.store.Exists(ctx, rec.Fingerprint)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("DuplicateFingerprint", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(t, h.newAccount(t), now.Add(time.Hour))

		require.NoError(t, h.store.Create(ctx, rec))
		require.ErrorIs(t, h.store.Create(ctx, rec), ErrFingerprintTaken)
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		require.Error(t, h.store.Create(context.Background(), Record{}))
	})

	t.Run("ConsumeReturnsExpired", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(t, h.newAccount(t), now.Add(time.Hour))
		require.NoError(t, h.store.Create(ctx, rec))

		got, err := h.store.Consume(ctx, rec.Fingerprint)
		require.NoError(t, err)
		require.True(t, got.Expired(now.Add(2*time.Hour)))
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(t, h.newAccount(t), now.Add(time.Hour))
		require.NoError(t, h.store.Create(ctx, rec))

		require.NoError(t, h.store.Delete(ctx, rec.Fingerprint))
		require.NoError(t, h.store.Delete(ctx, rec.Fingerprint))

		_, err := h.store.Consume(ctx, rec.Fingerprint)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("DeleteAllForAccount", func(t *testing.T) {
		ctx := context.Background()
		owner := h.newAccount(t)
		other := h.newAccount(t)

		a := newRecord(t, owner, now.Add(time.Hour))
		b := newRecord(t, owner, now.Add(time.Hour))
		c := newRecord(t, other, now.Add(time.Hour))
		for _, r := range []Record{a, b, c} {
			require.NoError(t, h.store.Create(ctx, r))
		}

		n, err := h.store.DeleteAllForAccount(ctx, owner)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		for _, r := range []Record{a, b} {
			ok, err := h.store.Exists(ctx, r.Fingerprint)
			require.NoError(t, err)
			require.False(t, ok)
		}
		ok, err := h.store.Exists(ctx, c.Fingerprint)
		require.NoError(t, err)
		require.True(t, ok)

		n, err = h.store.DeleteAllForAccount(ctx, owner)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(t, h.newAccount(t), now.Add(time.Hour))
		require.NoError(t, h.store.Create(ctx, rec))

		const n = 8
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.store.Consume(ctx, rec.Fingerprint); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load())
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		if !h.purges {
			t.Skip("store evicts by TTL")
		}
		ctx := context.Background()
		acct := h.newAccount(t)

		old := newRecord(t, acct, now.Add(time.Minute))
		fresh := newRecord(t, acct, now.Add(time.Hour))
		require.NoError(t, h.store.Create(ctx, old))
		require.NoError(t, h.store.Create(ctx, fresh))

		n, err := h.store.DeleteExpired(ctx, now.Add(30*time.Minute))
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(1))

		ok, err := h.store.Exists(ctx, old.Fingerprint)
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = h.store.Exists(ctx, fresh.Fingerprint)
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func freeAccountID(t *testing.T) string {
	t.Helper()

	id, err := identity.NewULID(time.Now())
	require.NoError(t, err)
	return id
}
