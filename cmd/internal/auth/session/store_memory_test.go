package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Suite(t *testing.T) {
	runRefreshStoreSuite(t, storeHarness{
		store:      NewMemoryStore(),
		newAccount: freeAccountID,
		purges:     true,
	})
}

func TestMemoryStore_HonorsCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Create(ctx, Record{Fingerprint: "fp", AccountID: "a", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Consume(ctx, "fp")
	require.ErrorIs(t, err, context.Canceled)
}
