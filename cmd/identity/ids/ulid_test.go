package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewULID_SameMillisecondIsIncreasing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev, err := NewULID(now)
	require.NoError(t, err)
	for range 100 {
		next, err := NewULID(now)
		require.NoError(t, err)
		require.Len(t, next, Length)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewULID_ZeroTimeUsesNow(t *testing.T) {
	id, err := NewULID(time.Time{})
	require.NoError(t, err)
	require.True(t, Valid(id))
}

func TestValid(t *testing.T) {
	id, err := NewULID(time.Now())
	require.NoError(t, err)

	require.True(t, Valid(id))
	require.True(t, Valid(strings.ToLower(id)))
	require.False(t, Valid(""))
	require.False(t, Valid(id[:25]))
	require.False(t, Valid(id+"0"))
	require.False(t, Valid("8ZZZZZZZZZZZZZZZZZZZZZZZZZ"))
	require.False(t, Valid("01HZZZZZZZZZZZZZZZZZZZZZZU"))
}
