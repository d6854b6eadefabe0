// Package ids generates and checks account IDs.
//
// Account IDs are ULIDs: 26 Crockford base32 characters whose prefix is the
// creation time, so they sort by age in indexes and listings.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Length is the encoded length of every ID.
const Length = ulid.EncodedSize

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a fresh ID stamped with now (the current time when zero).
// IDs minted within the same millisecond stay strictly increasing.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	mu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s is a well-formed ID. Lowercase input is accepted.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
