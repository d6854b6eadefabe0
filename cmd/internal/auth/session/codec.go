package session

import (
	"fmt"
	"time"
)

// AccessClaims is the identity envelope carried by an access token.
//
// IsGuest is a point-in-time hint from minting time. Callers that authorize on
// guest vs registered status should re-read the account (see Service.CurrentAccount).
type AccessClaims struct {
	AccountID string
	IsGuest   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenCodec issues and verifies short-lived access tokens.
// Implementations are stateless and never consult storage.
type AccessTokenCodec interface {
	Issue(accountID string, isGuest bool, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenCodec builds the codec selected by cfg.AccessTokenFormat.
func NewAccessTokenCodec(cfg Config) (AccessTokenCodec, error) {
	switch cfg.AccessTokenFormat {
	case FormatPaseto, "":
		return NewPasetoV4PublicCodec(cfg)
	case FormatJWT:
		return NewJWTCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown access token format %q", ErrConfig, cfg.AccessTokenFormat)
	}
}

// maxAccessTokenLen bounds input before any parsing work.
const maxAccessTokenLen = 4096
