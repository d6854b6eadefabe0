package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Guest bool `json:"guest"`
	jwt.RegisteredClaims
}

type jwtCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTCodec builds an HS256 AccessTokenCodec.
// Verification pins the algorithm, so "none" and RS/ES tokens are rejected.
func NewJWTCodec(cfg Config) (AccessTokenCodec, error) {
	if len(cfg.JWTSecret) < MinJWTSecretBytes {
		return nil, ErrConfig
	}
	secret := []byte(cfg.JWTSecret)
	return &jwtCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
	}, nil
}

func (c *jwtCodec) Issue(accountID string, isGuest bool, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(c.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Guest: isGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *jwtCodec) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxAccessTokenLen {
		return AccessClaims{}, ErrInvalidToken
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		AccountID: claims.Subject,
		IsGuest:   claims.Guest,
		ExpiresAt: claims.ExpiresAt.Time,
		Issuer:    claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
