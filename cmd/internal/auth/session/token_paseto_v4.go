package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicCodec builds an AccessTokenCodec based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and validity-window rules.
// Clock skew is applied during verification via ValidAt to tolerate minor clock differences.
func NewPasetoV4PublicCodec(cfg Config) (AccessTokenCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.PasetoV4SecretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key for out-of-process verifiers.
func (c *pasetoV4PublicCodec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *pasetoV4PublicCodec) Issue(accountID string, isGuest bool, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(c.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(accountID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now) // Access tokens valid immediately.
	tok.SetExpiration(exp)

	if err := tok.Set("guest", isGuest); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(c.secret, nil), exp, nil
}

func (c *pasetoV4PublicCodec) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxAccessTokenLen {
		return AccessClaims{}, ErrInvalidToken
	}

	// Validate slightly in the future to avoid failing "nbf" when clocks differ.
	// This also makes expiration checks slightly stricter, which is typically desirable.
	validNow := now.Add(c.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	// ValidAt covers iat/nbf/exp against the caller's clock, so no NotExpired rule.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(c.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	var guest bool
	if err := parsed.Get("guest", &guest); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return AccessClaims{
		AccountID: sub,
		IsGuest:   guest,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
