package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"splitbill/cmd/security/token"
)

// maxRefreshTokenLen bounds presented refresh tokens before hashing.
const maxRefreshTokenLen = 4096

// issueRefresh mints a raw refresh token, persists its fingerprint, and returns the raw value.
//
// Generation follows generate -> check existence -> retry with a fixed budget.
// A uniqueness violation at insert time (lost race with a concurrent insert of
// the same fingerprint) spends the same budget. Exhaustion fails loudly.
func (s *Service) issueRefresh(ctx context.Context, accountID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.cfg.RefreshTokenTTL)

	raw, err := token.GenerateUnique(ctx, s.cfg.IssueAttempts,
		func() (string, error) {
			return s.newOpaque(s.cfg.RefreshTokenBytes)
		},
		func(ctx context.Context, candidate string) (bool, error) {
			return s.refresh.Exists(ctx, s.fp.Fingerprint(candidate))
		},
		func(ctx context.Context, candidate string) error {
			err := s.refresh.Create(ctx, Record{
				Fingerprint: s.fp.Fingerprint(candidate),
				AccountID:   accountID,
				CreatedAt:   now,
				ExpiresAt:   exp,
			})
			if errors.Is(err, ErrFingerprintTaken) {
				return token.ErrCollision
			}
			return err
		},
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: issue refresh token: %w", err)
	}
	return raw, exp, nil
}
