package app

import (
	"errors"
	"log/slog"

	"splitbill/cmd/security/token"
)

// minPepperBytes is the minimum pepper length for HMAC-SHA256.
const minPepperBytes = 32

// newFingerprinter enforces the refresh-token fingerprint policy at startup.
//
//   - pepper set and long enough: HMAC-SHA256
//   - pepper set but short: always an error
//   - pepper missing: plain SHA-256, unless RequireTokenPepper is true
func newFingerprinter(cfg Config, log *slog.Logger) (token.Fingerprinter, error) {
	pepper, err := token.PepperFromEnv(minPepperBytes)
	switch {
	case err == nil:
		return token.NewFingerprinter(pepper), nil
	case errors.Is(err, token.ErrPepperTooShort):
		return token.Fingerprinter{}, errors.New("security policy: SPLITBILL_TOKEN_PEPPER is too short (min 32 bytes)")
	case errors.Is(err, token.ErrPepperMissing):
		if cfg.RequireTokenPepper {
			return token.Fingerprinter{}, errors.New("security policy: SPLITBILL_REQUIRE_TOKEN_PEPPER=true but SPLITBILL_TOKEN_PEPPER is missing")
		}
		log.Warn("security.token_pepper.missing", "fingerprint", "sha256")
		return token.NewFingerprinter(nil), nil
	default:
		return token.Fingerprinter{}, err
	}
}
