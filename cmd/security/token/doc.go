// Package token provides refresh-token primitives for splitbill.
//
// It is the single source of truth for how opaque refresh tokens are
// generated and how they are fingerprinted for storage.
//
//   - NewOpaque: crypto-random bytes rendered as base64url without padding.
//   - Fingerprinter: SHA-256(token) as 64-char hex when no pepper is configured,
//     HMAC-SHA256(token, pepper) when one is.
//   - GenerateUnique: generate, check existence, retry with a fixed budget.
//
// Raw token values must never be persisted or logged; only fingerprints are.
//
// Environment:
//   - SPLITBILL_TOKEN_PEPPER: when set, enables HMAC mode (see PepperFromEnv).
package token
