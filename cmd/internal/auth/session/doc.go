// Package session implements splitbill's session lifecycle.
//
// A session is a pair: a short-lived signed access token (PASETO v4.public by
// default, JWT HS256 optionally) and a long-lived opaque refresh token. Access
// tokens are verified without touching storage. Refresh tokens are single use:
// every successful refresh consumes the presented token and issues a new one,
// so a replayed token finds no record and is rejected.
//
// Only refresh-token fingerprints are persisted (see splitbill/cmd/security/token).
//
// Transport (HTTP) integration lives in package api.
package session
