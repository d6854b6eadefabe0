package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hash validates password against the policy and returns its Argon2id PHC encoding:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}

	h := phc{
		params: c.Params,
		salt:   salt,
		key:    derive(password, salt, c.Params, c.Params.KeyLength),
	}
	return h.String(), nil
}

// Verify reports whether password matches encodedHash.
//
// A mismatch is (false, nil). Malformed hashes, unknown schemes, and Argon2id
// parameters far above the configured cost are (false, ErrInvalidHash); stored
// hashes are untrusted input.
//
// bcrypt hashes ($2a$, $2b$, $2y$) of imported accounts verify too.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	if IsLegacyHash(encodedHash) {
		return verifyBcrypt(encodedHash, password)
	}

	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if !h.params.within(c.Params) {
		return false, ErrInvalidHash
	}

	// #nosec G115 -- parsePHC bounds the key length.
	got := derive(password, h.salt, h.params, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encodedHash should be replaced with a fresh Hash
// after a successful Verify: legacy bcrypt, or Argon2id cheaper than configured.
func (c Config) NeedsRehash(encodedHash string) bool {
	if IsLegacyHash(encodedHash) {
		return true
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength
}

func derive(password string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}
