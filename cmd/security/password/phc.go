package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const argon2Version = 19 // argon2.Version (0x13)

var b64 = base64.RawStdEncoding

// phc is a decoded Argon2id hash string.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		b64.EncodeToString(h.salt),
		b64.EncodeToString(h.key),
	)
}

// parsePHC decodes "$argon2id$v=19$m=..,t=..,p=..$salt$key".
// Every failure is ErrInvalidHash.
func parsePHC(s string) (phc, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2Version) {
		return phc{}, ErrInvalidHash
	}

	var p Argon2idParams
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return phc{}, ErrInvalidHash
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, ErrInvalidHash
			}
			p.Parallelism = uint8(n)
		default:
			return phc{}, ErrInvalidHash
		}
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by within()
	p.KeyLength = uint32(len(key))   // #nosec G115 -- bounded by within()

	return phc{params: p, salt: salt, key: key}, nil
}

// within allows hashes made with older, cheaper settings but rejects costs
// more than twice the configured ones.
func (p Argon2idParams) within(limit Argon2idParams) bool {
	switch {
	case p.MemoryKiB > limit.MemoryKiB*2,
		p.Iterations > limit.Iterations*2,
		uint32(p.Parallelism) > uint32(limit.Parallelism)*2:
		return false
	case p.SaltLength < 8 || p.SaltLength > 64:
		return false
	case p.KeyLength < 16 || p.KeyLength > 128:
		return false
	}
	return true
}
