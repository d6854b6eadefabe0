package password

import (
	"fmt"
	"math"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used for account credentials.
// The minimum length of 8 matches the registration form; env can tighten it.
func DefaultConfig() Config {
	// CPU-aware parallelism, clamped to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// envConfig mirrors Config in env-parsable form. Fields are pre-seeded from
// DefaultConfig, so unset variables keep their defaults.
type envConfig struct {
	MinLength      int    `env:"SPLITBILL_PASSWORD_MIN_LEN"`
	MaxLength      int    `env:"SPLITBILL_PASSWORD_MAX_LEN"`
	RejectVeryWeak bool   `env:"SPLITBILL_PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      uint32 `env:"SPLITBILL_ARGON2_MEMORY_KIB"`
	Iterations     uint32 `env:"SPLITBILL_ARGON2_ITERATIONS"`
	Parallelism    uint32 `env:"SPLITBILL_ARGON2_PARALLELISM"`
	SaltLength     uint32 `env:"SPLITBILL_ARGON2_SALT_LEN"`
	KeyLength      uint32 `env:"SPLITBILL_ARGON2_KEY_LEN"`
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - SPLITBILL_PASSWORD_MIN_LEN
// - SPLITBILL_PASSWORD_MAX_LEN
// - SPLITBILL_PASSWORD_REJECT_VERY_WEAK (true/false)
// - SPLITBILL_ARGON2_MEMORY_KIB
// - SPLITBILL_ARGON2_ITERATIONS
// - SPLITBILL_ARGON2_PARALLELISM
// - SPLITBILL_ARGON2_SALT_LEN
// - SPLITBILL_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	def := DefaultConfig()
	raw := envConfig{
		MinLength:      def.Policy.MinLength,
		MaxLength:      def.Policy.MaxLength,
		RejectVeryWeak: def.Policy.RejectVeryWeak,
		MemoryKiB:      def.Params.MemoryKiB,
		Iterations:     def.Params.Iterations,
		Parallelism:    uint32(def.Params.Parallelism),
		SaltLength:     def.Params.SaltLength,
		KeyLength:      def.Params.KeyLength,
	}
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}

	if err := inRange("SPLITBILL_PASSWORD_MIN_LEN", raw.MinLength, 1, 1024); err != nil {
		return Config{}, err
	}
	if err := inRange("SPLITBILL_PASSWORD_MAX_LEN", raw.MaxLength, 1, 4096); err != nil {
		return Config{}, err
	}
	if err := inRangeU32("SPLITBILL_ARGON2_MEMORY_KIB", raw.MemoryKiB, 8*1024, 1024*1024); err != nil { // 8 MiB .. 1 GiB
		return Config{}, err
	}
	if err := inRangeU32("SPLITBILL_ARGON2_ITERATIONS", raw.Iterations, 1, 20); err != nil {
		return Config{}, err
	}
	if err := inRangeU32("SPLITBILL_ARGON2_PARALLELISM", raw.Parallelism, 1, 64); err != nil {
		return Config{}, err
	}
	if err := inRangeU32("SPLITBILL_ARGON2_SALT_LEN", raw.SaltLength, 8, 64); err != nil {
		return Config{}, err
	}
	if err := inRangeU32("SPLITBILL_ARGON2_KEY_LEN", raw.KeyLength, 16, 64); err != nil {
		return Config{}, err
	}

	par, err := u32ToU8(raw.Parallelism)
	if err != nil {
		return Config{}, fmt.Errorf("SPLITBILL_ARGON2_PARALLELISM: %w", err)
	}

	cfg := Config{
		Params: Argon2idParams{
			MemoryKiB:   raw.MemoryKiB,
			Iterations:  raw.Iterations,
			Parallelism: par,
			SaltLength:  raw.SaltLength,
			KeyLength:   raw.KeyLength,
		},
		Policy: Policy{
			MinLength:      raw.MinLength,
			MaxLength:      raw.MaxLength,
			RejectVeryWeak: raw.RejectVeryWeak,
		},
	}

	// Final sanity.
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func inRange(key string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", key, minVal, maxVal)
	}
	return nil
}

func inRangeU32(key string, v, minVal, maxVal uint32) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", key, minVal, maxVal)
	}
	return nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
