package token

import (
	"context"
	"errors"
	"fmt"
)

// GenerateUnique draws candidates from gen until one is accepted, using at most
// attempts tries.
//
// For each candidate, exists is consulted first; a taken candidate costs one
// attempt. The surviving candidate is handed to commit, which performs the
// write. If commit reports ErrCollision (the candidate was claimed between the
// check and the write), that also costs one attempt. Any other error stops the
// loop and is returned as-is.
//
// When the budget runs out the error wraps ErrExhausted.
func GenerateUnique(
	ctx context.Context,
	attempts int,
	gen func() (string, error),
	exists func(ctx context.Context, candidate string) (bool, error),
	commit func(ctx context.Context, candidate string) error,
) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		c, err := gen()
		if err != nil {
			return "", err
		}

		if exists != nil {
			taken, err := exists(ctx, c)
			if err != nil {
				return "", err
			}
			if taken {
				continue
			}
		}

		if commit == nil {
			return c, nil
		}
		err = commit(ctx, c)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrCollision) {
			continue
		}
		return "", err
	}

	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}
