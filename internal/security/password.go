package security

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

var ErrMismatch = bcrypt.ErrMismatchedHashAndPassword

// MaxPasswordBytes is the longest input bcrypt hashes.
const MaxPasswordBytes = 72

// Hasher runs bcrypt with a bound on how many hashes are computed at once, so
// a burst of logins cannot take every CPU away from other requests.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

func NewHasher(cost, concurrency int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	return &Hasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(concurrency)),
	}
}

// Hash hashes a plain text password with bcrypt.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Compare returns ErrMismatch when plain does not match hash. Inputs longer
// than MaxPasswordBytes can never have been hashed, so they mismatch after
// the same amount of work as any other attempt.
func (h *Hasher) Compare(ctx context.Context, hash, plain string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	if len(plain) > MaxPasswordBytes {
		_ = bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain[:MaxPasswordBytes]))
		return ErrMismatch
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

func IsMismatch(err error) bool {
	return errors.Is(err, ErrMismatch)
}
