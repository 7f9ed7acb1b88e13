// Package lock keeps two runs from mutating the same state at once.
package lock

import (
	"context"
	"errors"
)

// ErrLocked means another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// Locker guards one run. Release must be called exactly once after a
// successful Acquire.
type Locker interface {
	Acquire(ctx context.Context) (release func() error, err error)
}
