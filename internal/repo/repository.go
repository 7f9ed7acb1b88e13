package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var (
	// ErrCorruptState means persisted state exists but cannot be parsed.
	ErrCorruptState = errors.New("state corrupt")
	// ErrSaveState means the state could not be durably written.
	ErrSaveState = errors.New("state save failed")
)

// Records is the persisted aggregate: url -> StatusRecord.
type Records map[string]domain.StatusRecord

// Clone returns an independent copy.
func (r Records) Clone() Records {
	out := make(Records, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Repository persists the whole status mapping between runs.
// Load returns an empty mapping, not an error, when nothing was saved yet.
type Repository interface {
	Load(ctx context.Context) (Records, error)
	Save(ctx context.Context, records Records) error
}

// Quarantiner is implemented by backends that can move unreadable state aside.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}
