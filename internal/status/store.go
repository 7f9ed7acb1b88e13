// Package status holds the per-URL status mapping for the duration of one run.
//
// The lifecycle is Load once, Update per completed check, Save once (or after
// every Update when crash resilience is wanted). All methods are safe for
// concurrent use.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// CorruptPolicy decides what Load does with unreadable persisted state.
type CorruptPolicy string

const (
	// CorruptFail aborts the run.
	CorruptFail CorruptPolicy = "fail"
	// CorruptReset quarantines the unreadable state and starts from empty.
	CorruptReset CorruptPolicy = "reset"
)

type Store struct {
	repo      repo.Repository
	log       *zap.Logger
	onCorrupt CorruptPolicy

	mu      sync.Mutex
	records repo.Records
	dirty   bool
}

func NewStore(r repo.Repository, log *zap.Logger, onCorrupt CorruptPolicy) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if onCorrupt == "" {
		onCorrupt = CorruptFail
	}
	return &Store{repo: r, log: log, onCorrupt: onCorrupt, records: repo.Records{}}
}

// Load replaces the in-memory mapping with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.repo.Load(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrCorruptState) || s.onCorrupt != CorruptReset {
			return err
		}
		fields := []zap.Field{zap.String("kind", "state_corrupt"), zap.Error(err)}
		if q, ok := s.repo.(repo.Quarantiner); ok {
			moved, qerr := q.Quarantine(ctx)
			if qerr != nil {
				return fmt.Errorf("quarantine corrupt state: %w", qerr)
			}
			fields = append(fields, zap.String("moved_to", moved))
		}
		s.log.Warn("state_reset_after_corruption", fields...)
		recs = repo.Records{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = recs
	s.dirty = false
	return nil
}

// Get returns the record for url, or an UNKNOWN record if none exists.
func (s *Store) Get(url string) domain.StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(url)
}

func (s *Store) getLocked(url string) domain.StatusRecord {
	if r, ok := s.records[url]; ok {
		return r
	}
	return domain.UnknownRecord(url)
}

// Update records a completed check. LastChangedAt moves only when the status
// differs from the stored one; ConsecutiveChecks restarts at 1 on change.
func (s *Store) Update(url string, st domain.Status, at time.Time) domain.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.getLocked(url)
	next := prev
	next.URL = url
	next.LastStatus = st
	if st != prev.LastStatus {
		next.LastChangedAt = at.UTC()
		next.ConsecutiveChecks = 1
	} else {
		next.ConsecutiveChecks++
	}
	s.records[url] = next
	s.dirty = true

	return domain.Transition{
		URL:      url,
		From:     prev.LastStatus,
		To:       st,
		At:       at.UTC(),
		Previous: prev,
		Current:  next,
	}
}

// Save writes the whole mapping through the repository.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	snap := s.records.Clone()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, snap); err != nil {
		if errors.Is(err, repo.ErrSaveState) {
			return err
		}
		return fmt.Errorf("%w: %v", repo.ErrSaveState, err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current mapping.
func (s *Store) Snapshot() repo.Records {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone()
}

// Dirty reports whether there are updates not yet saved.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
