package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

type holder struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// File is a lock file created with O_EXCL. A lock older than StaleAfter is
// assumed to belong to a crashed run and is taken over. Every acquisition
// writes a fresh token; release removes the file only while it still carries
// that token.
type File struct {
	Path       string
	Holder     string
	StaleAfter time.Duration
	Log        *zap.Logger
	Now        func() time.Time
}

func NewFile(path, holder string, staleAfter time.Duration, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{Path: path, Holder: holder, StaleAfter: staleAfter, Log: log, Now: time.Now}
}

func (f *File) Acquire(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	me := holder{Holder: f.Holder, PID: os.Getpid(), Token: uuid.NewString(), AcquiredAt: f.Now().UTC()}
	body, err := json.Marshal(me)
	if err != nil {
		return nil, err
	}

	err = createExclusive(f.Path, body)
	if errors.Is(err, fs.ErrExist) {
		err = f.takeOver(me, body)
	}
	if err != nil {
		return nil, err
	}
	return func() error { return f.release(me.Token) }, nil
}

func (f *File) release(token string) error {
	cur, err := readHolder(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Token != token {
		f.Log.Warn("lock_taken_over",
			zap.String("path", f.Path),
			zap.String("holder", cur.Holder),
			zap.Int("pid", cur.PID),
		)
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// takeOver replaces a stale lock. A sibling ".break" file serialises runs
// that find the same stale lock; the holder is re-read under it, replaced
// with an atomic rename and read back to confirm ownership.
func (f *File) takeOver(me holder, body []byte) error {
	locked := fmt.Errorf("%w: %s", ErrLocked, f.Path)
	if f.StaleAfter <= 0 {
		return locked
	}

	guard := f.Path + ".break"
	if err := createExclusive(guard, body); err != nil {
		if !errors.Is(err, fs.ErrExist) || !f.staleGuard(guard) {
			return locked
		}
		if err := createExclusive(guard, body); err != nil {
			return locked
		}
	}
	defer os.Remove(guard)

	cur, err := readHolder(f.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := createExclusive(f.Path, body); err != nil {
			return locked
		}
		return nil
	case err != nil:
		// unreadable: judge by mtime
		info, serr := os.Stat(f.Path)
		if serr != nil || f.Now().Sub(info.ModTime()) < f.StaleAfter {
			return locked
		}
	default:
		if f.Now().Sub(cur.AcquiredAt) < f.StaleAfter {
			return locked
		}
	}

	f.Log.Warn("breaking_stale_lock",
		zap.String("path", f.Path),
		zap.String("holder", cur.Holder),
		zap.Int("pid", cur.PID),
		zap.Time("acquired_at", cur.AcquiredAt),
	)
	if err := atomic.WriteFile(f.Path, bytes.NewReader(body)); err != nil {
		return err
	}
	got, err := readHolder(f.Path)
	if err != nil || got.Token != me.Token {
		return locked
	}
	return nil
}

// staleGuard removes a ".break" file left behind by a run that died while
// taking over.
func (f *File) staleGuard(guard string) bool {
	info, err := os.Stat(guard)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	if f.Now().Sub(info.ModTime()) < f.StaleAfter {
		return false
	}
	return os.Remove(guard) == nil
}

func createExclusive(path string, body []byte) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fh.Write(body)
	cerr := fh.Close()
	if werr != nil {
		_ = os.Remove(path)
		return werr
	}
	return cerr
}

func readHolder(path string) (holder, error) {
	var h holder
	b, err := os.ReadFile(path)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return h, err
	}
	if h.Token == "" || h.AcquiredAt.IsZero() {
		return h, errors.New("lock file has no holder record")
	}
	return h, nil
}
