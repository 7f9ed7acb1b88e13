// Package file keeps the status mapping in a single JSON document that is
// replaced atomically on every save.
package file

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

	"github.com/natefinch/atomic"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const formatVersion = 1

type Store struct {
	path string
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

type document struct {
	Version int                    `json:"version"`
	Records map[string]recordEntry `json:"records"`
}

type recordEntry struct {
	LastStatus        string    `json:"last_status"`
	LastChangedAt     time.Time `json:"last_changed_at"`
	ConsecutiveChecks int       `json:"consecutive_checks"`
}

func (s *Store) Load(ctx context.Context) (repo.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return repo.Records{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	recs, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", repo.ErrCorruptState, s.path, err)
	}
	return recs, nil
}

func (s *Store) Save(ctx context.Context, records repo.Records) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrSaveState, err)
	}
	doc := document{Version: formatVersion, Records: make(map[string]recordEntry, len(records))}
	for url, r := range records {
		doc.Records[url] = recordEntry{
			LastStatus:        string(r.LastStatus),
			LastChangedAt:     r.LastChangedAt.UTC(),
			ConsecutiveChecks: r.ConsecutiveChecks,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", repo.ErrSaveState, err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", repo.ErrSaveState, err)
		}
	}
	// atomic.WriteFile writes a temp file in the same directory, syncs it and
	// renames it over the target, so readers never observe a partial document.
	if err := atomic.WriteFile(s.path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrSaveState, err)
	}
	return nil
}

// Quarantine moves an unreadable state file aside and returns its new path.
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func decode(data []byte) (repo.Records, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty document")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return nil, errors.New("document is null")
	}
	if _, ok := top["records"]; !ok {
		if _, ok := top["version"]; !ok {
			return decodeLegacy(top)
		}
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported version %d", doc.Version)
	}
	if doc.Records == nil {
		return nil, errors.New("records missing or null")
	}

	out := make(repo.Records, len(doc.Records))
	for url, e := range doc.Records {
		st, err := domain.ParseStatus(e.LastStatus)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", url, err)
		}
		if e.ConsecutiveChecks < 0 {
			return nil, fmt.Errorf("record %q: negative consecutive_checks", url)
		}
		out[url] = domain.StatusRecord{
			URL:               url,
			LastStatus:        st,
			LastChangedAt:     e.LastChangedAt,
			ConsecutiveChecks: e.ConsecutiveChecks,
		}
	}
	return out, nil
}

// decodeLegacy reads the older flat {"<url>": true|false} layout.
func decodeLegacy(raw map[string]json.RawMessage) (repo.Records, error) {
	out := make(repo.Records, len(raw))
	for url, v := range raw {
		var up bool
		if err := json.Unmarshal(v, &up); err != nil {
			return nil, fmt.Errorf("legacy record %q: %w", url, err)
		}
		out[url] = domain.StatusRecord{
			URL:               url,
			LastStatus:        domain.StatusOf(up),
			ConsecutiveChecks: 1,
		}
	}
	return out, nil
}
