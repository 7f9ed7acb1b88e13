package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := New()

	recs, err := s.Load(ctx)
	if err != nil || len(recs) != 0 {
		t.Fatalf("fresh store: %+v err=%v", recs, err)
	}

	in := repo.Records{"https://example.com": {
		URL:               "https://example.com",
		LastStatus:        domain.StatusUp,
		LastChangedAt:     time.Now().UTC(),
		ConsecutiveChecks: 2,
	}}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// mutating the caller's map after save must not leak into the store
	delete(in, "https://example.com")

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["https://example.com"].ConsecutiveChecks != 2 {
		t.Fatalf("unexpected records: %+v", out)
	}
	if s.Saves() != 1 {
		t.Fatalf("want 1 save, got %d", s.Saves())
	}
}

func TestMemoryStore_SaveErr(t *testing.T) {
	s := New()
	s.SaveErr = errors.New("disk full")
	if err := s.Save(context.Background(), repo.Records{}); err == nil {
		t.Fatalf("expected injected error")
	}
	if s.Saves() != 0 {
		t.Fatalf("failed save must not count")
	}
}
