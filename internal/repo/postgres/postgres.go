package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Repository = (*Store)(nil)

// Schema is applied by Migrate; safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS status_records (
  url                TEXT PRIMARY KEY,
  last_status        TEXT NOT NULL CHECK (last_status IN ('UP','DOWN','UNKNOWN')),
  last_changed_at    TIMESTAMPTZ NULL,
  consecutive_checks INTEGER NOT NULL CHECK (consecutive_checks >= 0)
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (repo.Records, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, last_status, last_changed_at, consecutive_checks
		   FROM status_records`)
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	defer rows.Close()

	out := repo.Records{}
	for rows.Next() {
		var (
			url       string
			rawStatus string
			changedAt *time.Time
			count     int
		)
		if err := rows.Scan(&url, &rawStatus, &changedAt, &count); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", repo.ErrCorruptState, err)
		}
		st, err := domain.ParseStatus(rawStatus)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", repo.ErrCorruptState, url, err)
		}
		rec := domain.StatusRecord{URL: url, LastStatus: st, ConsecutiveChecks: count}
		if changedAt != nil {
			rec.LastChangedAt = changedAt.UTC()
		}
		out[url] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	return out, nil
}

// Save replaces the whole mapping inside one transaction.
func (s *Store) Save(ctx context.Context, records repo.Records) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM status_records`); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		batch := &pgx.Batch{}
		for _, r := range records {
			var changedAt *time.Time
			if !r.LastChangedAt.IsZero() {
				ts := r.LastChangedAt.UTC()
				changedAt = &ts
			}
			batch.Queue(
				`INSERT INTO status_records (url, last_status, last_changed_at, consecutive_checks)
				 VALUES ($1, $2, $3, $4)`,
				r.URL, string(r.LastStatus), changedAt, r.ConsecutiveChecks,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", repo.ErrSaveState, err)
	}
	s.log.Debug("postgres_state_saved", zap.Int("records", len(records)))
	return nil
}
