// Package directory resolves users and sites for send-log enrichment.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("directory: not found")

type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	SiteID string `json:"site_id,omitempty"`
}

type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookup is the read side used by handlers and the reconciler.
type Lookup interface {
	UsersByIDs(ctx context.Context, ids []string) (map[string]User, error)
	SitesByIDs(ctx context.Context, ids []string) (map[string]Site, error)
	SiteByID(ctx context.Context, id string) (*Site, error)
}

type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads users and sites from Postgres, one query per batch.
type Store struct {
	pool PgxPool
}

var _ Lookup = (*Store)(nil)

func NewStore(pool PgxPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, email, COALESCE(site_id::text, '') FROM users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("directory: users by ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.SiteID); err != nil {
			return nil, fmt.Errorf("directory: scan user: %w", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: users by ids: %w", err)
	}
	return out, nil
}

func (s *Store) SitesByIDs(ctx context.Context, ids []string) (map[string]Site, error) {
	out := make(map[string]Site, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM sites WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("directory: sites by ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Name); err != nil {
			return nil, fmt.Errorf("directory: scan site: %w", err)
		}
		out[site.ID] = site
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: sites by ids: %w", err)
	}
	return out, nil
}

func (s *Store) SiteByID(ctx context.Context, id string) (*Site, error) {
	var site Site
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM sites WHERE id = $1`, id).Scan(&site.ID, &site.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: site by id: %w", err)
	}
	return &site, nil
}
