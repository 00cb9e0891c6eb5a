package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists result file metadata.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	return &Store{pool: pool}
}

const fileColumns = `id, file_name, file_type, file_size, storage_path, COALESCE(send_log_id::text, ''), created_at`

func scanFile(row pgx.Row) (*ResultFile, error) {
	var f ResultFile
	if err := row.Scan(&f.ID, &f.FileName, &f.FileType, &f.FileSize, &f.StoragePath, &f.SendLogID, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) Create(ctx context.Context, in ResultFile) (*ResultFile, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	f, err := scanFile(s.pool.QueryRow(ctx, `
		INSERT INTO result_files (id, file_name, file_type, file_size, storage_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+fileColumns,
		in.ID, in.FileName, in.FileType, in.FileSize, in.StoragePath))
	if err != nil {
		return nil, fmt.Errorf("files: create: %w", err)
	}
	return f, nil
}

// GetByIDs returns the files in the order of ids, skipping unknown ids.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]*ResultFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.list(ctx, `SELECT `+fileColumns+` FROM result_files WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("files: get by ids: %w", err)
	}
	byID := make(map[string]*ResultFile, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	out := make([]*ResultFile, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) GetByPath(ctx context.Context, storagePath string) (*ResultFile, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM result_files WHERE storage_path = $1`, storagePath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("files: get by path: %w", err)
	}
	return f, nil
}

func (s *Store) ListBySendLog(ctx context.Context, sendLogID string) ([]*ResultFile, error) {
	out, err := s.list(ctx, `SELECT `+fileColumns+` FROM result_files WHERE send_log_id = $1 ORDER BY created_at ASC`, sendLogID)
	if err != nil {
		return nil, fmt.Errorf("files: list by send log: %w", err)
	}
	return out, nil
}

// AssociateSendLog points the files at the send log they were dispatched with.
func (s *Store) AssociateSendLog(ctx context.Context, ids []string, sendLogID string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE result_files SET send_log_id = $2 WHERE id = ANY($1::uuid[])`, ids, sendLogID); err != nil {
		return fmt.Errorf("files: associate send log: %w", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*ResultFile, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ResultFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
