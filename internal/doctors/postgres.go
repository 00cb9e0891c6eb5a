package doctors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by the repository.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository persists doctors in Postgres.
type PostgresRepository struct {
	pool PgxPool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const doctorColumns = `id, phone, name, COALESCE(specialization, ''), COALESCE(external_id, ''),
	whatsapp_verified, verified_at, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Phone, &d.Name, &d.Specialization, &d.ExternalID,
		&d.WhatsAppVerified, &d.VerifiedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Doctor, error) {
	d, err := scanDoctor(r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctors: get by id: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Doctor, error) {
	out := make(map[string]*Doctor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("doctors: get by ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("doctors: scan: %w", err)
		}
		out[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("doctors: get by ids: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Doctor, error) {
	d, err := scanDoctor(r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE phone = $1`, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctors: get by phone: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, in *Doctor) (*Doctor, error) {
	if in == nil {
		return nil, fmt.Errorf("doctors: create: nil doctor")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO doctors (id, phone, name, specialization, external_id, whatsapp_verified, verified_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		RETURNING ` + doctorColumns
	d, err := scanDoctor(r.pool.QueryRow(ctx, query, id, in.Phone, in.Name, in.Specialization, in.ExternalID, in.WhatsAppVerified, in.VerifiedAt))
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("doctors: create: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*Doctor, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY name ASC, created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("doctors: list: %w", err)
	}
	defer rows.Close()
	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("doctors: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("doctors: list: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) UpdateVerification(ctx context.Context, id string, verified bool, at time.Time) (*Doctor, error) {
	var verifiedAt *time.Time
	if verified {
		t := at.UTC()
		verifiedAt = &t
	}
	query := `
		UPDATE doctors
		SET whatsapp_verified = $2, verified_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + doctorColumns
	d, err := scanDoctor(r.pool.QueryRow(ctx, query, id, verified, verifiedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctors: update verification: %w", err)
	}
	return d, nil
}

func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "external_id") {
		return ErrDuplicateExternalID
	}
	return ErrDuplicatePhone
}
