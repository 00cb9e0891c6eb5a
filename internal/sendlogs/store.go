package sendlogs

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

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists send-log entries in Postgres.
type Store struct {
	pool PgxPool
	now  func() time.Time
}

func NewStore(pool PgxPool) *Store {
	return &Store{pool: pool, now: time.Now}
}

const entryColumns = `id, doctor_id, status, custom_message, COALESCE(patient_name, ''), COALESCE(patient_site, ''),
	COALESCE(sender_id::text, ''), COALESCE(provider_message_id, ''), COALESCE(error_message, ''),
	created_at, sent_at, delivered_at, read_at, deleted_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	if err := row.Scan(&e.ID, &e.DoctorID, &status, &e.CustomMessage, &e.PatientName, &e.PatientSite,
		&e.SenderID, &e.ProviderMessageID, &e.ErrorMessage,
		&e.CreatedAt, &e.SentAt, &e.DeliveredAt, &e.ReadAt, &e.DeletedAt); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

// Insert records a pending entry.
func (s *Store) Insert(ctx context.Context, in NewEntry) (*Entry, error) {
	query := `
		INSERT INTO send_logs (id, doctor_id, status, custom_message, patient_name, patient_site, sender_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, '')::uuid)
		RETURNING ` + entryColumns
	e, err := scanEntry(s.pool.QueryRow(ctx, query, uuid.NewString(), in.DoctorID, string(StatusPending),
		in.CustomMessage, in.PatientName, in.PatientSite, in.SenderID))
	if err != nil {
		return nil, fmt.Errorf("sendlogs: insert: %w", err)
	}
	return e, nil
}

// MarkSent records the provider's acceptance of a pending entry.
func (s *Store) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE send_logs
		SET status = $2, provider_message_id = $3, sent_at = COALESCE(sent_at, $4), error_message = NULL
		WHERE id = $1 AND status = $5
	`, id, string(StatusSent), providerMessageID, at.UTC(), string(StatusPending))
	if err != nil {
		return fmt.Errorf("sendlogs: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed records a final dispatch failure on a pending entry.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE send_logs
		SET status = $2, error_message = $3
		WHERE id = $1 AND status = $4
	`, id, string(StatusFailed), message, string(StatusPending))
	if err != nil {
		return fmt.Errorf("sendlogs: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ApplyStatus moves an entry along its lifecycle. Timestamps already set are
// kept; timestamps for every stage up to the target are filled when missing.
// It returns ErrConflict when the stored status is no longer u.From.
func (s *Store) ApplyStatus(ctx context.Context, u StatusUpdate) error {
	at := u.At.UTC()
	if u.At.IsZero() {
		at = s.now().UTC()
	}
	progressed := u.To != StatusPending && !u.To.Terminal()
	setSent := progressed && u.To.Rank() >= 1
	setDelivered := progressed && u.To.Rank() >= 2
	setRead := progressed && u.To.Rank() >= 3

	tag, err := s.pool.Exec(ctx, `
		UPDATE send_logs
		SET status = $3,
			sent_at = CASE WHEN $4 THEN COALESCE(sent_at, $7) ELSE sent_at END,
			delivered_at = CASE WHEN $5 THEN COALESCE(delivered_at, $7) ELSE delivered_at END,
			read_at = CASE WHEN $6 THEN COALESCE(read_at, $7) ELSE read_at END,
			error_message = COALESCE(NULLIF($8, ''), error_message)
		WHERE id = $1 AND status = $2
	`, u.ID, string(u.From), string(u.To), setSent, setDelivered, setRead, at, u.Error)
	if err != nil {
		return fmt.Errorf("sendlogs: apply status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM send_logs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sendlogs: get: %w", err)
	}
	return e, nil
}

// FindByProviderID returns the entry carrying the provider message id.
func (s *Store) FindByProviderID(ctx context.Context, providerMessageID string) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM send_logs
		WHERE provider_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, providerMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sendlogs: find by provider id: %w", err)
	}
	return e, nil
}

// SoftDelete marks an entry deleted; the row is kept.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE send_logs
		SET status = $2, deleted_at = COALESCE(deleted_at, $3)
		WHERE id = $1
	`, id, string(StatusDeleted), s.now().UTC())
	if err != nil {
		return fmt.Errorf("sendlogs: soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Query returns one page of entries matching f, newest first, and the total
// number of matches.
func (s *Store) Query(ctx context.Context, f Filter) ([]*Entry, int, error) {
	f = f.Normalize()
	where, args := buildWhere(f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM send_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sendlogs: count: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM send_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("sendlogs: query: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, f.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sendlogs: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sendlogs: query: %w", err)
	}
	return entries, total, nil
}

// Stats counts entries per status for the same filter, ignoring paging.
func (s *Store) Stats(ctx context.Context, f Filter) (map[Status]int, error) {
	where, args := buildWhere(f)
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM send_logs`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("sendlogs: stats: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sendlogs: scan stats: %w", err)
		}
		out[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sendlogs: stats: %w", err)
	}
	return out, nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Status != StatusDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.PatientSite != "" {
		add("patient_site = $%d", f.PatientSite)
	}
	if len(f.SenderIDs) > 0 {
		add("sender_id = ANY($%d::uuid[])", f.SenderIDs)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", f.StartDate.UTC())
	}
	if end := f.EndExclusive(); end != nil {
		add("created_at < $%d", *end)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
