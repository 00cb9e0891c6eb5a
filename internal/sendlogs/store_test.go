package sendlogs

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var entryCols = []string{"id", "doctor_id", "status", "custom_message", "patient_name", "patient_site",
	"sender_id", "provider_message_id", "error_message", "created_at", "sent_at", "delivered_at", "read_at", "deleted_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	store := NewStore(mock)
	return store, mock
}

func TestStoreInsertPending(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	nilTime := (*time.Time)(nil)

	mock.ExpectQuery("INSERT INTO send_logs").
		WithArgs(pgxmock.AnyArg(), "doc-1", "pending", "Results ready", "Jane Doe", "Lab Nord", "user-1").
		WillReturnRows(pgxmock.NewRows(entryCols).
			AddRow("log-1", "doc-1", "pending", "Results ready", "Jane Doe", "Lab Nord", "user-1", "", "", now, nilTime, nilTime, nilTime, nilTime))

	e, err := store.Insert(context.Background(), NewEntry{
		DoctorID:      "doc-1",
		CustomMessage: "Results ready",
		PatientName:   "Jane Doe",
		PatientSite:   "Lab Nord",
		SenderID:      "user-1",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.Status != StatusPending || e.SentAt != nil {
		t.Fatalf("unexpected entry %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreMarkSentRequiresPending(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "sent", "SM1", at, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkSent(context.Background(), "log-1", "SM1", at); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-2", "sent", "SM2", at, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.MarkSent(context.Background(), "log-2", "SM2", at); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestStoreMarkFailed(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "failed", "provider: status 400", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), "log-1", "provider: status 400"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestStoreApplyStatusFillsTimestampsUpToTarget(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "sent", "delivered", true, true, false, at, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.ApplyStatus(context.Background(), StatusUpdate{ID: "log-1", From: StatusSent, To: StatusDelivered, At: at}); err != nil {
		t.Fatalf("apply delivered: %v", err)
	}

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "sent", "failed", false, false, false, at, "63016: outside window").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.ApplyStatus(context.Background(), StatusUpdate{ID: "log-1", From: StatusSent, To: StatusFailed, At: at, Error: "63016: outside window"}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "delivered", "read", true, true, true, at, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.ApplyStatus(context.Background(), StatusUpdate{ID: "log-1", From: StatusDelivered, To: StatusRead, At: at}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestStoreFindByProviderIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("WHERE provider_message_id = \\$1").
		WithArgs("SM-unknown").
		WillReturnRows(pgxmock.NewRows(entryCols))
	if _, err := store.FindByProviderID(context.Background(), "SM-unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSoftDelete(t *testing.T) {
	store, mock := newMockStore(t)
	fixed := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("log-1", "deleted", fixed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.SoftDelete(context.Background(), "log-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	mock.ExpectExec("UPDATE send_logs").
		WithArgs("missing", "deleted", fixed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.SoftDelete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreQueryAppliesSiteAndInclusiveDateRange(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	endExclusive := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	nilTime := (*time.Time)(nil)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM send_logs WHERE deleted_at IS NULL AND patient_site = \\$1 AND created_at >= \\$2 AND created_at < \\$3").
		WithArgs("Lab Nord", start, endExclusive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ORDER BY created_at DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs("Lab Nord", start, endExclusive, 50, 0).
		WillReturnRows(pgxmock.NewRows(entryCols).
			AddRow("log-1", "doc-1", "sent", "hi", "", "Lab Nord", "", "SM1", "", created, &created, nilTime, nilTime, nilTime))

	entries, total, err := store.Query(context.Background(), Filter{PatientSite: "Lab Nord", StartDate: &start, EndDate: &end})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].PatientSite != "Lab Nord" {
		t.Fatalf("unexpected result total=%d entries=%+v", total, entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreQueryIncludesDeletedOnlyWhenAsked(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM send_logs WHERE status = \\$1$").
		WithArgs("deleted").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("FROM send_logs WHERE status = \\$1 ORDER BY").
		WithArgs("deleted", 500, 10).
		WillReturnRows(pgxmock.NewRows(entryCols))

	entries, total, err := store.Query(context.Background(), Filter{Status: StatusDeleted, Limit: 5000, Offset: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 0 || len(entries) != 0 {
		t.Fatalf("expected empty page, got %d/%d", len(entries), total)
	}
}

func TestStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM send_logs WHERE deleted_at IS NULL AND sender_id = ANY").
		WithArgs([]string{"user-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("sent", 3).
			AddRow("failed", 1))

	stats, err := store.Stats(context.Background(), Filter{SenderIDs: []string{"user-1"}})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[StatusSent] != 3 || stats[StatusFailed] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestFilterEndExclusiveUsesCalendarDay(t *testing.T) {
	end := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)
	got := Filter{EndDate: &end}.EndExclusive()
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
