// Package sendlogs persists the per-recipient dispatch audit trail and serves
// filtered reads over it.
package sendlogs

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("sendlogs: not found")
	// ErrConflict means the entry moved to another status before the update landed.
	ErrConflict = errors.New("sendlogs: status changed concurrently")
)

// Entry is one dispatch attempt to one doctor.
type Entry struct {
	ID                string     `json:"id"`
	DoctorID          string     `json:"doctor_id"`
	Status            Status     `json:"status"`
	CustomMessage     string     `json:"custom_message"`
	PatientName       string     `json:"patient_name,omitempty"`
	PatientSite       string     `json:"patient_site,omitempty"`
	SenderID          string     `json:"sender_id,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// NewEntry is what the dispatcher records before calling the provider.
type NewEntry struct {
	DoctorID      string
	CustomMessage string
	PatientName   string
	PatientSite   string
	SenderID      string
}

// StatusUpdate moves an entry from one status to another. From is the status
// the caller observed and acts as a compare-and-set guard.
type StatusUpdate struct {
	ID    string
	From  Status
	To    Status
	At    time.Time
	Error string
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter selects entries for the query surface.
type Filter struct {
	DoctorID    string
	Status      Status
	PatientSite string
	SenderIDs   []string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

// Normalize applies paging defaults and bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// EndExclusive is the first instant after the end date's calendar day (UTC).
func (f Filter) EndExclusive() *time.Time {
	if f.EndDate == nil {
		return nil
	}
	end := f.EndDate.UTC()
	day := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return &day
}
