package sendlogs

import "strings"

// Status is the lifecycle state of a send-log entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusDeleted   Status = "deleted"
)

var providerStatuses = map[string]Status{
	"queued":      StatusSent,
	"sending":     StatusSent,
	"sent":        StatusSent,
	"delivered":   StatusDelivered,
	"read":        StatusRead,
	"failed":      StatusFailed,
	"undelivered": StatusFailed,
}

// MapProviderStatus translates the provider vocabulary case-insensitively.
// Unrecognized values pass through lower-cased.
func MapProviderStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := providerStatuses[key]; ok {
		return s
	}
	return Status(key)
}

// Known reports whether s is one of the lifecycle states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// Terminal statuses never transition again.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusDeleted
}

// Rank orders the happy path. Unrecognized statuses rank with sent.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 1
	}
}

// CanTransition reports whether a record at from may move to to. Repeating the
// current status is allowed and changes nothing.
func CanTransition(from, to Status) bool {
	if to == "" || from == StatusDeleted {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() || to == StatusPending || to == StatusDeleted {
		return false
	}
	if to == StatusFailed {
		return from.Rank() <= 1
	}
	if !to.Known() {
		return from.Rank() <= 1
	}
	if to.Rank() == 1 {
		return from.Rank() <= 1
	}
	return to.Rank() == from.Rank()+1
}
