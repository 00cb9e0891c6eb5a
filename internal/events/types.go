// Package events publishes send-log status changes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	TypeStatusChanged = "sendlog.status_changed.v1"
	producerName      = "eresults-api"
)

// StatusChanged is emitted whenever a send-log entry reaches a new status.
type StatusChanged struct {
	SendLogID         string    `json:"send_log_id"`
	DoctorID          string    `json:"doctor_id"`
	SenderID          string    `json:"sender_id,omitempty"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// RoutingKey is sendlog.status.<status>.
func (e StatusChanged) RoutingKey() string {
	status := strings.ToLower(strings.TrimSpace(e.Status))
	if status == "" {
		status = "unknown"
	}
	return "sendlog.status." + status
}

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Producer string    `json:"producer"`
}

// Envelope is the wire format on the broker.
type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Publisher accepts status changes. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event StatusChanged) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusChanged) error { return nil }
