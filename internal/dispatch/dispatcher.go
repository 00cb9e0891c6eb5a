// Package dispatch sends result messages to doctors over WhatsApp and records
// one audit entry per recipient.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/events"
	"github.com/P-KIALA/E-Results-20-sub000/internal/observability/metrics"
	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

var tracer = otel.Tracer("eresults.internal.dispatch")

var (
	ErrEmptyMessage = errors.New("dispatch: custom_message is required")
	ErrNoRecipients = errors.New("dispatch: no recipients")
)

// Per-recipient error strings surfaced to the caller.
const (
	errDoctorNotFound  = "Doctor not found"
	errNotVerified     = "Doctor phone not verified for WhatsApp"
	errSendLogCreation = "Failed to create send log"
)

type Request struct {
	DoctorIDs     []string `json:"doctor_ids"`
	ExtraNumbers  []string `json:"extra_numbers,omitempty"`
	CustomMessage string   `json:"custom_message"`
	FileIDs       []string `json:"file_ids,omitempty"`
	PatientName   string   `json:"patient_name,omitempty"`
	PatientSite   string   `json:"patient_site,omitempty"`
	SenderID      string   `json:"-"`
}

type Result struct {
	DoctorID  string `json:"doctor_id"`
	SendLogID string `json:"send_log_id,omitempty"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
}

type DoctorLookup interface {
	GetByID(ctx context.Context, id string) (*doctors.Doctor, error)
}

// SendLogStore is the audit-trail side used while dispatching.
type SendLogStore interface {
	Insert(ctx context.Context, in sendlogs.NewEntry) (*sendlogs.Entry, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string) error
	GetByID(ctx context.Context, id string) (*sendlogs.Entry, error)
}

// AttachmentStore resolves file ids to provider-fetchable URLs.
type AttachmentStore interface {
	URLs(ctx context.Context, fileIDs []string) ([]string, error)
	Associate(ctx context.Context, fileIDs []string, sendLogID string) error
	ForSendLog(ctx context.Context, sendLogID string) ([]string, error)
}

type RecipientResolver interface {
	Resolve(ctx context.Context, doctorIDs, extraNumbers []string) ([]string, error)
}

type Config struct {
	Resolver          RecipientResolver
	Doctors           DoctorLookup
	SendLogs          SendLogStore
	Attachments       AttachmentStore
	Sender            provider.Sender
	Publisher         events.Publisher
	Metrics           *metrics.DispatchMetrics
	StatusCallbackURL string
	// Concurrency bounds parallel recipients; 1 keeps them strictly sequential.
	Concurrency int
	Logger      *logging.Logger
	Now         func() time.Time
}

type Dispatcher struct {
	resolver    RecipientResolver
	doctors     DoctorLookup
	sendLogs    SendLogStore
	attachments AttachmentStore
	sender      provider.Sender
	publisher   events.Publisher
	metrics     *metrics.DispatchMetrics
	callbackURL string
	concurrency int
	logger      *logging.Logger
	now         func() time.Time
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		resolver:    cfg.Resolver,
		doctors:     cfg.Doctors,
		sendLogs:    cfg.SendLogs,
		attachments: cfg.Attachments,
		sender:      cfg.Sender,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		callbackURL: cfg.StatusCallbackURL,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Dispatch validates the request, resolves recipients and processes each one
// independently. Per-recipient failures are reported in the results; only
// precondition or resolver storage failures return an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.CustomMessage) == "" {
		return nil, ErrEmptyMessage
	}
	if !hasAny(req.DoctorIDs) && !hasAny(req.ExtraNumbers) {
		return nil, ErrNoRecipients
	}

	// Once accepted, a dispatch runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "dispatch.send_results")
	defer span.End()
	started := d.now()

	recipients, err := d.resolver.Resolve(ctx, req.DoctorIDs, req.ExtraNumbers)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	span.SetAttributes(
		attribute.Int("eresults.recipients", len(recipients)),
		attribute.Int("eresults.files", len(req.FileIDs)),
	)

	media := &mediaOnce{load: func() ([]string, error) {
		if d.attachments == nil || len(req.FileIDs) == 0 {
			return nil, nil
		}
		return d.attachments.URLs(ctx, req.FileIDs)
	}}

	results := make([]Result, len(recipients))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, doctorID := range recipients {
		g.Go(func() error {
			results[i] = d.sendOne(ctx, req, doctorID, media)
			return nil
		})
	}
	_ = g.Wait()

	d.metrics.ObserveDispatchDuration(d.now().Sub(started).Seconds())
	d.logger.Info("dispatch completed", "sender_id", req.SenderID, "recipients", len(recipients), "succeeded", countSuccess(results))
	return &Response{Results: results}, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, req Request, doctorID string, media *mediaOnce) Result {
	result := Result{DoctorID: doctorID}

	doc, err := d.doctors.GetByID(ctx, doctorID)
	if err != nil {
		if !errors.Is(err, doctors.ErrNotFound) {
			d.logger.Error("doctor lookup failed", "doctor_id", doctorID, "error", err)
		}
		d.metrics.ObserveRecipient("skipped")
		result.Error = errDoctorNotFound
		return result
	}
	if !doc.WhatsAppVerified {
		d.metrics.ObserveRecipient("skipped")
		result.Error = errNotVerified
		return result
	}

	entry, err := d.sendLogs.Insert(ctx, sendlogs.NewEntry{
		DoctorID:      doctorID,
		CustomMessage: req.CustomMessage,
		PatientName:   req.PatientName,
		PatientSite:   req.PatientSite,
		SenderID:      req.SenderID,
	})
	if err != nil {
		d.logger.Error("send log insert failed", "doctor_id", doctorID, "error", err)
		d.metrics.ObserveRecipient("failed")
		result.Error = errSendLogCreation
		return result
	}
	result.SendLogID = entry.ID

	urls, err := media.get()
	if err != nil {
		return d.fail(ctx, result, entry, fmt.Sprintf("attachments: %v", err))
	}

	messageID, err := d.sender.Send(ctx, provider.Message{
		To:             doc.Phone,
		Body:           req.CustomMessage,
		MediaURLs:      urls,
		StatusCallback: d.callbackURL,
	})
	if err != nil {
		return d.fail(ctx, result, entry, err.Error())
	}

	sentAt := d.now().UTC()
	if err := d.sendLogs.MarkSent(ctx, entry.ID, messageID, sentAt); err != nil {
		d.logger.Error("send log update after send failed", "send_log_id", entry.ID, "message_id", messageID, "error", err)
	}
	if len(req.FileIDs) > 0 && d.attachments != nil {
		if err := d.attachments.Associate(ctx, req.FileIDs, entry.ID); err != nil {
			d.logger.Warn("file association failed", "send_log_id", entry.ID, "error", err)
		}
	}
	d.publish(ctx, events.StatusChanged{
		SendLogID:         entry.ID,
		DoctorID:          doctorID,
		SenderID:          req.SenderID,
		Status:            string(sendlogs.StatusSent),
		ProviderMessageID: messageID,
		OccurredAt:        sentAt,
	})
	d.metrics.ObserveRecipient("sent")

	result.Success = true
	result.MessageID = messageID
	return result
}

func (d *Dispatcher) fail(ctx context.Context, result Result, entry *sendlogs.Entry, message string) Result {
	if err := d.sendLogs.MarkFailed(ctx, entry.ID, message); err != nil {
		d.logger.Error("send log update after failure failed", "send_log_id", entry.ID, "error", err)
	}
	d.publish(ctx, events.StatusChanged{
		SendLogID:  entry.ID,
		DoctorID:   entry.DoctorID,
		SenderID:   entry.SenderID,
		Status:     string(sendlogs.StatusFailed),
		Error:      message,
		OccurredAt: d.now().UTC(),
	})
	d.metrics.ObserveRecipient("failed")
	d.logger.Warn("dispatch to doctor failed", "doctor_id", entry.DoctorID, "send_log_id", entry.ID, "error", message)
	result.Error = message
	return result
}

func (d *Dispatcher) publish(ctx context.Context, event events.StatusChanged) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("status event publish failed", "send_log_id", event.SendLogID, "error", err)
	}
}

// Resend dispatches an existing entry's message and files to the same doctor
// as a new audit entry.
func (d *Dispatcher) Resend(ctx context.Context, sendLogID, senderID string) (*Result, error) {
	entry, err := d.sendLogs.GetByID(ctx, sendLogID)
	if err != nil {
		return nil, err
	}
	var fileIDs []string
	if d.attachments != nil {
		if fileIDs, err = d.attachments.ForSendLog(ctx, entry.ID); err != nil {
			return nil, fmt.Errorf("dispatch: load files for resend: %w", err)
		}
	}
	if senderID == "" {
		senderID = entry.SenderID
	}
	resp, err := d.Dispatch(ctx, Request{
		DoctorIDs:     []string{entry.DoctorID},
		CustomMessage: entry.CustomMessage,
		FileIDs:       fileIDs,
		PatientName:   entry.PatientName,
		PatientSite:   entry.PatientSite,
		SenderID:      senderID,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Results[0], nil
}

type mediaOnce struct {
	once sync.Once
	load func() ([]string, error)
	urls []string
	err  error
}

func (m *mediaOnce) get() ([]string, error) {
	m.once.Do(func() {
		m.urls, m.err = m.load()
	})
	return m.urls, m.err
}

func hasAny(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func countSuccess(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
