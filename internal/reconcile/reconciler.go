// Package reconcile applies asynchronous delivery-status callbacks to the
// send-log audit trail.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/events"
	"github.com/P-KIALA/E-Results-20-sub000/internal/notify"
	"github.com/P-KIALA/E-Results-20-sub000/internal/observability/metrics"
	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

var tracer = otel.Tracer("eresults.internal.reconcile")

// Outcome is what a callback did to the audit trail.
type Outcome string

const (
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeStale     Outcome = "stale"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeApplied   Outcome = "applied"
)

const maxCASAttempts = 3

type SendLogStore interface {
	FindByProviderID(ctx context.Context, providerMessageID string) (*sendlogs.Entry, error)
	ApplyStatus(ctx context.Context, u sendlogs.StatusUpdate) error
}

type DoctorLookup interface {
	GetByID(ctx context.Context, id string) (*doctors.Doctor, error)
}

type Notifier interface {
	NotifyFailed(ctx context.Context, notice notify.FailureNotice) error
}

type Config struct {
	SendLogs  SendLogStore
	Doctors   DoctorLookup
	Notifier  Notifier
	Publisher events.Publisher
	Metrics   *metrics.DispatchMetrics
	Logger    *logging.Logger
	Now       func() time.Time
}

type Reconciler struct {
	sendLogs  SendLogStore
	doctors   DoctorLookup
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.DispatchMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewReconciler(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		sendLogs:  cfg.SendLogs,
		doctors:   cfg.Doctors,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Apply folds one provider callback into the matching entry. Transitions the
// lifecycle does not allow are reported as stale and leave the entry alone.
func (r *Reconciler) Apply(ctx context.Context, cb provider.StatusCallback) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "reconcile.apply")
	defer span.End()

	to := sendlogs.MapProviderStatus(cb.Status)
	span.SetAttributes(
		attribute.String("eresults.provider_message_id", cb.MessageID),
		attribute.String("eresults.status", string(to)),
	)

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		entry, err := r.sendLogs.FindByProviderID(ctx, cb.MessageID)
		if errors.Is(err, sendlogs.ErrNotFound) {
			r.metrics.ObserveCallback(string(to), false)
			r.logger.Info("status callback for unknown message", "message_id", cb.MessageID, "status", cb.Status)
			return OutcomeUnmatched, nil
		}
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("reconcile: find entry: %w", err)
		}

		if !sendlogs.CanTransition(entry.Status, to) {
			r.metrics.ObserveCallback(string(to), true)
			r.logger.Info("stale status callback ignored", "send_log_id", entry.ID, "current", entry.Status, "incoming", to)
			return OutcomeStale, nil
		}
		if entry.Status == to {
			r.metrics.ObserveCallback(string(to), true)
			return OutcomeUnchanged, nil
		}

		update := sendlogs.StatusUpdate{
			ID:   entry.ID,
			From: entry.Status,
			To:   to,
			At:   r.now().UTC(),
		}
		if to == sendlogs.StatusFailed {
			update.Error = cb.ErrorText()
		}
		err = r.sendLogs.ApplyStatus(ctx, update)
		if errors.Is(err, sendlogs.ErrConflict) {
			r.logger.Debug("status changed concurrently, re-reading", "send_log_id", entry.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("reconcile: apply status: %w", err)
		}

		r.metrics.ObserveCallback(string(to), true)
		r.logger.Info("status applied", "send_log_id", entry.ID, "from", entry.Status, "to", to)
		r.afterApply(ctx, entry, update, cb)
		return OutcomeApplied, nil
	}
	return "", fmt.Errorf("reconcile: message %s: %w", cb.MessageID, sendlogs.ErrConflict)
}

func (r *Reconciler) afterApply(ctx context.Context, entry *sendlogs.Entry, update sendlogs.StatusUpdate, cb provider.StatusCallback) {
	if err := r.publisher.Publish(ctx, events.StatusChanged{
		SendLogID:         entry.ID,
		DoctorID:          entry.DoctorID,
		SenderID:          entry.SenderID,
		Status:            string(update.To),
		ProviderMessageID: cb.MessageID,
		Error:             update.Error,
		OccurredAt:        update.At,
	}); err != nil {
		r.logger.Warn("status event publish failed", "send_log_id", entry.ID, "error", err)
	}

	if update.To != sendlogs.StatusFailed || r.notifier == nil {
		return
	}
	notice := notify.FailureNotice{
		SendLogID:   entry.ID,
		SenderID:    entry.SenderID,
		PatientName: entry.PatientName,
		Error:       update.Error,
	}
	if r.doctors != nil {
		if d, err := r.doctors.GetByID(ctx, entry.DoctorID); err == nil {
			notice.DoctorName = d.Name
			notice.DoctorPhone = d.Phone
		}
	}
	if err := r.notifier.NotifyFailed(ctx, notice); err != nil {
		r.logger.Warn("failure notice not sent", "send_log_id", entry.ID, "error", err)
	}
}
