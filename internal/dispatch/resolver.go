package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// DoctorDirectory is what the resolver needs from the doctor repository.
type DoctorDirectory interface {
	GetByPhone(ctx context.Context, phone string) (*doctors.Doctor, error)
	Create(ctx context.Context, d *doctors.Doctor) (*doctors.Doctor, error)
}

// Resolver flattens doctor ids and ad-hoc phone numbers into doctor ids,
// creating lightweight doctor records for unknown numbers.
type Resolver struct {
	doctors     DoctorDirectory
	checker     phone.Checker
	countryCode string
	logger      *logging.Logger
	now         func() time.Time
}

func NewResolver(repo DoctorDirectory, checker phone.Checker, defaultCountryCode string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		doctors:     repo,
		checker:     checker,
		countryCode: defaultCountryCode,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve keeps doctor ids in order without duplicates, then appends one id
// per valid extra number. Invalid numbers are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, doctorIDs, extraNumbers []string) ([]string, error) {
	seen := make(map[string]bool, len(doctorIDs)+len(extraNumbers))
	out := make([]string, 0, len(doctorIDs)+len(extraNumbers))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, id := range doctorIDs {
		if id = strings.TrimSpace(id); id != "" {
			add(id)
		}
	}

	for _, raw := range extraNumbers {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		normalized := phone.Normalize(raw, r.countryCode)
		if !normalized.IsValid {
			r.logger.Warn("skipping invalid extra number", "raw", raw)
			continue
		}
		id, err := r.upsertByPhone(ctx, normalized.Formatted)
		if err != nil {
			return nil, err
		}
		add(id)
	}
	return out, nil
}

func (r *Resolver) upsertByPhone(ctx context.Context, e164 string) (string, error) {
	existing, err := r.doctors.GetByPhone(ctx, e164)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, doctors.ErrNotFound) {
		return "", fmt.Errorf("dispatch: lookup doctor by phone: %w", err)
	}

	d := &doctors.Doctor{Phone: e164, Name: e164}
	if r.checker != nil && r.checker.CheckWhatsApp(ctx, e164) {
		now := r.now().UTC()
		d.WhatsAppVerified = true
		d.VerifiedAt = &now
	}
	created, err := r.doctors.Create(ctx, d)
	if err == nil {
		r.logger.Info("created ad-hoc doctor", "doctor_id", created.ID, "whatsapp_verified", created.WhatsAppVerified)
		return created.ID, nil
	}
	if !errors.Is(err, doctors.ErrDuplicatePhone) {
		return "", fmt.Errorf("dispatch: create ad-hoc doctor: %w", err)
	}

	// Lost the insert race; the other writer's row is the one to use.
	existing, err = r.doctors.GetByPhone(ctx, e164)
	if err != nil {
		return "", fmt.Errorf("dispatch: refetch doctor after duplicate: %w", err)
	}
	return existing.ID, nil
}
