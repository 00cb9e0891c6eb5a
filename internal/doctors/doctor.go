// Package doctors stores result recipients and their WhatsApp verification state.
package doctors

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("doctors: not found")
	ErrDuplicatePhone      = errors.New("doctors: phone already registered")
	ErrDuplicateExternalID = errors.New("doctors: external id already registered")
)

// Doctor is a registered recipient. Phone is unique and stored in E.164.
type Doctor struct {
	ID               string     `json:"id"`
	Phone            string     `json:"phone"`
	Name             string     `json:"name"`
	Specialization   string     `json:"specialization,omitempty"`
	ExternalID       string     `json:"external_id,omitempty"`
	WhatsAppVerified bool       `json:"whatsapp_verified"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Repository is the doctor persistence contract.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Doctor, error)
	// GetByIDs returns the doctors found, keyed by id. Unknown ids are absent.
	GetByIDs(ctx context.Context, ids []string) (map[string]*Doctor, error)
	GetByPhone(ctx context.Context, phone string) (*Doctor, error)
	Create(ctx context.Context, d *Doctor) (*Doctor, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, error)
	UpdateVerification(ctx context.Context, id string, verified bool, at time.Time) (*Doctor, error)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
