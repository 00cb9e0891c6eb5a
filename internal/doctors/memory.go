package doctors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps doctors in process memory with the same uniqueness
// rules as the Postgres schema.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Doctor
	byPhone map[string]string
	now     func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Doctor),
		byPhone: make(map[string]string),
		now:     time.Now,
	}
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

func (m *MemoryRepository) GetByIDs(_ context.Context, ids []string) (map[string]*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Doctor, len(ids))
	for _, id := range ids {
		if d, ok := m.byID[id]; ok {
			out[id] = clone(d)
		}
	}
	return out, nil
}

func (m *MemoryRepository) GetByPhone(_ context.Context, phone string) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *MemoryRepository) Create(_ context.Context, in *Doctor) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byPhone[in.Phone]; exists {
		return nil, ErrDuplicatePhone
	}
	if in.ExternalID != "" {
		for _, existing := range m.byID {
			if existing.ExternalID == in.ExternalID {
				return nil, ErrDuplicateExternalID
			}
		}
	}
	d := clone(in)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := m.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.byID[d.ID] = d
	m.byPhone[d.Phone] = d.ID
	return clone(d), nil
}

func (m *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Doctor, error) {
	limit, offset = clampPage(limit, offset)
	m.mu.RLock()
	all := make([]*Doctor, 0, len(m.byID))
	for _, d := range m.byID {
		all = append(all, clone(d))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryRepository) UpdateVerification(_ context.Context, id string, verified bool, at time.Time) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.WhatsAppVerified = verified
	d.VerifiedAt = nil
	if verified {
		t := at.UTC()
		d.VerifiedAt = &t
	}
	d.UpdatedAt = m.now().UTC()
	return clone(d), nil
}

func clone(d *Doctor) *Doctor {
	if d == nil {
		return nil
	}
	out := *d
	if d.VerifiedAt != nil {
		t := *d.VerifiedAt
		out.VerifiedAt = &t
	}
	return &out
}
