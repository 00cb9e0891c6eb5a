package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
)

func always(v bool) phone.Checker {
	return phone.CheckerFunc(func(context.Context, string) bool { return v })
}

func TestResolveDedupesAndKeepsOrder(t *testing.T) {
	r := NewResolver(doctors.NewMemoryRepository(), always(true), "33", nil)

	ids, err := r.Resolve(context.Background(), []string{"b", " a ", "", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestResolveCreatesAdHocDoctor(t *testing.T) {
	repo := doctors.NewMemoryRepository()
	r := NewResolver(repo, always(true), "33", nil)

	ids, err := r.Resolve(context.Background(), nil, []string{"06 12 34 56 78", "not a number", "+33612345678"})
	require.NoError(t, err)
	require.Len(t, ids, 1, "both spellings resolve to the same doctor")

	d, err := repo.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "+33612345678", d.Phone)
	assert.Equal(t, "+33612345678", d.Name)
	assert.True(t, d.WhatsAppVerified)
	assert.NotNil(t, d.VerifiedAt)
}

func TestResolveReusesExistingDoctor(t *testing.T) {
	repo := doctors.NewMemoryRepository()
	existing, err := repo.Create(context.Background(), &doctors.Doctor{Phone: "+33612345678", Name: "Dr Existing"})
	require.NoError(t, err)
	r := NewResolver(repo, always(false), "33", nil)

	ids, err := r.Resolve(context.Background(), []string{existing.ID}, []string{"0612345678"})
	require.NoError(t, err)
	assert.Equal(t, []string{existing.ID}, ids)
}

func TestResolveUnverifiedAdHocDoctor(t *testing.T) {
	repo := doctors.NewMemoryRepository()
	r := NewResolver(repo, always(false), "33", nil)

	ids, err := r.Resolve(context.Background(), nil, []string{"+447700900123"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	d, err := repo.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.False(t, d.WhatsAppVerified)
	assert.Nil(t, d.VerifiedAt)
}

type racingDirectory struct {
	winner  *doctors.Doctor
	lookups int
}

func (r *racingDirectory) GetByPhone(context.Context, string) (*doctors.Doctor, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, doctors.ErrNotFound
	}
	return r.winner, nil
}

func (r *racingDirectory) Create(context.Context, *doctors.Doctor) (*doctors.Doctor, error) {
	return nil, doctors.ErrDuplicatePhone
}

func TestResolveRefetchesAfterDuplicateRace(t *testing.T) {
	dir := &racingDirectory{winner: &doctors.Doctor{ID: "winner"}}
	r := NewResolver(dir, always(true), "33", nil)

	ids, err := r.Resolve(context.Background(), nil, []string{"+33612345678"})
	require.NoError(t, err)
	assert.Equal(t, []string{"winner"}, ids)
	assert.Equal(t, 2, dir.lookups)
}

type brokenDirectory struct{}

func (brokenDirectory) GetByPhone(context.Context, string) (*doctors.Doctor, error) {
	return nil, errors.New("connection refused")
}

func (brokenDirectory) Create(context.Context, *doctors.Doctor) (*doctors.Doctor, error) {
	return nil, errors.New("unreachable")
}

func TestResolveSurfacesRepositoryErrors(t *testing.T) {
	r := NewResolver(brokenDirectory{}, always(true), "33", nil)
	_, err := r.Resolve(context.Background(), nil, []string{"+33612345678"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
