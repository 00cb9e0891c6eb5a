package sendlogs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/P-KIALA/E-Results-20-sub000/internal/directory"
	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
)

type fakeReader struct {
	entries []*Entry
	filters []Filter
	stats   map[Status]int
	deleted []string
}

func (f *fakeReader) Query(_ context.Context, filter Filter) ([]*Entry, int, error) {
	f.filters = append(f.filters, filter)
	return f.entries, len(f.entries), nil
}

func (f *fakeReader) Stats(_ context.Context, filter Filter) (map[Status]int, error) {
	f.filters = append(f.filters, filter)
	return f.stats, nil
}

func (f *fakeReader) SoftDelete(_ context.Context, id string) error {
	if id == "missing" {
		return ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDoctors struct {
	calls int
	byID  map[string]*doctors.Doctor
}

func (f *fakeDoctors) GetByIDs(_ context.Context, ids []string) (map[string]*doctors.Doctor, error) {
	f.calls++
	out := map[string]*doctors.Doctor{}
	for _, id := range ids {
		if d, ok := f.byID[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type fakeDirectory struct {
	userCalls int
	siteCalls int
	users     map[string]directory.User
	sites     map[string]directory.Site
}

func (f *fakeDirectory) UsersByIDs(_ context.Context, ids []string) (map[string]directory.User, error) {
	f.userCalls++
	out := map[string]directory.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeDirectory) SitesByIDs(_ context.Context, ids []string) (map[string]directory.Site, error) {
	f.siteCalls++
	out := map[string]directory.Site{}
	for _, id := range ids {
		if s, ok := f.sites[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeDirectory) SiteByID(_ context.Context, id string) (*directory.Site, error) {
	s, ok := f.sites[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &s, nil
}

const (
	siteNord  = "5b1f3c2e-8a4d-4f6b-9c1e-2d7a0b3c4e5f"
	senderOne = "0e8f6a1b-3c2d-4e5f-8a9b-1c2d3e4f5a6b"
	senderTwo = "7a6b5c4d-3e2f-4a1b-9c8d-7e6f5a4b3c2d"
)

func newHandlerFixture() (*Handler, *fakeReader, *fakeDoctors, *fakeDirectory) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	reader := &fakeReader{entries: []*Entry{
		{ID: "log-1", DoctorID: "doc-1", Status: StatusSent, SenderID: "u1", CreatedAt: now},
		{ID: "log-2", DoctorID: "doc-1", Status: StatusFailed, SenderID: "u1", CreatedAt: now},
		{ID: "log-3", DoctorID: "doc-2", Status: StatusDelivered, SenderID: "u2", CreatedAt: now},
	}}
	docs := &fakeDoctors{byID: map[string]*doctors.Doctor{
		"doc-1": {ID: "doc-1", Name: "Dr A", Phone: "+33611111111"},
		"doc-2": {ID: "doc-2", Name: "Dr B", Phone: "+33622222222"},
	}}
	dir := &fakeDirectory{
		users: map[string]directory.User{
			"u1": {ID: "u1", Email: "a@lab.test", SiteID: "s1"},
			"u2": {ID: "u2", Email: "b@lab.test", SiteID: "s1"},
		},
		sites: map[string]directory.Site{
			"s1":     {ID: "s1", Name: "Lab Nord"},
			siteNord: {ID: siteNord, Name: "Lab Nord"},
		},
	}
	h := NewHandler(HandlerConfig{Store: reader, Doctors: docs, Directory: dir})
	return h, reader, docs, dir
}

func TestListEnrichesWithOneBatchPerLookup(t *testing.T) {
	h, _, docs, dir := newHandlerFixture()
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 3)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, DefaultLimit, resp.Limit)
	assert.Equal(t, "Dr A", resp.Logs[0].DoctorName)
	assert.Equal(t, "+33622222222", resp.Logs[2].DoctorPhone)
	assert.Equal(t, "a@lab.test", resp.Logs[1].SenderEmail)
	assert.Equal(t, "Lab Nord", resp.Logs[2].SenderSite)

	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, 1, dir.userCalls)
	assert.Equal(t, 1, dir.siteCalls)
}

func TestListResolvesSiteToName(t *testing.T) {
	h, reader, _, _ := newHandlerFixture()
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs?site_id="+siteNord+"&startDate=2024-03-01&endDate=2024-03-01&sender_id="+senderOne+","+senderTwo+"&sender_id="+senderOne, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reader.filters, 1)
	f := reader.filters[0]
	assert.Equal(t, "Lab Nord", f.PatientSite)
	assert.Equal(t, []string{senderOne, senderTwo, senderOne}, f.SenderIDs)
	require.NotNil(t, f.StartDate)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), *f.EndExclusive())
}

func TestListUnknownSiteReturnsEmptyPage(t *testing.T) {
	h, reader, _, _ := newHandlerFixture()
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs?site_id=nope", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[],"total":0,"limit":50,"offset":0}`, rec.Body.String())
	assert.Empty(t, reader.filters)
}

func TestListRejectsBadParams(t *testing.T) {
	h, _, _, _ := newHandlerFixture()
	for _, q := range []string{"startDate=yesterday", "endDate=2024-13-01", "limit=ten", "offset=x",
		"doctor_id=abc", "sender_id=abc", "sender_id=" + senderOne + ",staff-1"} {
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListNonUUIDSiteIsUnknown(t *testing.T) {
	h, reader, _, _ := newHandlerFixture()
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs?site_id=s1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[],"total":0,"limit":50,"offset":0}`, rec.Body.String())
	assert.Empty(t, reader.filters)
}

func TestParseFilterValidatesIDs(t *testing.T) {
	f, err := ParseFilter(url.Values{"doctor_id": {senderTwo}, "sender_id": {senderOne}})
	require.NoError(t, err)
	assert.Equal(t, senderTwo, f.DoctorID)
	assert.Equal(t, []string{senderOne}, f.SenderIDs)

	_, err = ParseFilter(url.Values{"doctor_id": {"doc-1"}})
	assert.EqualError(t, err, "invalid doctor_id")
	_, err = ParseFilter(url.Values{"sender_id[]": {"u1"}})
	assert.EqualError(t, err, "invalid sender_id")
}

func TestStatsSumsCounts(t *testing.T) {
	h, reader, _, _ := newHandlerFixture()
	reader.stats = map[Status]int{StatusSent: 4, StatusFailed: 1}
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/send-logs/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":5,"by_status":{"sent":4,"failed":1}}`, rec.Body.String())
}

func TestDeleteSoftDeletes(t *testing.T) {
	h, reader, _, _ := newHandlerFixture()
	r := chi.NewRouter()
	r.Delete("/api/send-logs/{id}", h.Delete)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/send-logs/log-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"log-1"}, reader.deleted)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/send-logs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseFilterAcceptsRFC3339(t *testing.T) {
	f, err := ParseFilter(url.Values{"startDate": {"2024-03-01T08:00:00Z"}, "status": {"Delivered"}})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, f.Status)
	assert.Equal(t, 8, f.StartDate.Hour())
}
