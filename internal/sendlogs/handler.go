package sendlogs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/P-KIALA/E-Results-20-sub000/internal/directory"
	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// Reader is the read/delete side of the store used by the handler.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]*Entry, int, error)
	Stats(ctx context.Context, f Filter) (map[Status]int, error)
	SoftDelete(ctx context.Context, id string) error
}

type DoctorLookup interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*doctors.Doctor, error)
}

// LogView is an entry enriched with doctor and sender details.
type LogView struct {
	*Entry
	DoctorName  string `json:"doctor_name,omitempty"`
	DoctorPhone string `json:"doctor_phone,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	SenderSite  string `json:"sender_site,omitempty"`
}

type ListResponse struct {
	Logs   []LogView `json:"logs"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type StatsResponse struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

type HandlerConfig struct {
	Store     Reader
	Doctors   DoctorLookup
	Directory directory.Lookup
	Logger    *logging.Logger
}

type Handler struct {
	store     Reader
	doctors   DoctorLookup
	directory directory.Lookup
	logger    *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		store:     cfg.Store,
		doctors:   cfg.Doctors,
		directory: cfg.Directory,
		logger:    cfg.Logger,
	}
}

// List handles GET /api/send-logs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter = filter.Normalize()

	resolved, ok := h.resolveSite(r.Context(), w, r.URL.Query().Get("site_id"), &filter)
	if !ok {
		return
	}
	if !resolved {
		httpx.WriteJSON(w, http.StatusOK, ListResponse{Logs: []LogView{}, Limit: filter.Limit, Offset: filter.Offset})
		return
	}

	entries, total, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query send logs", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query send logs")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ListResponse{
		Logs:   h.enrich(r.Context(), entries),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Stats handles GET /api/send-logs/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolved, ok := h.resolveSite(r.Context(), w, r.URL.Query().Get("site_id"), &filter)
	if !ok {
		return
	}
	resp := StatsResponse{ByStatus: map[Status]int{}}
	if resolved {
		counts, err := h.store.Stats(r.Context(), filter)
		if err != nil {
			h.logger.Error("failed to compute send log stats", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to compute stats")
			return
		}
		for status, n := range counts {
			resp.ByStatus[status] = n
			resp.Total += n
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/send-logs/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.SoftDelete(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "send log not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete send log", "send_log_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete send log")
		return
	}
	h.logger.Info("send log soft-deleted", "send_log_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// resolveSite turns site_id into the contextual site name. It reports
// resolved=false for an unknown site and ok=false after writing an error.
func (h *Handler) resolveSite(ctx context.Context, w http.ResponseWriter, siteID string, f *Filter) (resolved, ok bool) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return true, true
	}
	if h.directory == nil || !isUUID(siteID) {
		return false, true
	}
	site, err := h.directory.SiteByID(ctx, siteID)
	if errors.Is(err, directory.ErrNotFound) {
		return false, true
	}
	if err != nil {
		h.logger.Error("failed to resolve site", "site_id", siteID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to resolve site")
		return false, false
	}
	f.PatientSite = site.Name
	return true, true
}

func (h *Handler) enrich(ctx context.Context, entries []*Entry) []LogView {
	views := make([]LogView, len(entries))
	doctorIDs := make([]string, 0, len(entries))
	senderIDs := make([]string, 0, len(entries))
	seenDoctor := map[string]bool{}
	seenSender := map[string]bool{}
	for i, e := range entries {
		views[i] = LogView{Entry: e}
		if e.DoctorID != "" && !seenDoctor[e.DoctorID] {
			seenDoctor[e.DoctorID] = true
			doctorIDs = append(doctorIDs, e.DoctorID)
		}
		if e.SenderID != "" && !seenSender[e.SenderID] {
			seenSender[e.SenderID] = true
			senderIDs = append(senderIDs, e.SenderID)
		}
	}

	var docs map[string]*doctors.Doctor
	if h.doctors != nil && len(doctorIDs) > 0 {
		var err error
		if docs, err = h.doctors.GetByIDs(ctx, doctorIDs); err != nil {
			h.logger.Warn("send log doctor enrichment failed", "error", err)
		}
	}

	var users map[string]directory.User
	var sites map[string]directory.Site
	if h.directory != nil && len(senderIDs) > 0 {
		var err error
		if users, err = h.directory.UsersByIDs(ctx, senderIDs); err != nil {
			h.logger.Warn("send log sender enrichment failed", "error", err)
		}
		siteIDs := make([]string, 0, len(users))
		seenSite := map[string]bool{}
		for _, u := range users {
			if u.SiteID != "" && !seenSite[u.SiteID] {
				seenSite[u.SiteID] = true
				siteIDs = append(siteIDs, u.SiteID)
			}
		}
		if len(siteIDs) > 0 {
			if sites, err = h.directory.SitesByIDs(ctx, siteIDs); err != nil {
				h.logger.Warn("send log site enrichment failed", "error", err)
			}
		}
	}

	for i := range views {
		if d, ok := docs[views[i].DoctorID]; ok {
			views[i].DoctorName = d.Name
			views[i].DoctorPhone = d.Phone
		}
		if u, ok := users[views[i].SenderID]; ok {
			views[i].SenderEmail = u.Email
			if site, ok := sites[u.SiteID]; ok {
				views[i].SenderSite = site.Name
			}
		}
	}
	return views
}

// ParseFilter reads the query-string filter. Dates accept YYYY-MM-DD or RFC3339.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		DoctorID: strings.TrimSpace(q.Get("doctor_id")),
		Status:   Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
	}
	if f.DoctorID != "" && !isUUID(f.DoctorID) {
		return Filter{}, errors.New("invalid doctor_id")
	}

	for _, key := range []string{"sender_id", "sender_id[]"} {
		for _, raw := range q[key] {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id == "" {
					continue
				}
				if !isUUID(id) {
					return Filter{}, errors.New("invalid sender_id")
				}
				f.SenderIDs = append(f.SenderIDs, id)
			}
		}
	}

	var err error
	if f.StartDate, err = parseDate(q.Get("startDate")); err != nil {
		return Filter{}, errors.New("invalid startDate")
	}
	if f.EndDate, err = parseDate(q.Get("endDate")); err != nil {
		return Filter{}, errors.New("invalid endDate")
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return Filter{}, errors.New("invalid limit")
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return Filter{}, errors.New("invalid offset")
	}
	return f, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func parseInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
