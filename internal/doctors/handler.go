package doctors

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// HandlerConfig wires the doctor endpoints.
type HandlerConfig struct {
	Repo               Repository
	Checker            phone.Checker
	DefaultCountryCode string
	Logger             *logging.Logger
	Now                func() time.Time
}

// Handler serves /api/doctors.
type Handler struct {
	repo        Repository
	checker     phone.Checker
	countryCode string
	logger      *logging.Logger
	now         func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		repo:        cfg.Repo,
		checker:     cfg.Checker,
		countryCode: cfg.DefaultCountryCode,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/verify", h.Verify)
	return r
}

// List handles GET /api/doctors?limit=&offset=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list doctors", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list doctors")
		return
	}
	if list == nil {
		list = []*Doctor{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"doctors": list})
}

type createRequest struct {
	Phone          string `json:"phone"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	ExternalID     string `json:"external_id"`
}

// Create handles POST /api/doctors.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(w, r, 1<<20, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	normalized := phone.Normalize(req.Phone, h.countryCode)
	if !normalized.IsValid {
		httpx.WriteError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = normalized.Formatted
	}

	d := &Doctor{
		Phone:          normalized.Formatted,
		Name:           name,
		Specialization: strings.TrimSpace(req.Specialization),
		ExternalID:     strings.TrimSpace(req.ExternalID),
	}
	if h.checker != nil && h.checker.CheckWhatsApp(r.Context(), d.Phone) {
		now := h.now().UTC()
		d.WhatsAppVerified = true
		d.VerifiedAt = &now
	}

	created, err := h.repo.Create(r.Context(), d)
	switch {
	case errors.Is(err, ErrDuplicatePhone):
		httpx.WriteError(w, http.StatusConflict, "phone already registered")
		return
	case errors.Is(err, ErrDuplicateExternalID):
		httpx.WriteError(w, http.StatusConflict, "external id already registered")
		return
	case err != nil:
		h.logger.Error("failed to create doctor", "phone", d.Phone, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create doctor")
		return
	}
	h.logger.Info("doctor created", "doctor_id", created.ID, "whatsapp_verified", created.WhatsAppVerified)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

// Verify handles POST /api/doctors/{id}/verify by re-running the capability check.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "doctor not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load doctor", "doctor_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load doctor")
		return
	}

	verified := h.checker != nil && h.checker.CheckWhatsApp(r.Context(), d.Phone)
	updated, err := h.repo.UpdateVerification(r.Context(), id, verified, h.now())
	if err != nil {
		h.logger.Error("failed to update verification", "doctor_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update verification")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}
