package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/P-KIALA/E-Results-20-sub000/internal/http/httpx"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

const maxFilesPerUpload = 10

// MetadataStore is the metadata side used by the handler.
type MetadataStore interface {
	Create(ctx context.Context, in ResultFile) (*ResultFile, error)
	GetByPath(ctx context.Context, storagePath string) (*ResultFile, error)
}

type HandlerConfig struct {
	Store    MetadataStore
	Storage  ObjectStorage
	MaxBytes int64
	URLTTL   time.Duration
	Logger   *logging.Logger
	Now      func() time.Time
}

// Handler serves upload, signed URL and download endpoints.
type Handler struct {
	store    MetadataStore
	storage  ObjectStorage
	maxBytes int64
	urlTTL   time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 << 20
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		store:    cfg.Store,
		storage:  cfg.Storage,
		maxBytes: cfg.MaxBytes,
		urlTTL:   cfg.URLTTL,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

type uploadItem struct {
	Name string `json:"name"`
	Data string `json:"data"`
	Type string `json:"type"`
}

type decodedFile struct {
	name        string
	contentType string
	data        []byte
}

// Upload handles POST /api/files/upload. Every file is decoded and checked
// before anything is written.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var items []uploadItem
	bodyLimit := (h.maxBytes/3*4 + 4096) * maxFilesPerUpload
	if err := httpx.DecodeJSON(w, r, bodyLimit, &items); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(items) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(items) > maxFilesPerUpload {
		httpx.WriteError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxFilesPerUpload))
		return
	}

	decoded := make([]decodedFile, 0, len(items))
	for _, item := range items {
		f, err := h.decode(item)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		decoded = append(decoded, f)
	}

	created := make([]*ResultFile, 0, len(decoded))
	for _, f := range decoded {
		storagePath := StoragePath(h.now(), f.name)
		if err := h.storage.Upload(r.Context(), storagePath, f.contentType, f.data); err != nil {
			h.logger.Error("file upload failed", "file_name", f.name, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to store file")
			return
		}
		rec, err := h.store.Create(r.Context(), ResultFile{
			FileName:    f.name,
			FileType:    f.contentType,
			FileSize:    int64(len(f.data)),
			StoragePath: storagePath,
		})
		if err != nil {
			h.logger.Error("file metadata insert failed", "storage_path", storagePath, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to record file")
			return
		}
		created = append(created, rec)
	}
	h.logger.Info("result files uploaded", "count", len(created))
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"files": created})
}

func (h *Handler) decode(item uploadItem) (decodedFile, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return decodedFile{}, errors.New("file name is required")
	}
	payload := strings.TrimSpace(item.Data)
	if idx := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}
	if payload == "" {
		return decodedFile{}, fmt.Errorf("%s: empty file", name)
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > h.maxBytes+2 {
		return decodedFile{}, fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return decodedFile{}, fmt.Errorf("%s: invalid base64 data", name)
	}
	if int64(len(data)) > h.maxBytes {
		return decodedFile{}, fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	contentType := strings.TrimSpace(item.Type)
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return decodedFile{name: name, contentType: contentType, data: data}, nil
}

// SignedURL handles GET /api/files/url?path=.
func (h *Handler) SignedURL(w http.ResponseWriter, r *http.Request) {
	storagePath := strings.TrimSpace(r.URL.Query().Get("path"))
	if storagePath == "" {
		httpx.WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	u, err := h.storage.SignedURL(r.Context(), storagePath, h.urlTTL)
	if err != nil {
		h.logger.Error("failed to sign file url", "storage_path", storagePath, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to sign url")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"url":        u,
		"expires_in": int(h.urlTTL.Seconds()),
	})
}

// Download handles GET /api/files/download?path= and keeps the original file name.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	storagePath := strings.TrimSpace(r.URL.Query().Get("path"))
	if storagePath == "" {
		httpx.WriteError(w, http.StatusBadRequest, "path is required")
		return
	}

	fileName := path.Base(storagePath)
	contentType := ""
	if rec, err := h.store.GetByPath(r.Context(), storagePath); err == nil {
		fileName = rec.FileName
		contentType = rec.FileType
	} else if !errors.Is(err, ErrNotFound) {
		h.logger.Warn("file metadata lookup failed", "storage_path", storagePath, "error", err)
	}

	body, storedType, err := h.storage.Download(r.Context(), storagePath)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		h.logger.Error("file download failed", "storage_path", storagePath, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to download file")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = storedType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("file download interrupted", "storage_path", storagePath, "error", err)
	}
}
