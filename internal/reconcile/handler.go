package reconcile

import (
	"context"
	"net/http"

	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

type Applier interface {
	Apply(ctx context.Context, cb provider.StatusCallback) (Outcome, error)
}

type WebhookConfig struct {
	Reconciler Applier
	// AuthToken enables X-Twilio-Signature validation when ValidateSignature is set.
	AuthToken         string
	ValidateSignature bool
	// PublicURL is the callback URL as the provider sees it; empty means
	// rebuild it from the request.
	PublicURL string
	Logger    *logging.Logger
}

type WebhookHandler struct {
	reconciler Applier
	authToken  string
	validate   bool
	publicURL  string
	logger     *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		reconciler: cfg.Reconciler,
		authToken:  cfg.AuthToken,
		validate:   cfg.ValidateSignature,
		publicURL:  cfg.PublicURL,
		logger:     cfg.Logger,
	}
}

// ServeHTTP handles POST /api/webhooks/twilio/status. Apart from a bad
// signature it always answers 200 so the provider does not retry.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.validate {
		if !provider.ValidateSignature(r, h.authToken, h.callbackURL(r)) {
			h.logger.Warn("status callback with invalid signature", "remote_ip", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	cb, err := provider.ParseStatusCallback(r)
	if err != nil {
		h.logger.Warn("malformed status callback", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome, err := h.reconciler.Apply(r.Context(), cb)
	if err != nil {
		h.logger.Error("status callback not applied", "message_id", cb.MessageID, "status", cb.Status, "error", err)
	} else {
		h.logger.Debug("status callback processed", "message_id", cb.MessageID, "outcome", outcome)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) callbackURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
