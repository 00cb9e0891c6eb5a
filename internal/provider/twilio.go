package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/P-KIALA/E-Results-20-sub000/internal/observability/metrics"
	"github.com/P-KIALA/E-Results-20-sub000/internal/retry"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

var twilioTracer = otel.Tracer("eresults.internal.provider.twilio")

const whatsappPrefix = "whatsapp:"

// TwilioConfig configures the WhatsApp sender.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	From        string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Metrics     *metrics.DispatchMetrics
}

// TwilioClient sends WhatsApp messages through Twilio's Messages API.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	metrics    *metrics.DispatchMetrics
	logger     *logging.Logger
}

var _ Sender = (*TwilioClient)(nil)

// NewTwilioClient builds a client with sane defaults.
func NewTwilioClient(cfg TwilioConfig, logger *logging.Logger) *TwilioClient {
	if logger == nil {
		logger = logging.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    baseURL,
		httpClient: httpClient,
		policy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     retry.Linear(backoff),
			Retryable:   IsRetryable,
		},
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Send posts one message, retrying transient failures under the client's
// policy, and returns Twilio's message sid.
func (c *TwilioClient) Send(ctx context.Context, msg Message) (string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return "", errors.New("provider: twilio credentials missing")
	}
	if c.from == "" {
		return "", fmt.Errorf("%w: from number required", ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", fmt.Errorf("%w: to required", ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", fmt.Errorf("%w: body required", ErrInvalidMessage)
	}

	ctx, span := twilioTracer.Start(ctx, "provider.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("eresults.to", msg.To),
		attribute.Int("eresults.media_count", len(msg.MediaURLs)),
	)

	payload := url.Values{}
	payload.Set("To", whatsappAddress(msg.To))
	payload.Set("From", whatsappAddress(c.from))
	payload.Set("Body", msg.Body)
	for _, media := range msg.MediaURLs {
		if media = strings.TrimSpace(media); media != "" {
			payload.Add("MediaUrl", media)
		}
	}
	if msg.StatusCallback != "" {
		payload.Set("StatusCallback", msg.StatusCallback)
	}
	encoded := payload.Encode()
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	var messageID string
	attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		id, err := c.post(ctx, endpoint, encoded)
		switch {
		case err == nil:
			c.metrics.ObserveProviderAttempt("ok")
			messageID = id
			return nil
		case IsRetryable(err):
			c.metrics.ObserveProviderAttempt("retryable_error")
			c.logger.Warn("twilio send attempt failed", "to", msg.To, "attempt", attempt, "error", err)
		default:
			c.metrics.ObserveProviderAttempt("permanent_error")
		}
		return err
	})
	span.SetAttributes(attribute.Int("eresults.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	c.logger.Info("twilio whatsapp sent", "to", msg.To, "message_id", messageID, "attempts", attempts)
	return messageID, nil
}

func (c *TwilioClient) post(ctx context.Context, endpoint, encoded string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError(resp.StatusCode, body)
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.SID != "" {
		return parsed.SID, nil
	}
	return strings.TrimSpace(string(body)), nil
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}
