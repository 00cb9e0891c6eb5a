package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// LookupChecker asks Twilio Lookup v2 whether a number is a mobile line and
// falls back to another checker whenever the lookup cannot answer.
type LookupChecker struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	fallback   phone.Checker
	logger     *logging.Logger
}

var _ phone.Checker = (*LookupChecker)(nil)

func NewLookupChecker(accountSID, authToken, baseURL string, timeout time.Duration, fallback phone.Checker, logger *logging.Logger) *LookupChecker {
	if logger == nil {
		logger = logging.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://lookups.twilio.com"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LookupChecker{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		fallback:   fallback,
		logger:     logger,
	}
}

func (c *LookupChecker) CheckWhatsApp(ctx context.Context, e164 string) bool {
	if !phone.IsE164(e164) {
		return false
	}
	capable, err := c.lookup(ctx, e164)
	if err != nil {
		c.logger.Warn("whatsapp lookup failed, using fallback", "phone", e164, "error", err)
		if c.fallback == nil {
			return false
		}
		return c.fallback.CheckWhatsApp(ctx, e164)
	}
	return capable
}

type lineType struct {
	Type string `json:"type"`
}

type lookupResponse struct {
	Valid                bool      `json:"valid"`
	LineTypeIntelligence *lineType `json:"line_type_intelligence"`
}

func (c *LookupChecker) lookup(ctx context.Context, e164 string) (bool, error) {
	if c.accountSID == "" || c.authToken == "" {
		return false, fmt.Errorf("provider: lookup credentials missing")
	}
	endpoint := fmt.Sprintf("%s/v2/PhoneNumbers/%s?Fields=line_type_intelligence", c.baseURL, url.PathEscape(e164))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("provider: build lookup request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("provider: lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{StatusCode: resp.StatusCode}
	}

	var parsed lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("provider: decode lookup: %w", err)
	}
	if !parsed.Valid {
		return false, nil
	}
	if parsed.LineTypeIntelligence == nil {
		return false, fmt.Errorf("provider: lookup returned no line type")
	}
	switch parsed.LineTypeIntelligence.Type {
	case "mobile", "nonFixedVoip", "personal":
		return true, nil
	default:
		return false, nil
	}
}
