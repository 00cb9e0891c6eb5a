// Package provider talks to the WhatsApp messaging provider (Twilio).
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Message is one outbound WhatsApp message.
type Message struct {
	To             string
	Body           string
	MediaURLs      []string
	StatusCallback string
}

// Sender submits a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.Code != 0 {
			return fmt.Sprintf("provider: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
		}
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
	}
	if e.Body != "" {
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("provider: status %d", e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

type twilioErrorBody struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	var parsed twilioErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}

// IsRetryable classifies err as transient (rate limit, 5xx, network timeout)
// or permanent (other 4xx, validation, cancellation).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidMessage) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ErrInvalidMessage is returned before any HTTP call when the message cannot be sent.
var ErrInvalidMessage = errors.New("provider: invalid message")
