package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusCallback is a delivery-status report posted by the provider.
type StatusCallback struct {
	MessageID    string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// ErrorText joins the provider error code and message for storage.
func (c StatusCallback) ErrorText() string {
	switch {
	case c.ErrorCode != "" && c.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", c.ErrorCode, c.ErrorMessage)
	case c.ErrorCode != "":
		return "error code " + c.ErrorCode
	default:
		return c.ErrorMessage
	}
}

var ErrMissingMessageID = errors.New("provider: status callback without message id")

// ParseStatusCallback reads a form-encoded status callback. Twilio sends both
// the Message* and legacy Sms* field names; Message* wins.
func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, fmt.Errorf("provider: parse form: %w", err)
	}
	cb := StatusCallback{
		MessageID:    firstNonEmpty(r.PostFormValue("MessageSid"), r.PostFormValue("SmsSid")),
		Status:       firstNonEmpty(r.PostFormValue("MessageStatus"), r.PostFormValue("SmsStatus")),
		ErrorCode:    strings.TrimSpace(r.PostFormValue("ErrorCode")),
		ErrorMessage: strings.TrimSpace(r.PostFormValue("ErrorMessage")),
	}
	if cb.MessageID == "" {
		return cb, ErrMissingMessageID
	}
	return cb, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
