package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
)

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/twilio/status", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestValidateSignature(t *testing.T) {
	const webhookURL = "https://api.example.com/api/webhooks/twilio/status"
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}

	req := formRequest(form)
	req.Header.Set(SignatureHeader, Sign("token", webhookURL, form))
	assert.True(t, ValidateSignature(req, "token", webhookURL))

	req = formRequest(form)
	req.Header.Set(SignatureHeader, Sign("other", webhookURL, form))
	assert.False(t, ValidateSignature(req, "token", webhookURL))

	req = formRequest(form)
	assert.False(t, ValidateSignature(req, "token", webhookURL))
}

func TestParseStatusCallback(t *testing.T) {
	cb, err := ParseStatusCallback(formRequest(url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"63016"},
		"ErrorMessage":  {"outside session window"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "SM1", cb.MessageID)
	assert.Equal(t, "undelivered", cb.Status)
	assert.Equal(t, "63016: outside session window", cb.ErrorText())

	cb, err = ParseStatusCallback(formRequest(url.Values{"SmsSid": {"SM2"}, "SmsStatus": {"sent"}}))
	require.NoError(t, err)
	assert.Equal(t, "SM2", cb.MessageID)
	assert.Equal(t, "sent", cb.Status)
	assert.Empty(t, cb.ErrorText())

	_, err = ParseStatusCallback(formRequest(url.Values{"MessageStatus": {"sent"}}))
	assert.ErrorIs(t, err, ErrMissingMessageID)
}

func TestLookupChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "line_type_intelligence", r.URL.Query().Get("Fields"))
		switch {
		case strings.HasSuffix(r.URL.Path, "+33612345678"):
			_, _ = w.Write([]byte(`{"valid":true,"line_type_intelligence":{"type":"mobile"}}`))
		case strings.HasSuffix(r.URL.Path, "+33123456789"):
			_, _ = w.Write([]byte(`{"valid":true,"line_type_intelligence":{"type":"landline"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	fallbackCalls := 0
	fallback := phone.CheckerFunc(func(context.Context, string) bool {
		fallbackCalls++
		return true
	})
	checker := NewLookupChecker("AC123", "secret", srv.URL, 0, fallback, nil)
	ctx := context.Background()

	assert.True(t, checker.CheckWhatsApp(ctx, "+33612345678"))
	assert.False(t, checker.CheckWhatsApp(ctx, "+33123456789"))
	assert.Zero(t, fallbackCalls)

	assert.True(t, checker.CheckWhatsApp(ctx, "+15555550100"))
	assert.Equal(t, 1, fallbackCalls)

	assert.False(t, checker.CheckWhatsApp(ctx, "garbage"))
}
