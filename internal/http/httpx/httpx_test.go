package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "message is required")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "message is required" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"`+strings.Repeat("a", 100)+`"}`))
	rec := httptest.NewRecorder()
	var dst map[string]string
	if err := DecodeJSON(rec, req, 16, &dst); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi","extra":true}`))
	var dst struct {
		Message string `json:"message"`
	}
	if err := DecodeJSON(httptest.NewRecorder(), req, 0, &dst); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
