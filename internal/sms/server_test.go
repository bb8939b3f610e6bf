package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/fixer-ai/fixer/internal/diagnose"
	diagmock "github.com/fixer-ai/fixer/internal/diagnose/mock"
	"github.com/fixer-ai/fixer/internal/history"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func testServer(t *testing.T, diag diagnose.Diagnoser, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(diag, history.NewMemStore(), opts...)
}

func postSMS(t *testing.T, s *Server, from, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// signForm computes the X-Twilio-Signature value for a form posted to url.
func signForm(token, fullURL string, form url.Values) string {
	data := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := testServer(t, &diagmock.Diagnoser{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSMS_Diagnosis(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{
			Cause:  "The router overheated.",
			Steps:  []string{"Unplug the router", "Wait five minutes"},
			Script: "#!/bin/sh\necho hi",
		},
	}
	s := testServer(t, diag)

	rec := postSMS(t, s, "+15551234567", "my wifi keeps dropping", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Errorf("Content-Type = %q, want xml", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "DIAGNOSIS: The router overheated.") {
		t.Errorf("body = %q, want diagnosis line", body)
	}
	if !strings.Contains(body, "1. Unplug the router") {
		t.Errorf("body = %q, want numbered steps", body)
	}
	if !strings.Contains(body, "too long for SMS") {
		t.Errorf("body = %q, want script notice", body)
	}

	if len(diag.TextCalls) != 1 {
		t.Fatalf("ProcessText calls = %d, want 1", len(diag.TextCalls))
	}
	if diag.TextCalls[0].Problem != "my wifi keeps dropping" {
		t.Errorf("first question should have no context prefix: %q", diag.TextCalls[0].Problem)
	}
}

func TestSMS_HistoryContextOnSecondMessage(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{Cause: "Driver issue.", Steps: []string{"Update it"}},
	}
	s := testServer(t, diag)

	postSMS(t, s, "+15550001111", "printer offline", nil)
	postSMS(t, s, "+15550001111", "still offline", nil)

	if len(diag.TextCalls) != 2 {
		t.Fatalf("ProcessText calls = %d, want 2", len(diag.TextCalls))
	}
	second := diag.TextCalls[1].Problem
	if !strings.Contains(second, "Context:") {
		t.Errorf("second question missing context: %q", second)
	}
	if !strings.Contains(second, "user: printer offline") {
		t.Errorf("context missing prior user message: %q", second)
	}
	if !strings.Contains(second, "assistant: Driver issue. Update it") {
		t.Errorf("context missing prior assistant summary: %q", second)
	}
	if !strings.Contains(second, "Current question: still offline") {
		t.Errorf("second question missing current question: %q", second)
	}
}

func TestSMS_HelpCommand(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{}
	s := testServer(t, diag)

	for _, cmd := range []string{"help", "HELP", " commands "} {
		rec := postSMS(t, s, "+15551234567", cmd, nil)
		if !strings.Contains(rec.Body.String(), "Fixer AI Commands") {
			t.Errorf("body for %q = %q, want help text", cmd, rec.Body.String())
		}
	}
	if len(diag.TextCalls) != 0 {
		t.Errorf("help must not reach the diagnoser, got %d calls", len(diag.TextCalls))
	}
}

func TestSMS_ResetCommand(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{Cause: "X.", Steps: []string{"Y"}},
	}
	s := testServer(t, diag)

	postSMS(t, s, "+15552223333", "screen flickers", nil)
	rec := postSMS(t, s, "+15552223333", "reset", nil)
	if !strings.Contains(rec.Body.String(), "has been reset") {
		t.Errorf("body = %q, want reset confirmation", rec.Body.String())
	}

	postSMS(t, s, "+15552223333", "screen flickers again", nil)
	last := diag.TextCalls[len(diag.TextCalls)-1].Problem
	if strings.Contains(last, "Context:") {
		t.Errorf("question after reset should carry no context: %q", last)
	}
}

func TestSMS_DiagnoserErrorDegradesToApology(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{TextErr: io.ErrUnexpectedEOF}
	s := testServer(t, diag)

	rec := postSMS(t, s, "+15551234567", "anything", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so Twilio does not retry", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "an error occurred") {
		t.Errorf("body = %q, want apology", rec.Body.String())
	}
}

func TestSMS_MissingFields(t *testing.T) {
	t.Parallel()

	s := testServer(t, &diagmock.Diagnoser{})
	req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader("Body=orphan"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSMS_SignatureValidation(t *testing.T) {
	t.Parallel()

	const token = "secret-token"
	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{Cause: "ok", Steps: []string{"done"}},
	}
	s := testServer(t, diag, WithAuthToken(token))

	form := url.Values{"From": {"+15551234567"}, "Body": {"hello"}}

	// Unsigned request is rejected.
	rec := postSMS(t, s, "+15551234567", "hello", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rec.Code)
	}

	// Properly signed request passes.
	sig := signForm(token, "http://example.com/sms", form)
	rec = postSMS(t, s, "+15551234567", "hello", map[string]string{"X-Twilio-Signature": sig})
	if rec.Code != http.StatusOK {
		t.Errorf("signed status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	// Tampered signature is rejected.
	rec = postSMS(t, s, "+15551234567", "hello", map[string]string{"X-Twilio-Signature": "bogus"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered status = %d, want 401", rec.Code)
	}
}

func TestFormatReply_ParseFailurePassesRawThrough(t *testing.T) {
	t.Parallel()

	got := FormatReply(diagnose.ParseFailure{Raw: "  try turning it off and on  "})
	if got != "try turning it off and on" {
		t.Errorf("FormatReply() = %q", got)
	}
}

func TestFormatReply_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxBodyLen+50)
	got := FormatReply(diagnose.ParseFailure{Raw: long})
	if len(got) > maxBodyLen {
		t.Errorf("len = %d, want at most %d", len(got), maxBodyLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated reply should end with ellipsis")
	}
}
