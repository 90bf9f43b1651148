package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"picprompter/internal/auth"
	"picprompter/internal/kvcache"
)

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	var seen string
	h := RequestID(base)(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id = %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}
	line := buf.String()
	for _, want := range []string{`"request_id":"abc-123"`, `"status":201`, `"path":"/v1/sessions"`, `"bytes":2`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("generated request id missing")
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin: status %d allow %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestAuthenticate(t *testing.T) {
	signer, err := auth.NewSigner("secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}
	provider := auth.NewMockProvider(kvcache.NewMemory(), signer)
	session, err := provider.Login(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	var userID, token string
	h := Authenticate(auth.NewGate(provider))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		userID, token = user.ID, auth.TokenFromContext(r.Context())
	}))

	cases := []struct {
		name      string
		header    string
		wantUser  string
		wantToken string
	}{
		{"valid", "Bearer " + session.Token, session.User.ID, session.Token},
		{"lowercase scheme", "bearer " + session.Token, session.User.ID, session.Token},
		{"invalid token", "Bearer nope", "", "nope"},
		{"missing", "", "", ""},
		{"basic", "Basic abc", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			userID, token = "x", "x"
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if userID != tc.wantUser || token != tc.wantToken {
				t.Fatalf("user=%q token=%q, want %q %q", userID, token, tc.wantUser, tc.wantToken)
			}
		})
	}
}
