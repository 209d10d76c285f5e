package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callgate/internal/config"
)

func TestMapDialStatus(t *testing.T) {
	cases := map[string]string{
		"ANSWERED":    "answered",
		"answered":    "answered",
		"BUSY":        "busy",
		"NOANSWER":    "no-answer",
		"CANCEL":      "no-answer",
		"CONGESTION":  "failed",
		"CHANUNAVAIL": "failed",
		"FAILED":      "failed",
	}
	for in, want := range cases {
		if got := mapDialStatus(in); got != want {
			t.Errorf("mapDialStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTimePtr(t *testing.T) {
	if parseTimePtr("") != nil {
		t.Fatal("empty string must parse to nil")
	}
	if parseTimePtr("2026-09-01T12:00:00Z") == nil {
		t.Fatal("RFC3339 must parse")
	}
	if parseTimePtr("2026-09-01 12:00:00") == nil {
		t.Fatal("MySQL datetime must parse")
	}
	if parseTimePtr("garbage") != nil {
		t.Fatal("garbage must parse to nil")
	}
}

func TestInternalAuthRejectsBadToken(t *testing.T) {
	s := &Server{cfg: config.APIConfig{InternalToken: "secret"}}
	called := false
	handler := s.internalAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/route_info", nil)
	req.Header.Set("X-Internal-Token", "wrong")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if called {
		t.Fatal("handler must not run with a bad token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInternalAuthRejectsWhenUnconfigured(t *testing.T) {
	s := &Server{cfg: config.APIConfig{}}
	handler := s.internalAuth(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/route_info", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	// Sin token configurado los endpoints internos quedan cerrados.
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInternalAuthAcceptsGoodToken(t *testing.T) {
	s := &Server{cfg: config.APIConfig{InternalToken: "secret"}}
	called := false
	handler := s.internalAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/route_info", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("handler must run with the right token (called=%v, status=%d)", called, rec.Code)
	}
}
