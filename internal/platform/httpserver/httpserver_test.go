package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/requestid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrap_RequestID(t *testing.T) {
	var seen string
	h := Wrap(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestid.FromContext(r.Context())
	}))

	cases := []struct {
		name   string
		header string
	}{
		{name: "generated", header: ""},
		{name: "preserved", header: "rid-123"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
		if tc.header != "" {
			req.Header.Set(requestid.Header, tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get(requestid.Header)
		if got == "" || got != seen {
			t.Fatalf("%s: expected response id %q to match context id %q", tc.name, got, seen)
		}
		if tc.header != "" && got != tc.header {
			t.Fatalf("%s: expected %s got %s", tc.name, tc.header, got)
		}
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	h := Wrap(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal_server_error" || body.RequestID == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestReadyzWithChecks(t *testing.T) {
	ok := ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }}
	bad := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }}

	cases := []struct {
		name   string
		checks []ReadinessCheck
		want   int
	}{
		{name: "all ok", checks: []ReadinessCheck{ok}, want: http.StatusOK},
		{name: "one failing", checks: []ReadinessCheck{ok, bad}, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		ReadyzWithChecks("dispatcher", tc.checks...)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, rec.Code)
		}
	}
}
