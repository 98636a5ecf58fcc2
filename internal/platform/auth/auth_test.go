package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/requestid"
)

func TestSignature_Verify(t *testing.T) {
	secret := "test-secret"
	ts := "1700000000"
	sig, err := ComputeSignature(secret, ts, "POST", "/v1/jobs/j1/status", "rid-1", "worker-a", "worker")
	if err != nil {
		t.Fatalf("ComputeSignature() err=%v", err)
	}
	if err := VerifySignature(secret, ts, "POST", "/v1/jobs/j1/status", "rid-1", "worker-a", "worker", sig); err != nil {
		t.Fatalf("VerifySignature() err=%v", err)
	}
	if err := VerifySignature(secret, ts, "POST", "/v1/jobs/j2/status", "rid-1", "worker-a", "worker", sig); err == nil {
		t.Fatalf("expected verification to fail when path changes")
	}
	if err := VerifySignature(secret, ts, "POST", "/v1/jobs/j1/status", "rid-1", "worker-a", "admin", sig); err == nil {
		t.Fatalf("expected verification to fail when roles change")
	}
}

func TestVerifyTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	if err := VerifyTimestamp("1700000000", now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyTimestamp() err=%v", err)
	}
	if err := VerifyTimestamp("1690000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected stale timestamp to be rejected")
	}
	if err := VerifyTimestamp("soon", now, 0); err == nil {
		t.Fatalf("expected malformed timestamp to be rejected")
	}
}

func TestSignerAndAuthenticator(t *testing.T) {
	cfg := Config{Mode: ModeHMAC, Secret: "s3cret", MaxSkew: time.Minute}
	authn, err := NewHeadersAuthenticator(cfg)
	if err != nil {
		t.Fatalf("NewHeadersAuthenticator() err=%v", err)
	}
	signer := &Signer{Secret: cfg.Secret, Subject: "worker-a", Roles: []string{"Worker"}}

	req := httptest.NewRequest(http.MethodPost, "http://dispatcher.test/v1/jobs/j1/status", nil)
	req.Header.Set(requestid.Header, "rid-2")
	if err := signer.Sign(req); err != nil {
		t.Fatalf("Sign() err=%v", err)
	}
	identity, err := authn.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "worker-a" || len(identity.Roles) != 1 || identity.Roles[0] != RoleWorker {
		t.Fatalf("unexpected identity %+v", identity)
	}

	req.Header.Set(requestid.Header, "rid-3")
	if _, err := authn.Authenticate(req); err == nil {
		t.Fatalf("expected failure when request id changes")
	}

	unsigned := httptest.NewRequest(http.MethodGet, "http://dispatcher.test/v1/jobs/j1", nil)
	if _, err := authn.Authenticate(unsigned); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestHasAtLeast(t *testing.T) {
	if !HasAtLeast([]string{"viewer"}, RoleViewer) {
		t.Fatalf("viewer should satisfy viewer")
	}
	if HasAtLeast([]string{"viewer"}, RoleWorker) {
		t.Fatalf("viewer should not satisfy worker")
	}
	if HasAtLeast([]string{"worker"}, RoleAdmin) {
		t.Fatalf("worker should not satisfy admin")
	}
	if !HasAtLeast([]string{"admin"}, RoleWorker) {
		t.Fatalf("admin should satisfy worker")
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/v1/pipeline-executions/p1", RoleViewer},
		{http.MethodPost, "/v1/jobs/j1/status", RoleWorker},
		{http.MethodPost, "/v1/pipelines/runs", RoleAdmin},
		{http.MethodPost, "/v1/pipeline-executions/p1/cancel", RoleAdmin},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://dispatcher.test"+tc.path, nil)
		if got := RequiredRoleForRequest(req); got != tc.want {
			t.Fatalf("RequiredRoleForRequest(%s %s)=%q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	cfg := Config{Mode: ModeHMAC, Secret: "s3cret", MaxSkew: time.Minute}
	authn, err := NewHeadersAuthenticator(cfg)
	if err != nil {
		t.Fatalf("NewHeadersAuthenticator() err=%v", err)
	}
	var denied []DenyEvent
	mw := Middleware{
		Authenticator: authn,
		Authorize:     RoleAuthorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			denied = append(denied, event)
			return nil
		},
		SkipPrefixes: []string{"/healthz"},
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Errorf("identity missing from context")
		}
		w.Header().Set("X-Subject", identity.Subject)
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(method, path string, signer *Signer) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "http://dispatcher.test"+path, nil)
		req.Header.Set(requestid.Header, "rid")
		if signer != nil {
			if err := signer.Sign(req); err != nil {
				t.Fatalf("Sign() err=%v", err)
			}
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	worker := &Signer{Secret: cfg.Secret, Subject: "worker-a", Roles: []string{RoleWorker}}
	if rec := send(http.MethodPost, "/v1/jobs/j1/status", worker); rec.Code != http.StatusNoContent || rec.Header().Get("X-Subject") != "worker-a" {
		t.Fatalf("worker job write: code=%d", rec.Code)
	}
	if rec := send(http.MethodPost, "/v1/pipelines/runs", worker); rec.Code != http.StatusForbidden {
		t.Fatalf("worker submit: expected 403, got %d", rec.Code)
	}
	if rec := send(http.MethodGet, "/v1/jobs/j1", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", rec.Code)
	}
	forged := &Signer{Secret: "wrong", Subject: "admin", Roles: []string{RoleAdmin}}
	rec := send(http.MethodPost, "/v1/pipelines/runs", forged)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "invalid_signature") {
		t.Fatalf("forged: expected 401 invalid_signature, got %d %s", rec.Code, rec.Body.String())
	}

	healthz := httptest.NewRecorder()
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })).
		ServeHTTP(healthz, httptest.NewRequest(http.MethodGet, "http://dispatcher.test/healthz", nil))
	if healthz.Code != http.StatusOK {
		t.Fatalf("skipped prefix: expected 200, got %d", healthz.Code)
	}

	if len(denied) != 3 {
		t.Fatalf("expected 3 audited denials, got %d", len(denied))
	}
	if denied[0].Reason != "forbidden" || denied[0].Subject != "worker-a" {
		t.Fatalf("unexpected first denial %+v", denied[0])
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PIPELINE_AUTH_MODE", "hmac")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error without secret")
	}
	t.Setenv("PIPELINE_AUTH_SECRET", "x")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !cfg.Enabled() || cfg.MaxSkew != 5*time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	t.Setenv("PIPELINE_AUTH_MODE", "oidc")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unsupported mode")
	}
}
