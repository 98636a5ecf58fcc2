package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/requestid"
)

type Identity struct {
	Subject string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// HeadersAuthenticator trusts the identity headers of requests signed with
// the shared secret.
type HeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewHeadersAuthenticator(cfg Config) (*HeadersAuthenticator, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("PIPELINE_AUTH_SECRET is required")
	}
	return &HeadersAuthenticator{Secret: cfg.Secret, MaxSkew: cfg.MaxSkew}, nil
}

func (a *HeadersAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	ts := strings.TrimSpace(r.Header.Get(HeaderAuthTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderAuthSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	if err := VerifyTimestamp(ts, now().UTC(), a.MaxSkew); err != nil {
		return Identity{}, err
	}
	if err := VerifySignature(a.Secret, ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), subject, rolesRaw, sig); err != nil {
		return Identity{}, err
	}
	return Identity{Subject: subject, Roles: parseCSV(rolesRaw)}, nil
}

// Signer adds identity and signature headers to outgoing requests. The
// request id header must already be set; it is part of the signature.
type Signer struct {
	Secret  string
	Subject string
	Roles   []string
	Now     func() time.Time
}

func (s *Signer) Sign(r *http.Request) error {
	if s == nil {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	roles := strings.Join(s.Roles, ",")
	ts := strconv.FormatInt(now().UTC().Unix(), 10)
	sig, err := ComputeSignature(s.Secret, ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), s.Subject, roles)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderSubject, s.Subject)
	r.Header.Set(HeaderRoles, roles)
	r.Header.Set(HeaderAuthTimestamp, ts)
	r.Header.Set(HeaderAuthSignature, sig)
	return nil
}
