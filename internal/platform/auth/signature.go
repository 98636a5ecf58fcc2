package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSubject = "X-Pipeline-Subject"
	HeaderRoles   = "X-Pipeline-Roles"

	HeaderAuthTimestamp = "X-Pipeline-Auth-Ts"
	HeaderAuthSignature = "X-Pipeline-Auth-Sig"
)

func ComputeSignature(secret string, ts string, method string, path string, requestID string, subject string, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	msg := canonical(ts, method, path, requestID, subject, roles)
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifySignature(secret string, ts string, method string, path string, requestID string, subject string, roles string, signature string) error {
	expected, err := ComputeSignature(secret, ts, method, path, requestID, subject, roles)
	if err != nil {
		return err
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("signature is required")
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}

// VerifyTimestamp rejects unix timestamps further than maxSkew from now.
// A zero maxSkew accepts any well-formed timestamp.
func VerifyTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return errors.New("timestamp is required")
	}
	parsed, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}

	tsTime := time.Unix(parsed, 0).UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if tsTime.After(now.Add(maxSkew)) || tsTime.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}

func canonical(ts string, method string, path string, requestID string, subject string, roles string) string {
	parts := []string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(roles),
	}
	return strings.Join(parts, "\n")
}
