package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
)

// Signer issues and verifies bearer identity tokens of the form
// base64url(userID).expiryUnix.base64url(hmac).
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

func (s *Signer) Issue(userID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.Invalid("issue token", "user id is required")
	}
	if len(s.secret) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "issue token", errors.New("signing secret is empty"))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	subject := base64.RawURLEncoding.EncodeToString([]byte(userID))
	exp := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	return subject + "." + exp + "." + s.sign(subject, exp), nil
}

// Verify returns the user id carried by a valid, unexpired token.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || len(s.secret) == 0 {
		return "", domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("malformed token"))
	}
	subject, exp, sig := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(sig), []byte(s.sign(subject, exp))) {
		return "", domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("bad signature"))
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > expiry {
		return "", domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("token expired"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(subject)
	if err != nil || len(raw) == 0 {
		return "", domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("malformed subject"))
	}
	return string(raw), nil
}

func (s *Signer) sign(subject, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(subject + "\n" + exp))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
