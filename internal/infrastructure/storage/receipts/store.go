// Package receipts is a local-disk blob store for receipt files behind signed,
// expiring upload tokens.
package receipts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/xpense/internal/core/domain"
)

const defaultMaxBytes = 10 << 20

var errBadToken = errors.New("upload token is invalid or expired")

type Options struct {
	BasePath      string
	PublicBaseURL string
	Secret        []byte
	TTL           time.Duration
	MaxBytes      int64
}

type Store struct {
	basePath      string
	publicBaseURL string
	secret        []byte
	ttl           time.Duration
	maxBytes      int64
	now           func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.BasePath == "" {
		opts.BasePath = "./data/receipts"
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("receipt store: signing secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if err := os.MkdirAll(opts.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt dir: %w", err)
	}
	return &Store{
		basePath:      opts.BasePath,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		secret:        opts.Secret,
		ttl:           opts.TTL,
		maxBytes:      opts.MaxBytes,
		now:           time.Now,
	}, nil
}

// UploadTarget signs a fresh path under the claim. Every upload gets its own path so a
// replaced receipt never overwrites the one an extraction was made from.
func (s *Store) UploadTarget(_ context.Context, claimID, filename string) (domain.UploadTarget, error) {
	if strings.ContainsAny(claimID, `/\`) || claimID == "" || claimID == "." || claimID == ".." {
		return domain.UploadTarget{}, domain.Invalid("sign upload", "claim id is not path safe")
	}
	p := path.Join(claimID, uuid.NewString()[:8]+"-"+filename)
	expires := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	return domain.UploadTarget{
		URL:       s.publicBaseURL + "/v1/uploads/" + p,
		Method:    "PUT",
		Path:      p,
		Token:     s.sign(p, expires),
		ExpiresAt: expires,
	}, nil
}

func (s *Store) Put(_ context.Context, p, token string, body io.Reader) error {
	const op = "store receipt"
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := s.verify(p, token); err != nil {
		return domain.WrapError(domain.ErrForbidden, op, err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	tmp := full + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(body, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(tmp)
		return domain.WrapError(domain.ErrTemporary, op, copyErr)
	case closeErr != nil:
		_ = os.Remove(tmp)
		return domain.WrapError(domain.ErrTemporary, op, closeErr)
	case n > s.maxBytes:
		_ = os.Remove(tmp)
		return domain.Invalid(op, fmt.Sprintf("receipt exceeds %d bytes", s.maxBytes))
	case n == 0:
		_ = os.Remove(tmp)
		return domain.Invalid(op, "receipt is empty")
	}
	if err := os.Rename(tmp, full); err != nil {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return nil
}

// Acknowledge checks that the token was issued for a path under claimID and that the
// blob exists, then describes it.
func (s *Store) Acknowledge(_ context.Context, claimID, p, token string) (domain.ReceiptRef, error) {
	const op = "acknowledge receipt"
	full, err := s.resolve(p)
	if err != nil {
		return domain.ReceiptRef{}, err
	}
	if !strings.HasPrefix(p, claimID+"/") {
		return domain.ReceiptRef{}, domain.Denied(op, "receipt path belongs to another claim")
	}
	if err := s.verify(p, token); err != nil {
		return domain.ReceiptRef{}, domain.WrapError(domain.ErrForbidden, op, err)
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ReceiptRef{}, domain.Invalid(op, "receipt has not been uploaded")
	}
	if err != nil {
		return domain.ReceiptRef{}, domain.WrapError(domain.ErrTemporary, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.ReceiptRef{}, domain.WrapError(domain.ErrTemporary, op, err)
	}
	ref, err := inspect(f, info.Size())
	if err != nil {
		return domain.ReceiptRef{}, err
	}
	ref.Path = p
	return ref, nil
}

// Open returns the stored receipt for reading.
func (s *Store) Open(_ context.Context, p string) (io.ReadCloser, error) {
	const op = "open receipt"
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("path=%s", p))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, op, err)
	}
	return f, nil
}

func (s *Store) resolve(p string) (string, error) {
	clean := path.Clean(p)
	if p == "" || clean != p || path.IsAbs(p) || strings.HasPrefix(clean, "..") || strings.Count(clean, "/") != 1 {
		return "", domain.Invalid("resolve receipt path", "receipt path is malformed")
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

func (s *Store) sign(p string, expires time.Time) string {
	exp := strconv.FormatInt(expires.Unix(), 10)
	return base64.RawURLEncoding.EncodeToString(s.mac(p, exp)) + "." + exp
}

func (s *Store) verify(p, token string) error {
	sig, exp, ok := strings.Cut(token, ".")
	if !ok {
		return errBadToken
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return errBadToken
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, s.mac(p, exp)) {
		return errBadToken
	}
	if s.now().After(time.Unix(unix, 0)) {
		return errBadToken
	}
	return nil
}

func (s *Store) mac(p, exp string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(p))
	h.Write([]byte{'\n'})
	h.Write([]byte(exp))
	return h.Sum(nil)
}
