package receipts

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
)

var pngHeader = "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 64)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{
		BasePath:      t.TempDir(),
		PublicBaseURL: "https://xpense.test/",
		Secret:        []byte("test-secret"),
		TTL:           time.Minute,
		MaxBytes:      1024,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestUploadAndAcknowledgeRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	target, err := s.UploadTarget(ctx, "c-1", "receipt.png")
	if err != nil {
		t.Fatalf("UploadTarget() error = %v", err)
	}
	if !strings.HasPrefix(target.Path, "c-1/") || !strings.HasSuffix(target.Path, "-receipt.png") {
		t.Fatalf("unexpected path %q", target.Path)
	}
	if target.URL != "https://xpense.test/v1/uploads/"+target.Path || target.Method != "PUT" {
		t.Fatalf("unexpected target %+v", target)
	}

	if err := s.Put(ctx, target.Path, target.Token, strings.NewReader(pngHeader)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	ref, err := s.Acknowledge(ctx, "c-1", target.Path, target.Token)
	if err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if ref.Path != target.Path || ref.ContentType != "image/png" || ref.SizeBytes != int64(len(pngHeader)) {
		t.Fatalf("unexpected ref %+v", ref)
	}
}

func TestPutRejectsTamperedOrExpiredToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "r.png")

	other, _ := s.UploadTarget(ctx, "c-2", "r.png")
	if err := s.Put(ctx, target.Path, other.Token, strings.NewReader(pngHeader)); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign token, got %v", err)
	}
	if err := s.Put(ctx, target.Path, "garbage", strings.NewReader(pngHeader)); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for garbage token, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := s.Put(ctx, target.Path, target.Token, strings.NewReader(pngHeader)); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for expired token, got %v", err)
	}
}

func TestAcknowledgeRejectsOtherClaimsPath(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "r.png")
	_ = s.Put(ctx, target.Path, target.Token, strings.NewReader(pngHeader))

	if _, err := s.Acknowledge(ctx, "c-2", target.Path, target.Token); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAcknowledgeBeforeUploadIsInvalid(t *testing.T) {
	s := newStore(t)
	target, _ := s.UploadTarget(context.Background(), "c-1", "r.png")

	_, err := s.Acknowledge(context.Background(), "c-1", target.Path, target.Token)
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "has not been uploaded") {
		t.Fatalf("expected not uploaded error, got %v", err)
	}
}

func TestPutRejectsOversizedAndEmptyBodies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "r.png")

	if err := s.Put(ctx, target.Path, target.Token, strings.NewReader(strings.Repeat("x", 2048))); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected size error, got %v", err)
	}
	if err := s.Put(ctx, target.Path, target.Token, strings.NewReader("")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestAcknowledgeRejectsUnsupportedContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "notes.txt")
	_ = s.Put(ctx, target.Path, target.Token, strings.NewReader("plain text receipt"))

	if _, err := s.Acknowledge(ctx, "c-1", target.Path, target.Token); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unsupported content error, got %v", err)
	}
}

func TestAcknowledgeRejectsUnreadablePDF(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "r.pdf")
	_ = s.Put(ctx, target.Path, target.Token, strings.NewReader("%PDF-1.4\nnot really a pdf"))

	_, err := s.Acknowledge(ctx, "c-1", target.Path, target.Token)
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "PDF") {
		t.Fatalf("expected unreadable PDF error, got %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newStore(t)
	for _, p := range []string{"../etc/passwd", "/abs/x", "c-1/../../x", "c-1/a/b", "", "c-1"} {
		if _, err := s.resolve(p); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected %q to be rejected, got %v", p, err)
		}
	}
	if _, err := s.UploadTarget(context.Background(), "../x", "r.png"); err == nil {
		t.Fatalf("expected unsafe claim id to be rejected")
	}
}

func TestOpenReturnsStoredBytes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	target, _ := s.UploadTarget(ctx, "c-1", "r.png")
	if err := s.Put(ctx, target.Path, target.Token, strings.NewReader(pngHeader)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	body, err := s.Open(ctx, target.Path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if string(raw) != pngHeader {
		t.Fatalf("unexpected receipt bytes %q", raw)
	}
}

func TestOpenMissingReceiptIsNotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.Open(context.Background(), "c-1/gone.png"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Open(context.Background(), "../etc/passwd"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid path, got %v", err)
	}
}
