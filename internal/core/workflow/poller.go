package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/xpense/internal/core/domain"
)

// ClaimReader is the read side a PollingWatcher needs.
type ClaimReader interface {
	GetClaim(ctx context.Context, id string) (*domain.Claim, error)
}

// PollingWatcher re-reads the claim at a fixed interval until an extraction shows up.
// Temporary read failures count as attempts; other errors stop the wait.
type PollingWatcher struct {
	reader      ClaimReader
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewPollingWatcher(reader ClaimReader, interval time.Duration, maxAttempts int, logger *slog.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		reader:      reader,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (w *PollingWatcher) Wait(ctx context.Context, claimID string) (*domain.Claim, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		claim, err := w.reader.GetClaim(ctx, claimID)
		switch {
		case err == nil && claim.Extraction != nil:
			w.logger.Info("extraction_poll", "claim_id", claimID, "attempt", attempt, "outcome", extractionOutcome(claim.Extraction))
			return claim, nil
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && !domain.IsKind(err, domain.ErrTemporary):
			return nil, fmt.Errorf("poll claim %s: %w", claimID, err)
		case err != nil:
			w.logger.Warn("extraction_poll", "claim_id", claimID, "attempt", attempt, "error", err)
		default:
			w.logger.Debug("extraction_poll", "claim_id", claimID, "attempt", attempt, "outcome", "pending")
		}

		if attempt >= w.maxAttempts {
			return nil, ErrExtractionTimedOut
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func extractionOutcome(ext *domain.Extraction) string {
	if ext.Failed() {
		return "failed"
	}
	return "succeeded"
}
