package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/capping"
	"github.com/kirillkom/xpense/internal/core/usecase"
	"github.com/kirillkom/xpense/internal/infrastructure/auth"
	"github.com/kirillkom/xpense/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/xpense/internal/infrastructure/extraction"
	"github.com/kirillkom/xpense/internal/infrastructure/queue/nats"
	"github.com/kirillkom/xpense/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
	"github.com/kirillkom/xpense/internal/infrastructure/storage/receipts"
)

type App struct {
	Config config.Config
	Policy config.Policy

	Bus      *nats.Bus
	Identity *auth.Signer

	ClaimsUC      *usecase.ClaimUseCase
	ReceiptsUC    *usecase.ReceiptUseCase
	ReportsUC     *usecase.ReportUseCase
	ActorsUC      *usecase.ActorUseCase
	ExtractionsUC *usecase.ExtractionUseCase
	DirectoryUC   *usecase.DirectoryUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("SIGNING_SECRET is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(ResilienceConfig(cfg), logger)

	store, err := receipts.New(receipts.Options{
		BasePath:      cfg.StoragePath,
		PublicBaseURL: cfg.PublicBaseURL,
		Secret:        []byte(cfg.SigningSecret),
		TTL:           cfg.UploadURLTTL,
		MaxBytes:      cfg.MaxReceiptBytes,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init receipt store: %w", err)
	}

	validator, err := extraction.NewValidator()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init extraction validator: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, nats.Options{
		ReceiptSubject:     cfg.NATSReceiptSubject,
		ExtractionSubject:  cfg.NATSExtractionSubject,
		QueueGroup:         cfg.NATSQueueGroup,
		Decoder:            validator,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message bus: %w", err)
	}

	repo := postgres.NewClaimRepository(db)
	directory := postgres.NewDirectory(db)
	caps := capping.NewEvaluator(policy.Caps, postgres.NewCapLedger(db, executor))

	return &App{
		Config:   cfg,
		Policy:   policy,
		Bus:      bus,
		Identity: auth.NewSigner(cfg.SigningSecret),

		ClaimsUC:      usecase.NewClaimUseCase(repo, directory, caps, policy.Reconcile),
		ReceiptsUC:    usecase.NewReceiptUseCase(repo, store, bus),
		ReportsUC:     usecase.NewReportUseCase(repo, xlsx.NewWriter(), caps),
		ActorsUC:      usecase.NewActorUseCase(postgres.NewPermissionStore(db)),
		ExtractionsUC: usecase.NewExtractionUseCase(repo, policy.Reconcile),
		DirectoryUC:   usecase.NewDirectoryUseCase(directory),

		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

// ResilienceConfig maps the RESILIENCE_* settings onto the executor config.
func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:    cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff: cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:     cfg.ResilienceRetryMaxBackoff,
		RetryMultiplier:     2.0,

		BreakerEnabled:      cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:  uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio: cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:  cfg.ResilienceBreakerOpenTimeout,
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
