package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

// Decoder turns a raw extraction message into an event, rejecting malformed payloads.
type Decoder interface {
	Decode(raw []byte) (domain.ExtractionEvent, error)
}

// Bus publishes receipt-analysis requests and consumes analysis results.
type Bus struct {
	conn              *nats.Conn
	receiptSubject    string
	extractionSubject string
	queueGroup        string
	decoder           Decoder
	executor          *resilience.Executor
	logger            *slog.Logger
}

type Options struct {
	ReceiptSubject       string
	ExtractionSubject    string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Decoder              Decoder
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("xpense"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newBus(conn, options, logger), nil
}

func newBus(conn *nats.Conn, options Options, logger *slog.Logger) *Bus {
	b := &Bus{
		conn:              conn,
		receiptSubject:    options.ReceiptSubject,
		extractionSubject: options.ExtractionSubject,
		queueGroup:        options.QueueGroup,
		decoder:           options.Decoder,
		executor:          options.ResilienceExecutor,
		logger:            logger,
	}
	if b.receiptSubject == "" {
		b.receiptSubject = "xpense.receipts.acknowledged"
	}
	if b.extractionSubject == "" {
		b.extractionSubject = "xpense.extractions.completed"
	}
	if b.queueGroup == "" {
		b.queueGroup = "extraction-workers"
	}
	return b
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishReceiptAcknowledged asks the analysis service to process an attached receipt.
func (b *Bus) PublishReceiptAcknowledged(ctx context.Context, event domain.ReceiptAcknowledged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal receipt event: %w", err)
	}

	call := func(context.Context) error {
		if err := b.conn.Publish(b.receiptSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// SubscribeExtractions delivers decoded analysis results to handler until ctx is done,
// then drains the subscription. Malformed payloads are logged and dropped. Handler errors
// marked domain.ErrTemporary are retried through the resilience executor.
func (b *Bus) SubscribeExtractions(ctx context.Context, handler func(context.Context, domain.ExtractionEvent) error) error {
	if b.decoder == nil {
		return errors.New("nats: extraction decoder is not configured")
	}
	sub, err := b.conn.QueueSubscribe(b.extractionSubject, b.queueGroup, func(msg *nats.Msg) {
		b.dispatch(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.ExtractionEvent) error) {
	if ctx.Err() != nil {
		return
	}
	event, err := b.decoder.Decode(data)
	if err != nil {
		b.logger.Warn("extraction_event_rejected", "error", err, "bytes", len(data))
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	call := func(ctx context.Context) error {
		return handler(ctx, event)
	}
	// Core NATS does not redeliver, so temporary failures are retried here before the
	// event is dropped.
	if b.executor != nil {
		err = b.executor.Execute(handlerCtx, "nats.handle_extraction", call, classifyHandlerError)
	} else {
		err = call(handlerCtx)
	}
	if err != nil {
		b.logger.Error("extraction_event_dropped", "claim_id", event.ClaimID, "receipt_path", event.ReceiptPath, "error", err)
	}
}

// classifyHandlerError retries temporary failures. Handler failures never trip the breaker.
func classifyHandlerError(err error) resilience.ErrorClassification {
	c := resilience.ClassifyDomain(err)
	c.RecordFailure = false
	return c
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionReconnecting) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
