package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// OutboxWorker drains the notification outbox: email and SMS rows go to their
// delivery adapters, everything else goes to the event broker. Rows that keep
// failing past the retry budget are dead-lettered so one bad address cannot
// wedge the queue.
type OutboxWorker struct {
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	mailer     ports.Mailer
	sms        ports.SMSSender
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
}

type OutboxWorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

func NewOutboxWorker(
	outbox ports.OutboxRepository,
	publisher ports.EventPublisher,
	mailer ports.Mailer,
	sms ports.SMSSender,
	logger *slog.Logger,
	cfg OutboxWorkerConfig,
) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	return &OutboxWorker{
		outbox:     outbox,
		publisher:  publisher,
		mailer:     mailer,
		sms:        sms,
		logger:     logger.With(slog.String("module", "outbox_worker")),
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		claimTTL:   cfg.ClaimTTL,
		maxRetries: cfg.MaxRetries,
	}
}

// Run drains batches until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.InfoContext(ctx, "outbox worker started",
		slog.Duration("interval", w.interval),
		slog.Int("batch_size", w.batchSize),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// DrainOnce claims one batch and dispatches every row in it.
func (w *OutboxWorker) DrainOnce(ctx context.Context) error {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claimToken, time.Now().UTC().Add(w.claimTTL))
	if err != nil {
		return fmt.Errorf("claim outbox batch: %w", err)
	}
	for _, record := range records {
		w.dispatch(ctx, record, claimToken)
	}
	return nil
}

func (w *OutboxWorker) dispatch(ctx context.Context, record ports.OutboxRecord, claimToken string) {
	logger := w.logger.With(
		slog.String("outbox_id", record.OutboxID.String()),
		slog.String("event_type", record.EventType),
		slog.Int("retry_count", record.RetryCount),
	)
	err := w.deliver(ctx, record)
	now := time.Now().UTC()
	if err == nil {
		if markErr := w.outbox.MarkPublished(ctx, record.OutboxID, claimToken, now); markErr != nil {
			logger.ErrorContext(ctx, "mark published failed", slog.String("error", markErr.Error()))
			return
		}
		logger.InfoContext(ctx, "outbox row delivered", slog.String("outcome", "published"))
		return
	}
	if record.RetryCount+1 >= w.maxRetries {
		if markErr := w.outbox.MarkDeadLettered(ctx, record.OutboxID, claimToken, err.Error(), now); markErr != nil {
			logger.ErrorContext(ctx, "mark dead lettered failed", slog.String("error", markErr.Error()))
			return
		}
		logger.ErrorContext(ctx, "outbox row dead lettered",
			slog.String("outcome", "dead_lettered"),
			slog.String("error", err.Error()),
		)
		return
	}
	if markErr := w.outbox.MarkFailed(ctx, record.OutboxID, claimToken, err.Error(), now); markErr != nil {
		logger.ErrorContext(ctx, "mark failed failed", slog.String("error", markErr.Error()))
		return
	}
	logger.WarnContext(ctx, "outbox delivery failed, will retry",
		slog.String("outcome", "retry"),
		slog.String("error", err.Error()),
	)
}

func (w *OutboxWorker) deliver(ctx context.Context, record ports.OutboxRecord) error {
	switch {
	case strings.HasPrefix(record.EventType, "notify.email."):
		var payload ports.EmailPayload
		if err := json.Unmarshal(record.Payload, &payload); err != nil {
			return fmt.Errorf("decode email payload: %w", err)
		}
		return w.mailer.SendEmail(ctx, payload.To, payload.Subject, payload.HTMLBody)
	case strings.HasPrefix(record.EventType, "notify.sms."):
		var payload ports.SMSPayload
		if err := json.Unmarshal(record.Payload, &payload); err != nil {
			return fmt.Errorf("decode sms payload: %w", err)
		}
		return w.sms.SendSMS(ctx, payload.To, payload.Body)
	default:
		return w.publisher.Publish(ctx, record.EventType, record.PartitionKey, record.Payload)
	}
}
