package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/turnobot/libs/db"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/outbox"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventReminderFailed is written to the outbox when a job exhausts its attempts.
const EventReminderFailed = "reminder.delivery.failed.v1"

// Worker delivers due reminder_jobs rows through the message transport.
type Worker struct {
	pool      *db.Pool
	jobs      *PostgresScheduler
	repo      storage.Repository
	sender    transport.Sender
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, jobs *PostgresScheduler, repo storage.Repository, sender transport.Sender, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		jobs:      jobs,
		repo:      repo,
		sender:    sender,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	return w.pool.WithTx(ctx, func(tx pgx.Tx) error {
		due, err := w.jobs.fetchDue(ctx, tx, w.batchSize)
		if err != nil || len(due) == 0 {
			return err
		}

		var done []int64
		for _, j := range due {
			jobCtx := j.Trace.Resume(ctx)
			if err := w.deliver(jobCtx, j.Job); err != nil {
				if err := w.fail(ctx, tx, j, err); err != nil {
					return err
				}
				continue
			}
			done = append(done, j.ID)
		}
		return w.jobs.markProcessed(ctx, tx, done)
	})
}

// deliver sends one reminder unless the appointment was cancelled or already
// reminded in the meantime.
func (w *Worker) deliver(ctx context.Context, job Job) error {
	ctx, span := otel.Tracer("reminders").Start(ctx, "reminder.deliver",
		trace.WithAttributes(attribute.String("appointment.id", job.AppointmentID)),
	)
	defer span.End()

	appt, err := w.repo.GetAppointment(ctx, job.AppointmentID)
	if storage.IsNotFound(err) {
		w.logger.Warn("reminder for missing appointment dropped", "appointment_id", job.AppointmentID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !appt.Status.Active() || appt.ReminderSent {
		return nil
	}

	deliveryID, err := w.sender.Send(ctx, job.Recipient, job.Message)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("send reminder: %w", err)
	}
	if err := w.repo.MarkReminderSent(ctx, job.AppointmentID); err != nil {
		// Already delivered; a retry would send twice.
		w.logger.Error("mark reminder sent failed", "err", err, "appointment_id", job.AppointmentID)
	}
	w.logger.Info("reminder sent", "appointment_id", job.AppointmentID, "delivery_id", deliveryID, "provider", w.sender.ProviderID())
	return nil
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, j dueJob, cause error) error {
	attempts := j.Attempts + 1
	nextRunAt := time.Now().UTC().Add(w.backoff * time.Duration(attempts))
	w.logger.Warn("reminder delivery failed", "err", cause, "appointment_id", j.Job.AppointmentID, "attempts", attempts)
	if err := w.jobs.markFailed(ctx, tx, j.ID, attempts, j.MaxAttempts, nextRunAt, cause.Error()); err != nil {
		return err
	}
	if attempts < j.MaxAttempts || w.outbox == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": j.Job.AppointmentID,
		"business_id":    j.Job.BusinessID,
		"recipient":      j.Job.Recipient,
		"fire_at":        j.Job.FireAt.UTC().Format(time.RFC3339),
		"error_reason":   cause.Error(),
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	jobCtx := j.Trace.Resume(ctx)
	return w.outbox.Insert(jobCtx, tx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   j.Job.AppointmentID,
		EventType:     EventReminderFailed,
		Payload:       payload,
	})
}
