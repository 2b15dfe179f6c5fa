package reminders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/turnobot/libs/db"
	otelx "github.com/md-rashed-zaman/turnobot/libs/otel"
)

// PostgresScheduler stores jobs in reminder_jobs, unique per appointment.
type PostgresScheduler struct {
	pool        *db.Pool
	now         func() time.Time
	maxAttempts int
}

var (
	_ Scheduler = (*PostgresScheduler)(nil)
	_ Enqueuer  = (*PostgresScheduler)(nil)
)

func NewPostgresScheduler(pool *db.Pool, maxAttempts int) *PostgresScheduler {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &PostgresScheduler{pool: pool, now: time.Now, maxAttempts: maxAttempts}
}

func (s *PostgresScheduler) Schedule(ctx context.Context, job Job) error {
	if job.FireAt.Before(s.now()) {
		return nil
	}
	tc := otelx.Capture(ctx)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminder_jobs (appointment_id, business_id, recipient, message, fire_at, next_run_at, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
		ON CONFLICT (appointment_id) DO UPDATE
		SET business_id = EXCLUDED.business_id,
		    recipient = EXCLUDED.recipient,
		    message = EXCLUDED.message,
		    fire_at = EXCLUDED.fire_at,
		    next_run_at = EXCLUDED.next_run_at,
		    status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    traceparent = EXCLUDED.traceparent,
		    tracestate = EXCLUDED.tracestate,
		    updated_at = now()
	`, job.AppointmentID, job.BusinessID, job.Recipient, job.Message, job.FireAt, s.maxAttempts, tc.Traceparent, tc.Tracestate)
	return err
}

func (s *PostgresScheduler) Enqueue(ctx context.Context, job Job) error {
	tc := otelx.Capture(ctx)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminder_jobs (appointment_id, business_id, recipient, message, fire_at, next_run_at, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
		ON CONFLICT (appointment_id) DO NOTHING
	`, job.AppointmentID, job.BusinessID, job.Recipient, job.Message, job.FireAt, s.maxAttempts, tc.Traceparent, tc.Tracestate)
	return err
}

func (s *PostgresScheduler) Cancel(ctx context.Context, appointmentID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM reminder_jobs
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	return err
}

type dueJob struct {
	ID          int64
	Job         Job
	Attempts    int
	MaxAttempts int
	Trace       otelx.TraceContext
}

func (s *PostgresScheduler) fetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]dueJob, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, business_id::text, recipient, message, fire_at, attempts, max_attempts, traceparent, tracestate
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []dueJob
	for rows.Next() {
		var j dueJob
		if err := rows.Scan(&j.ID, &j.Job.AppointmentID, &j.Job.BusinessID, &j.Job.Recipient, &j.Job.Message, &j.Job.FireAt, &j.Attempts, &j.MaxAttempts, &j.Trace.Traceparent, &j.Trace.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresScheduler) markProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (s *PostgresScheduler) markFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
