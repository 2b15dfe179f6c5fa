package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
)

// Scanner catches appointments that are due within Lead but have no job, for
// example ones booked less than a day ahead. Each qualifying appointment gets
// one immediate job.
type Scanner struct {
	repo     storage.Repository
	queue    Enqueuer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

func NewScanner(repo storage.Repository, queue Enqueuer, logger *slog.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scanner{repo: repo, queue: queue, logger: logger, interval: interval, now: time.Now}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Scan(ctx); err != nil {
			s.logger.Error("reminder scan failed", "err", err)
		} else if n > 0 {
			s.logger.Info("reminder scan enqueued jobs", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan enqueues a job for every active appointment starting within Lead that
// has not been reminded. It returns how many appointments qualified.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.ListDueForReminder(ctx, storage.TimeRange{From: now, To: now.Add(Lead)})
	if err != nil {
		return 0, err
	}

	businesses := map[string]model.Business{}
	count := 0
	for _, appt := range due {
		job, err := s.jobFor(ctx, appt, businesses)
		if err != nil {
			s.logger.Warn("reminder scan skipped appointment", "err", err, "appointment_id", appt.ID)
			continue
		}
		job.FireAt = now
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Scanner) jobFor(ctx context.Context, appt model.Appointment, cache map[string]model.Business) (Job, error) {
	b, ok := cache[appt.BusinessID]
	if !ok {
		var err error
		b, err = s.repo.GetBusiness(ctx, appt.BusinessID)
		if err != nil {
			return Job{}, err
		}
		cache[appt.BusinessID] = b
	}
	customer, err := s.repo.GetCustomer(ctx, appt.CustomerID)
	if err != nil {
		return Job{}, err
	}
	var serviceName string
	if svc, err := s.repo.GetService(ctx, appt.ServiceID); err == nil {
		serviceName = svc.Name
	}
	return Job{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		Recipient:     customer.Phone,
		Message:       Text(b, serviceName, appt.StartTime),
	}, nil
}
