// Package reminders schedules the day-before reminder for each appointment
// and delivers due reminders.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// Lead is how long before an appointment its reminder fires.
const Lead = 24 * time.Hour

// Job is one pending reminder. AppointmentID is the idempotency key.
type Job struct {
	AppointmentID string
	BusinessID    string
	Recipient     string
	Message       string
	FireAt        time.Time
}

// Scheduler keeps at most one pending job per appointment. Schedule replaces
// an existing job and is a no-op when FireAt is already in the past. Cancel
// is a no-op when nothing is pending.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, appointmentID string) error
}

// Enqueuer adds a job regardless of FireAt and leaves an existing job for the
// same appointment untouched.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

func FireTime(start time.Time) time.Time {
	return start.Add(-Lead)
}

// Text renders the reminder in the business timezone.
func Text(b model.Business, serviceName string, start time.Time) string {
	local := start.In(b.Location())
	if serviceName == "" {
		return fmt.Sprintf("Recordatorio: tenés un turno en %s el %s a las %s.",
			b.Name, local.Format("02/01"), local.Format("15:04"))
	}
	return fmt.Sprintf("Recordatorio: tenés un turno de %s en %s el %s a las %s.",
		serviceName, b.Name, local.Format("02/01"), local.Format("15:04"))
}
