// Package availability computes free time for employees and books
// appointments without double-booking them.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/reminders"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	repo      storage.Repository
	reminders reminders.Scheduler
	logger    *slog.Logger
}

func NewEngine(repo storage.Repository, scheduler reminders.Scheduler, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, reminders: scheduler, logger: logger}
}

// ServiceDuration returns the service length in minutes.
func (e *Engine) ServiceDuration(ctx context.Context, serviceID string) (int, error) {
	svc, err := e.service(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return svc.DurationMinutes, nil
}

func (e *Engine) service(ctx context.Context, serviceID string) (model.Service, error) {
	svc, err := e.repo.GetService(ctx, serviceID)
	if err != nil {
		return model.Service{}, fmt.Errorf("service %s: %w", serviceID, err)
	}
	if svc.DurationMinutes <= 0 {
		return model.Service{}, apperror.New(apperror.KindValidation, "service duration", "service has no duration")
	}
	return svc, nil
}

// CheckAvailability reports whether [start, end) is free for the employee.
func (e *Engine) CheckAvailability(ctx context.Context, employeeID string, start, end time.Time) (bool, error) {
	appts, err := e.repo.ListActiveAppointments(ctx, employeeID, storage.TimeRange{From: start, To: end})
	if err != nil {
		return false, fmt.Errorf("check availability: %w", err)
	}
	return !overlapsAny(start, end, appts), nil
}

// ActiveEmployee picks the employee that serves a booking. Any active
// employee qualifies; the first one returned by the repository is used.
func (e *Engine) ActiveEmployee(ctx context.Context, businessID string) (model.Employee, error) {
	employees, err := e.repo.GetActiveEmployees(ctx, businessID)
	if err != nil {
		return model.Employee{}, fmt.Errorf("active employees: %w", err)
	}
	if len(employees) == 0 {
		return model.Employee{}, apperror.New(apperror.KindNotFound, "active employee", "business has no active employees")
	}
	return employees[0], nil
}

// OpenSlots returns the free slots left today, in the business timezone,
// that start at or after now.
func (e *Engine) OpenSlots(ctx context.Context, businessID, employeeID, serviceID string, now time.Time) ([]model.TimeSlot, error) {
	b, err := e.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("open slots: %w", err)
	}
	duration, err := e.ServiceDuration(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	loc := b.Location()
	local := now.In(loc)
	hours, err := e.repo.GetWorkingHours(ctx, employeeID, int(local.Weekday()))
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open slots: %w", err)
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	appts, err := e.repo.ListActiveAppointments(ctx, employeeID, storage.TimeRange{From: dayStart, To: dayStart.AddDate(0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("open slots: %w", err)
	}

	var out []model.TimeSlot
	for _, s := range GenerateSlots(local, &hours, duration, appts, loc) {
		if s.Available && !s.Start.Before(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

type CreateRequest struct {
	BusinessID string
	EmployeeID string
	CustomerID string
	ServiceID  string
	Start      time.Time
	Notes      string
	// Status defaults to pending.
	Status model.AppointmentStatus
}

// CreateAppointment books the request if the employee is free and schedules
// its reminder. A reminder failure never fails the booking.
func (e *Engine) CreateAppointment(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	const op = "create appointment"
	ctx, span := otel.Tracer("availability").Start(ctx, "availability.create_appointment",
		trace.WithAttributes(
			attribute.String("business.id", req.BusinessID),
			attribute.String("employee.id", req.EmployeeID),
		),
	)
	defer span.End()

	status := req.Status
	if status == "" {
		status = model.StatusPending
	}
	if !status.Active() {
		return model.Appointment{}, apperror.New(apperror.KindValidation, op, "new appointments must be pending or confirmed")
	}

	svc, err := e.service(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	end := req.Start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	free, err := e.CheckAvailability(ctx, req.EmployeeID, req.Start, end)
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, err
	}
	if !free {
		return model.Appointment{}, apperror.New(apperror.KindConflict, op, "time slot no longer available")
	}

	appt, err := e.repo.InsertAppointment(ctx, model.Appointment{
		BusinessID: req.BusinessID,
		EmployeeID: req.EmployeeID,
		CustomerID: req.CustomerID,
		ServiceID:  req.ServiceID,
		StartTime:  req.Start,
		EndTime:    end,
		Status:     status,
		Notes:      req.Notes,
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, fmt.Errorf("%s: %w", op, err)
	}

	e.scheduleReminder(ctx, appt, svc.Name)
	return appt, nil
}

func (e *Engine) scheduleReminder(ctx context.Context, appt model.Appointment, serviceName string) {
	if e.reminders == nil {
		return
	}
	b, err := e.repo.GetBusiness(ctx, appt.BusinessID)
	if err != nil {
		e.logger.Warn("reminder not scheduled", "err", err, "appointment_id", appt.ID)
		return
	}
	customer, err := e.repo.GetCustomer(ctx, appt.CustomerID)
	if err != nil {
		e.logger.Warn("reminder not scheduled", "err", err, "appointment_id", appt.ID)
		return
	}
	err = e.reminders.Schedule(ctx, reminders.Job{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		Recipient:     customer.Phone,
		Message:       reminders.Text(b, serviceName, appt.StartTime),
		FireAt:        reminders.FireTime(appt.StartTime),
	})
	if err != nil {
		e.logger.Warn("reminder not scheduled", "err", err, "appointment_id", appt.ID)
	}
}

// UpdateAppointmentStatus persists status. Cancelling or completing an
// appointment also drops its pending reminder.
func (e *Engine) UpdateAppointmentStatus(ctx context.Context, id, businessID string, status model.AppointmentStatus) (model.Appointment, error) {
	if !status.Valid() {
		return model.Appointment{}, apperror.New(apperror.KindValidation, "update appointment status", fmt.Sprintf("unknown status %q", status))
	}
	appt, err := e.repo.UpdateAppointmentStatus(ctx, id, businessID, status)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("update appointment %s: %w", id, err)
	}

	if (status == model.StatusCancelled || status == model.StatusCompleted) && e.reminders != nil {
		if err := e.reminders.Cancel(ctx, id); err != nil {
			e.logger.Warn("reminder not cancelled", "err", err, "appointment_id", id)
		}
	}
	return appt, nil
}

// AppointmentsByBusiness lists appointments by ascending start time. Nil
// bounds are open.
func (e *Engine) AppointmentsByBusiness(ctx context.Context, businessID string, from, to *time.Time) ([]model.Appointment, error) {
	var tr storage.TimeRange
	if from != nil {
		tr.From = *from
	}
	if to != nil {
		tr.To = *to
	}
	appts, err := e.repo.ListAppointmentsByBusiness(ctx, businessID, tr)
	if err != nil {
		return nil, fmt.Errorf("appointments by business: %w", err)
	}
	return appts, nil
}
