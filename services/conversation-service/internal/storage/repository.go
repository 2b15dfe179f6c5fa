package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// TimeRange bounds a query on appointment start time, [From, To). A zero
// bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Repository is the persistence boundary of the booking engine. Tenant data
// (businesses, employees, services, working hours) is managed elsewhere and
// only read here.
type Repository interface {
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	FindBusinessByPhonePatterns(ctx context.Context, patterns []string) (model.Business, error)

	GetService(ctx context.Context, id string) (model.Service, error)
	ListActiveServices(ctx context.Context, businessID string) ([]model.Service, error)
	GetActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error)
	GetWorkingHours(ctx context.Context, employeeID string, dayOfWeek int) (model.WorkingHours, error)

	ListActiveAppointments(ctx context.Context, employeeID string, r TimeRange) ([]model.Appointment, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id, businessID string, status model.AppointmentStatus) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointmentsByBusiness(ctx context.Context, businessID string, r TimeRange) ([]model.Appointment, error)
	ListUpcomingByCustomer(ctx context.Context, customerID string, after time.Time) ([]model.Appointment, error)
	ListDueForReminder(ctx context.Context, r TimeRange) ([]model.Appointment, error)
	MarkReminderSent(ctx context.Context, appointmentID string) error

	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	FindCustomerByPhonePatterns(ctx context.Context, businessID string, patterns []string) (model.Customer, error)
	InsertCustomer(ctx context.Context, c model.Customer) (model.Customer, error)
}

func IsNotFound(err error) bool {
	return apperror.Is(err, apperror.KindNotFound)
}

func IsConflict(err error) bool {
	return apperror.Is(err, apperror.KindConflict)
}

func notFound(op string) error {
	return apperror.New(apperror.KindNotFound, op, "record not found")
}
