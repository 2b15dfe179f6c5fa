package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// MemoryRepository keeps everything in process. InsertAppointment rejects an
// active appointment that overlaps another active one for the same employee,
// mirroring the exclusion constraint on the appointments table.
type MemoryRepository struct {
	mu           sync.RWMutex
	now          func() time.Time
	businesses   map[string]model.Business
	services     map[string]model.Service
	employees    []model.Employee
	hours        map[hoursKey]model.WorkingHours
	customers    []model.Customer
	appointments map[string]model.Appointment
}

type hoursKey struct {
	employeeID string
	day        int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:          time.Now,
		businesses:   map[string]model.Business{},
		services:     map[string]model.Service{},
		hours:        map[hoursKey]model.WorkingHours{},
		appointments: map[string]model.Appointment{},
	}
}

func (r *MemoryRepository) AddBusiness(b model.Business) model.Business {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	r.businesses[b.ID] = b
	return b
}

func (r *MemoryRepository) AddService(s model.Service) model.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.services[s.ID] = s
	return s
}

func (r *MemoryRepository) AddEmployee(e model.Employee) model.Employee {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.employees = append(r.employees, e)
	return e
}

// SetWorkingHours replaces the record for (employee, day).
func (r *MemoryRepository) SetWorkingHours(wh model.WorkingHours) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hours[hoursKey{employeeID: wh.EmployeeID, day: wh.DayOfWeek}] = wh
}

func (r *MemoryRepository) Customers() []model.Customer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Customer(nil), r.customers...)
}

func (r *MemoryRepository) Appointments() []model.Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

func (r *MemoryRepository) GetBusiness(_ context.Context, id string) (model.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[id]
	if !ok {
		return model.Business{}, notFound("get business")
	}
	return b, nil
}

func (r *MemoryRepository) FindBusinessByPhonePatterns(_ context.Context, patterns []string) (model.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range patterns {
		for _, b := range r.businesses {
			if b.Phone == p {
				return b, nil
			}
		}
	}
	return model.Business{}, notFound("find business by phone")
}

func (r *MemoryRepository) GetService(_ context.Context, id string) (model.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return model.Service{}, notFound("get service")
	}
	return s, nil
}

func (r *MemoryRepository) ListActiveServices(_ context.Context, businessID string) ([]model.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Service
	for _, s := range r.services {
		if s.BusinessID == businessID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) GetActiveEmployees(_ context.Context, businessID string) ([]model.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Employee
	for _, e := range r.employees {
		if e.BusinessID == businessID && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetWorkingHours(_ context.Context, employeeID string, dayOfWeek int) (model.WorkingHours, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wh, ok := r.hours[hoursKey{employeeID: employeeID, day: dayOfWeek}]
	if !ok {
		return model.WorkingHours{}, notFound("get working hours")
	}
	return wh, nil
}

func (r *MemoryRepository) ListActiveAppointments(_ context.Context, employeeID string, tr TimeRange) ([]model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Appointment
	for _, a := range r.appointments {
		if a.EmployeeID != employeeID || !a.Status.Active() {
			continue
		}
		if !tr.From.IsZero() && !a.EndTime.After(tr.From) {
			continue
		}
		if !tr.To.IsZero() && !a.StartTime.Before(tr.To) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.Status.Active() {
		for _, existing := range r.appointments {
			if existing.EmployeeID == appt.EmployeeID && existing.Status.Active() && existing.Overlaps(appt.StartTime, appt.EndTime) {
				return model.Appointment{}, apperror.New(apperror.KindConflict, "insert appointment", "overlaps an active appointment")
			}
		}
	}
	appt.ID = uuid.NewString()
	appt.CreatedAt = r.now()
	r.appointments[appt.ID] = appt
	return appt, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id, businessID string, status model.AppointmentStatus) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok || appt.BusinessID != businessID {
		return model.Appointment{}, notFound("update appointment status")
	}
	if status.Active() && !appt.Status.Active() {
		for otherID, existing := range r.appointments {
			if otherID != id && existing.EmployeeID == appt.EmployeeID && existing.Status.Active() && existing.Overlaps(appt.StartTime, appt.EndTime) {
				return model.Appointment{}, apperror.New(apperror.KindConflict, "update appointment status", "overlaps an active appointment")
			}
		}
	}
	appt.Status = status
	r.appointments[id] = appt
	return appt, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	appt, ok := r.appointments[id]
	if !ok {
		return model.Appointment{}, notFound("get appointment")
	}
	return appt, nil
}

func (r *MemoryRepository) ListAppointmentsByBusiness(_ context.Context, businessID string, tr TimeRange) ([]model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Appointment
	for _, a := range r.appointments {
		if a.BusinessID == businessID && tr.contains(a.StartTime) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) ListUpcomingByCustomer(_ context.Context, customerID string, after time.Time) ([]model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Appointment
	for _, a := range r.appointments {
		if a.CustomerID == customerID && a.Status.Active() && a.StartTime.After(after) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) ListDueForReminder(_ context.Context, tr TimeRange) ([]model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Appointment
	for _, a := range r.appointments {
		if a.Status.Active() && !a.ReminderSent && tr.contains(a.StartTime) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, appointmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[appointmentID]
	if !ok {
		return notFound("mark reminder sent")
	}
	appt.ReminderSent = true
	r.appointments[appointmentID] = appt
	return nil
}

func (r *MemoryRepository) GetCustomer(_ context.Context, id string) (model.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Customer{}, notFound("get customer")
}

func (r *MemoryRepository) FindCustomerByPhonePatterns(_ context.Context, businessID string, patterns []string) (model.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range patterns {
		for _, c := range r.customers {
			if c.BusinessID == businessID && c.Phone == p {
				return c, nil
			}
		}
	}
	return model.Customer{}, notFound("find customer by phone")
}

func (r *MemoryRepository) InsertCustomer(_ context.Context, c model.Customer) (model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = r.now()
	r.customers = append(r.customers, c)
	return c, nil
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].StartTime.Before(appts[j].StartTime)
		}
		return appts[i].ID < appts[j].ID
	})
}
