package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/reminders"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2 March 2026, 10:10 UTC.
var now = time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)

type fixture struct {
	repo      *storage.MemoryRepository
	scheduler *reminders.MemoryScheduler
	engine    *Engine
	business  model.Business
	service   model.Service
	employee  model.Employee
	customer  model.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := storage.NewMemoryRepository()
	f := &fixture{repo: repo, scheduler: reminders.NewMemoryScheduler(func() time.Time { return now })}
	f.business = repo.AddBusiness(model.Business{Name: "Barberia", Phone: "+5491155550000", Timezone: "UTC"})
	f.service = repo.AddService(model.Service{BusinessID: f.business.ID, Name: "Corte", DurationMinutes: 30, IsActive: true})
	f.employee = repo.AddEmployee(model.Employee{BusinessID: f.business.ID, Name: "Juan", IsActive: true})
	repo.SetWorkingHours(model.WorkingHours{EmployeeID: f.employee.ID, DayOfWeek: int(time.Monday), StartMinute: 9 * 60, EndMinute: 12 * 60, IsAvailable: true})
	c, err := repo.InsertCustomer(context.Background(), model.Customer{BusinessID: f.business.ID, Name: "Ana", Phone: "+5491123456789"})
	require.NoError(t, err)
	f.customer = c
	f.engine = NewEngine(repo, f.scheduler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) request(start time.Time) CreateRequest {
	return CreateRequest{
		BusinessID: f.business.ID,
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		ServiceID:  f.service.ID,
		Start:      start,
	}
}

func TestServiceDuration(t *testing.T) {
	f := newFixture(t)
	got, err := f.engine.ServiceDuration(context.Background(), f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got)

	_, err = f.engine.ServiceDuration(context.Background(), "missing")
	assert.True(t, apperror.Is(err, apperror.KindNotFound), "got %v", err)
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	start := now.Add(48 * time.Hour)

	appt, err := f.engine.CreateAppointment(context.Background(), f.request(start))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.True(t, appt.EndTime.Equal(start.Add(30*time.Minute)))

	job, ok := f.scheduler.Pending(appt.ID)
	require.True(t, ok)
	assert.True(t, job.FireAt.Equal(start.Add(-24*time.Hour)))
	assert.Equal(t, "+5491123456789", job.Recipient)
}

func TestCreateAppointmentWithinLeadSkipsReminder(t *testing.T) {
	f := newFixture(t)
	appt, err := f.engine.CreateAppointment(context.Background(), f.request(now.Add(3*time.Hour)))
	require.NoError(t, err)
	_, ok := f.scheduler.Pending(appt.ID)
	assert.False(t, ok)
}

func TestCreateAppointmentConflict(t *testing.T) {
	f := newFixture(t)
	start := now.Add(48 * time.Hour)
	_, err := f.engine.CreateAppointment(context.Background(), f.request(start))
	require.NoError(t, err)

	_, err = f.engine.CreateAppointment(context.Background(), f.request(start.Add(15*time.Minute)))
	assert.True(t, apperror.Is(err, apperror.KindConflict), "got %v", err)
}

func TestCreateAppointmentRejectsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	req := f.request(now.Add(48 * time.Hour))
	req.Status = model.StatusCompleted
	_, err := f.engine.CreateAppointment(context.Background(), req)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

type failingScheduler struct{}

func (failingScheduler) Schedule(context.Context, reminders.Job) error {
	return errors.New("queue down")
}
func (failingScheduler) Cancel(context.Context, string) error { return errors.New("queue down") }

func TestReminderFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.repo, failingScheduler{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	appt, err := engine.CreateAppointment(context.Background(), f.request(now.Add(48*time.Hour)))
	require.NoError(t, err)
	_, err = engine.UpdateAppointmentStatus(context.Background(), appt.ID, f.business.ID, model.StatusCancelled)
	require.NoError(t, err)
}

func TestUpdateAppointmentStatusCancelsReminder(t *testing.T) {
	for _, status := range []model.AppointmentStatus{model.StatusCancelled, model.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			appt, err := f.engine.CreateAppointment(context.Background(), f.request(now.Add(48*time.Hour)))
			require.NoError(t, err)
			// Scheduling again replaces rather than duplicates.
			f.engine.scheduleReminder(context.Background(), appt, f.service.Name)
			require.Len(t, f.scheduler.Jobs(), 1)

			updated, err := f.engine.UpdateAppointmentStatus(context.Background(), appt.ID, f.business.ID, status)
			require.NoError(t, err)
			assert.Equal(t, status, updated.Status)
			_, ok := f.scheduler.Pending(appt.ID)
			assert.False(t, ok)
		})
	}
}

func TestUpdateAppointmentStatusValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.UpdateAppointmentStatus(context.Background(), "x", f.business.ID, "archived")
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	_, err = f.engine.UpdateAppointmentStatus(context.Background(), "missing", f.business.ID, model.StatusCancelled)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestOpenSlots(t *testing.T) {
	f := newFixture(t)
	// Occupies 11:00-11:30.
	_, err := f.engine.CreateAppointment(context.Background(), f.request(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	slots, err := f.engine.OpenSlots(context.Background(), f.business.ID, f.employee.ID, f.service.ID, now)
	require.NoError(t, err)

	var starts []string
	for _, s := range slots {
		assert.True(t, s.Available)
		starts = append(starts, s.Start.Format("15:04"))
	}
	assert.Equal(t, []string{"10:30", "11:30"}, starts)
}

func TestOpenSlotsWithoutWorkingHours(t *testing.T) {
	f := newFixture(t)
	sunday := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	slots, err := f.engine.OpenSlots(context.Background(), f.business.ID, f.employee.ID, f.service.ID, sunday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestActiveEmployee(t *testing.T) {
	f := newFixture(t)
	got, err := f.engine.ActiveEmployee(context.Background(), f.business.ID)
	require.NoError(t, err)
	assert.Equal(t, f.employee.ID, got.ID)

	_, err = f.engine.ActiveEmployee(context.Background(), "empty")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestAppointmentsByBusinessOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, h := range []int{72, 48, 96} {
		_, err := f.engine.CreateAppointment(ctx, f.request(now.Add(time.Duration(h)*time.Hour)))
		require.NoError(t, err)
	}

	all, err := f.engine.AppointmentsByBusiness(ctx, f.business.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].StartTime.Before(all[i].StartTime))
	}

	from, to := now.Add(60*time.Hour), now.Add(80*time.Hour)
	bounded, err := f.engine.AppointmentsByBusiness(ctx, f.business.ID, &from, &to)
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.True(t, bounded[0].StartTime.Equal(now.Add(72*time.Hour)))
}

func TestNoOverlappingActiveAppointments(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		ctx := context.Background()
		base := now.Add(48 * time.Hour).Truncate(time.Hour)

		var accepted []model.Appointment
		for i := 0; i < 30; i++ {
			start := base.Add(time.Duration(r.Intn(8*60)) * time.Minute)
			appt, err := f.engine.CreateAppointment(ctx, f.request(start))
			if err != nil {
				require.True(t, apperror.Is(err, apperror.KindConflict), "unexpected error %v", err)
				overlaps := false
				for _, a := range accepted {
					if a.Overlaps(start, start.Add(30*time.Minute)) {
						overlaps = true
					}
				}
				require.True(t, overlaps, "rejected a free interval at %s", start)
				continue
			}
			accepted = append(accepted, appt)
		}

		active, err := f.repo.ListActiveAppointments(ctx, f.employee.ID, storage.TimeRange{})
		require.NoError(t, err)
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				require.False(t, active[i].Overlaps(active[j].StartTime, active[j].EndTime),
					"round %d: %s and %s overlap", round, active[i].ID, active[j].ID)
			}
		}
	}
}
