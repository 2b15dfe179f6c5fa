package storage

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInsertRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed})
	require.NoError(t, err)

	_, err = repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e1", StartTime: start.Add(30 * time.Minute), EndTime: start.Add(90 * time.Minute), Status: model.StatusPending})
	assert.True(t, IsConflict(err), "expected conflict, got %v", err)

	// Adjacent interval and a different employee are both fine.
	_, err = repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e1", StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour), Status: model.StatusPending})
	require.NoError(t, err)
	_, err = repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e2", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusPending})
	require.NoError(t, err)
}

func TestMemoryCancelledDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first, err := repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed})
	require.NoError(t, err)
	_, err = repo.UpdateAppointmentStatus(ctx, first.ID, "b1", model.StatusCancelled)
	require.NoError(t, err)

	_, err = repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed})
	require.NoError(t, err)

	active, err := repo.ListActiveAppointments(ctx, "e1", TimeRange{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestMemoryReactivationRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first, err := repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed})
	require.NoError(t, err)
	_, err = repo.UpdateAppointmentStatus(ctx, first.ID, "b1", model.StatusCancelled)
	require.NoError(t, err)
	_, err = repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start.Add(30 * time.Minute), EndTime: start.Add(90 * time.Minute), Status: model.StatusConfirmed})
	require.NoError(t, err)

	_, err = repo.UpdateAppointmentStatus(ctx, first.ID, "b1", model.StatusPending)
	assert.True(t, IsConflict(err), "expected conflict, got %v", err)
	appt, err := repo.GetAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)

	// Moving between active statuses does not collide with itself.
	second, err := repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour), Status: model.StatusPending})
	require.NoError(t, err)
	_, err = repo.UpdateAppointmentStatus(ctx, second.ID, "b1", model.StatusConfirmed)
	require.NoError(t, err)
}

func TestMemoryUpdateScopedToBusiness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	appt, err := repo.InsertAppointment(ctx, model.Appointment{BusinessID: "b1", EmployeeID: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusPending})
	require.NoError(t, err)

	_, err = repo.UpdateAppointmentStatus(ctx, appt.ID, "other", model.StatusCancelled)
	assert.True(t, IsNotFound(err))
}

func TestMemoryFindCustomerPatternOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	legacy, err := repo.InsertCustomer(ctx, model.Customer{BusinessID: "b1", Phone: "541123456789"})
	require.NoError(t, err)

	got, err := repo.FindCustomerByPhonePatterns(ctx, "b1", []string{"+5491123456789", "541123456789"})
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, got.ID)

	_, err = repo.FindCustomerByPhonePatterns(ctx, "b2", []string{"541123456789"})
	assert.True(t, IsNotFound(err))
}

func TestMemoryListDueForReminder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	due, _ := repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e1", StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour), Status: model.StatusConfirmed})
	sent, _ := repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e2", StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour), Status: model.StatusPending})
	require.NoError(t, repo.MarkReminderSent(ctx, sent.ID))
	_, _ = repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e3", StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour), Status: model.StatusCompleted})
	_, _ = repo.InsertAppointment(ctx, model.Appointment{EmployeeID: "e4", StartTime: now.Add(30 * time.Hour), EndTime: now.Add(31 * time.Hour), Status: model.StatusPending})

	got, err := repo.ListDueForReminder(ctx, TimeRange{From: now, To: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}
