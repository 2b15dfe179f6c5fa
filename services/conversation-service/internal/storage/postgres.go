package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/turnobot/libs/db"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/outbox"
)

// Event types written to the outbox alongside appointment changes.
const (
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

type PostgresRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresRepository {
	return &PostgresRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `id::text, business_id::text, employee_id::text, customer_id::text, service_id::text,
	start_time, end_time, status, reminder_sent, notes, created_at`

func (r *PostgresRepository) GetBusiness(ctx context.Context, id string) (model.Business, error) {
	var b model.Business
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, phone, timezone
		FROM businesses
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Phone, &b.Timezone)
	if err != nil {
		return model.Business{}, classify(err, "get business")
	}
	return b, nil
}

func (r *PostgresRepository) FindBusinessByPhonePatterns(ctx context.Context, patterns []string) (model.Business, error) {
	if len(patterns) == 0 {
		return model.Business{}, notFound("find business by phone")
	}
	var b model.Business
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, phone, timezone
		FROM businesses
		WHERE phone = ANY($1)
		ORDER BY array_position($1, phone)
		LIMIT 1
	`, patterns).Scan(&b.ID, &b.Name, &b.Phone, &b.Timezone)
	if err != nil {
		return model.Business{}, classify(err, "find business by phone")
	}
	return b, nil
}

func (r *PostgresRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, is_active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.IsActive)
	if err != nil {
		return model.Service{}, classify(err, "get service")
	}
	return s, nil
}

func (r *PostgresRepository) ListActiveServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, is_active
		FROM services
		WHERE business_id = $1 AND is_active
		ORDER BY name ASC, id ASC
	`, businessID)
	if err != nil {
		return nil, classify(err, "list services")
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.IsActive); err != nil {
			return nil, classify(err, "list services")
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err(), "list services")
	}
	return out, nil
}

func (r *PostgresRepository) GetActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM employees
		WHERE business_id = $1 AND is_active
		ORDER BY created_at ASC, id ASC
	`, businessID)
	if err != nil {
		return nil, classify(err, "list employees")
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Name, &e.IsActive); err != nil {
			return nil, classify(err, "list employees")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err(), "list employees")
	}
	return out, nil
}

func (r *PostgresRepository) GetWorkingHours(ctx context.Context, employeeID string, dayOfWeek int) (model.WorkingHours, error) {
	var wh model.WorkingHours
	err := r.pool.QueryRow(ctx, `
		SELECT employee_id::text, day_of_week, start_minute, end_minute, is_available
		FROM working_hours
		WHERE employee_id = $1 AND day_of_week = $2
	`, employeeID, dayOfWeek).Scan(&wh.EmployeeID, &wh.DayOfWeek, &wh.StartMinute, &wh.EndMinute, &wh.IsAvailable)
	if err != nil {
		return model.WorkingHours{}, classify(err, "get working hours")
	}
	return wh, nil
}

func (r *PostgresRepository) ListActiveAppointments(ctx context.Context, employeeID string, tr TimeRange) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, "list active appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE employee_id = $1
			AND status IN ('pending', 'confirmed')
			AND ($2::timestamptz IS NULL OR end_time > $2)
			AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time ASC
	`, employeeID, nullableTime(tr.From), nullableTime(tr.To))
}

func (r *PostgresRepository) InsertAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(business_id, employee_id, customer_id, service_id, start_time, end_time, status, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+appointmentColumns,
			appt.BusinessID, appt.EmployeeID, appt.CustomerID, appt.ServiceID,
			appt.StartTime, appt.EndTime, string(appt.Status), appt.Notes)
		created, err := scanAppointment(row)
		if err != nil {
			return err
		}
		appt = created
		return r.writeEvent(ctx, tx, EventAppointmentBooked, appt)
	})
	if err != nil {
		return model.Appointment{}, classify(err, "insert appointment")
	}
	return appt, nil
}

func (r *PostgresRepository) UpdateAppointmentStatus(ctx context.Context, id, businessID string, status model.AppointmentStatus) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3, updated_at = now()
			WHERE id = $1 AND business_id = $2
			RETURNING `+appointmentColumns,
			id, businessID, string(status))
		updated, err := scanAppointment(row)
		if err != nil {
			return err
		}
		appt = updated
		return r.writeEvent(ctx, tx, EventAppointmentStatusChanged, appt)
	})
	if err != nil {
		return model.Appointment{}, classify(err, "update appointment status")
	}
	return appt, nil
}

func (r *PostgresRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Appointment{}, classify(err, "get appointment")
	}
	return appt, nil
}

func (r *PostgresRepository) ListAppointmentsByBusiness(ctx context.Context, businessID string, tr TimeRange) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, "list appointments by business", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND ($2::timestamptz IS NULL OR start_time >= $2)
			AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time ASC
	`, businessID, nullableTime(tr.From), nullableTime(tr.To))
}

func (r *PostgresRepository) ListUpcomingByCustomer(ctx context.Context, customerID string, after time.Time) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, "list upcoming appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time > $2
		ORDER BY start_time ASC
	`, customerID, after)
}

func (r *PostgresRepository) ListDueForReminder(ctx context.Context, tr TimeRange) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, "list due reminders", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
			AND NOT reminder_sent
			AND start_time >= $1
			AND start_time < $2
		ORDER BY start_time ASC
	`, tr.From, tr.To)
}

func (r *PostgresRepository) MarkReminderSent(ctx context.Context, appointmentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true, updated_at = now()
		WHERE id = $1
	`, appointmentID)
	if err != nil {
		return classify(err, "mark reminder sent")
	}
	if tag.RowsAffected() == 0 {
		return notFound("mark reminder sent")
	}
	return nil
}

func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, classify(err, "get customer")
	}
	return c, nil
}

func (r *PostgresRepository) FindCustomerByPhonePatterns(ctx context.Context, businessID string, patterns []string) (model.Customer, error) {
	if len(patterns) == 0 {
		return model.Customer{}, notFound("find customer by phone")
	}
	var c model.Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, phone, email, created_at
		FROM customers
		WHERE business_id = $1 AND phone = ANY($2)
		ORDER BY array_position($2, phone), created_at ASC
		LIMIT 1
	`, businessID, patterns).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, classify(err, "find customer by phone")
	}
	return c, nil
}

func (r *PostgresRepository) InsertCustomer(ctx context.Context, c model.Customer) (model.Customer, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (business_id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, created_at
	`, c.BusinessID, c.Name, c.Phone, c.Email).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, classify(err, "insert customer")
	}
	return c, nil
}

func (r *PostgresRepository) queryAppointments(ctx context.Context, op, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, op)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, classify(err, op)
		}
		out = append(out, appt)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err(), op)
	}
	return out, nil
}

func (r *PostgresRepository) writeEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	if r.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"employee_id":    appt.EmployeeID,
		"customer_id":    appt.CustomerID,
		"service_id":     appt.ServiceID,
		"status":         string(appt.Status),
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.EmployeeID,
		&appt.CustomerID,
		&appt.ServiceID,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.ReminderSent,
		&appt.Notes,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.AppointmentStatus(status)
	return appt, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// classify maps driver errors onto the engine's error kinds. The appointments
// exclusion constraint surfaces as a conflict.
func classify(err error, op string) error {
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case db.IsNoRows(err):
		return apperror.Wrap(err, apperror.KindNotFound, op, "record not found")
	case db.HasCode(err, db.CodeExclusionViolation), db.HasCode(err, db.CodeUniqueViolation):
		return apperror.Wrap(err, apperror.KindConflict, op, "conflicting record")
	default:
		return apperror.Wrap(err, apperror.KindInternal, op, "database error")
	}
}
