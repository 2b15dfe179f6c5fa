package model

import "time"

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Active reports whether the status still holds the employee's time.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Business struct {
	ID       string
	Name     string
	Phone    string
	Timezone string
}

// Location falls back to UTC for an empty or unknown timezone.
func (b Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Customer struct {
	ID         string
	BusinessID string
	Name       string
	Phone      string
	Email      string
	CreatedAt  time.Time
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	IsActive        bool
}

type Employee struct {
	ID         string
	BusinessID string
	Name       string
	IsActive   bool
}

// WorkingHours is one employee's schedule for one weekday. Minutes are
// counted from local midnight in the business timezone.
type WorkingHours struct {
	EmployeeID  string
	DayOfWeek   int // 0 = Sunday
	StartMinute int
	EndMinute   int
	IsAvailable bool
}

type Appointment struct {
	ID           string
	BusinessID   string
	EmployeeID   string
	CustomerID   string
	ServiceID    string
	StartTime    time.Time
	EndTime      time.Time
	Status       AppointmentStatus
	ReminderSent bool
	Notes        string
	CreatedAt    time.Time
}

// Overlaps uses half-open intervals: [start,end) overlaps [a.Start,a.End) iff
// start < a.End && a.Start < end.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && a.StartTime.Before(end)
}

type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
