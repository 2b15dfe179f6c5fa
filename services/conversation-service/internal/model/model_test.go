package model

import (
	"testing"
	"time"
)

func TestAppointmentOverlapsHalfOpen(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	appt := Appointment{StartTime: day.Add(10 * time.Hour), EndTime: day.Add(11 * time.Hour)}

	tests := []struct {
		name       string
		start, end time.Duration
		want       bool
	}{
		{"ends exactly at start", 9 * time.Hour, 10 * time.Hour, false},
		{"starts exactly at end", 11 * time.Hour, 12 * time.Hour, false},
		{"inside", 10*time.Hour + 15*time.Minute, 10*time.Hour + 45*time.Minute, true},
		{"straddles start", 9*time.Hour + 30*time.Minute, 10*time.Hour + 30*time.Minute, true},
		{"covers", 9 * time.Hour, 12 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := appt.Overlaps(day.Add(tt.start), day.Add(tt.end)); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStatusActive(t *testing.T) {
	for _, s := range []AppointmentStatus{StatusPending, StatusConfirmed} {
		if !s.Active() {
			t.Fatalf("%s should be active", s)
		}
	}
	for _, s := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		if s.Active() {
			t.Fatalf("%s should not be active", s)
		}
	}
	if AppointmentStatus("booked").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestBusinessLocationFallback(t *testing.T) {
	if (Business{Timezone: "Mars/Olympus"}).Location() != time.UTC {
		t.Fatal("expected UTC for unknown timezone")
	}
}
