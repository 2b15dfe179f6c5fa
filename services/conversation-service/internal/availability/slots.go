package availability

import (
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// SlotStep is the distance between consecutive candidate start times.
const SlotStep = 30 * time.Minute

// GenerateSlots lists every candidate slot of durationMinutes on date's
// calendar day in loc, starting at the opening time and stepping by SlotStep.
// A slot is emitted only if it ends by closing time. It is unavailable iff it
// intersects an active appointment.
//
// The result depends only on the arguments. It is empty when hours is nil or
// marked unavailable.
func GenerateSlots(date time.Time, hours *model.WorkingHours, durationMinutes int, appointments []model.Appointment, loc *time.Location) []model.TimeSlot {
	if hours == nil || !hours.IsAvailable || durationMinutes <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	y, m, d := date.In(loc).Date()
	// Wall-clock construction keeps opening and closing correct on DST days.
	open := time.Date(y, m, d, 0, hours.StartMinute, 0, 0, loc)
	closing := time.Date(y, m, d, 0, hours.EndMinute, 0, 0, loc)
	duration := time.Duration(durationMinutes) * time.Minute

	var slots []model.TimeSlot
	for t := open; !t.Add(duration).After(closing); t = t.Add(SlotStep) {
		end := t.Add(duration)
		slots = append(slots, model.TimeSlot{
			Start:     t,
			End:       end,
			Available: !overlapsAny(t, end, appointments),
		})
	}
	return slots
}

func overlapsAny(start, end time.Time, appointments []model.Appointment) bool {
	for _, a := range appointments {
		if a.Status.Active() && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}
