// Package conversation drives the booking dialogue with one customer and
// keeps its per-phone state between messages.
package conversation

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// DefaultTTL is how long an untouched conversation survives.
const DefaultTTL = time.Hour

type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingService      State = "awaiting_service"
	StateAwaitingSlot         State = "awaiting_slot"
	StateAwaitingCancellation State = "awaiting_cancellation"
)

func (s State) Valid() bool {
	switch s {
	case StateIdle, StateAwaitingService, StateAwaitingSlot, StateAwaitingCancellation:
		return true
	}
	return false
}

// PendingAppointment is one cancellable appointment as it was listed to the
// customer.
type PendingAppointment struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	ServiceName string    `json:"serviceName,omitempty"`
}

// Session is the stored context of one phone's conversation.
type Session struct {
	State               State                `json:"state"`
	BusinessID          string               `json:"businessId,omitempty"`
	CustomerID          string               `json:"customerId,omitempty"`
	SelectedServiceID   string               `json:"selectedServiceId,omitempty"`
	SelectedEmployeeID  string               `json:"selectedEmployeeId,omitempty"`
	AvailableSlots      []model.TimeSlot     `json:"availableSlots,omitempty"`
	PendingAppointments []PendingAppointment `json:"pendingAppointments,omitempty"`
	LastMessageAt       int64                `json:"lastMessageAt"`
}

func NewSession() Session {
	return Session{State: StateIdle}
}

func (s Session) LastMessage() time.Time {
	if s.LastMessageAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastMessageAt)
}

// sanitize falls back to a fresh session when stored data carries an unknown
// state.
func (s Session) sanitize() Session {
	if !s.State.Valid() {
		return NewSession()
	}
	return s
}

// Store persists sessions by canonical phone. Get returns a fresh idle
// session when none is stored or it expired. Set stamps LastMessageAt.
type Store interface {
	Get(ctx context.Context, phone string) (Session, error)
	Set(ctx context.Context, phone string, s Session) error
	Reset(ctx context.Context, phone string) error
}
