package conversation

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/availability"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

type idle struct{ m *Machine }

func (h idle) handle(ctx context.Context, t turn) (step, error) {
	switch {
	case containsAny(t.input, cancellationKeywords):
		return h.listCancellable(ctx, t)
	case containsAny(t.input, bookingKeywords):
		return h.listServices(ctx, t)
	default:
		return step{next: NewSession(), replies: []string{replyWelcome(t.business)}}, nil
	}
}

func (h idle) listServices(ctx context.Context, t turn) (step, error) {
	services, err := h.m.repo.ListActiveServices(ctx, t.business.ID)
	if err != nil {
		return step{}, fmt.Errorf("list services: %w", err)
	}
	if len(services) == 0 {
		return step{next: NewSession(), replies: []string{replyNoServices}}, nil
	}
	return step{
		next: Session{
			State:      StateAwaitingService,
			BusinessID: t.business.ID,
			CustomerID: t.customer.ID,
		},
		replies: []string{replyServiceList(services)},
	}, nil
}

func (h idle) listCancellable(ctx context.Context, t turn) (step, error) {
	upcoming, err := h.m.repo.ListUpcomingByCustomer(ctx, t.customer.ID, t.now)
	if err != nil {
		return step{}, fmt.Errorf("list upcoming appointments: %w", err)
	}

	names := map[string]string{}
	var pending []PendingAppointment
	for _, appt := range upcoming {
		if appt.BusinessID != t.business.ID {
			continue
		}
		name, ok := names[appt.ServiceID]
		if !ok {
			if svc, err := h.m.repo.GetService(ctx, appt.ServiceID); err == nil {
				name = svc.Name
			}
			names[appt.ServiceID] = name
		}
		pending = append(pending, PendingAppointment{ID: appt.ID, Start: appt.StartTime, ServiceName: name})
	}
	if len(pending) == 0 {
		return step{next: NewSession(), replies: []string{replyNoAppointments}}, nil
	}
	return step{
		next: Session{
			State:               StateAwaitingCancellation,
			BusinessID:          t.business.ID,
			CustomerID:          t.customer.ID,
			PendingAppointments: pending,
		},
		replies: []string{replyCancellationList(pending, t.business.Location())},
	}, nil
}

type serviceSelection struct{ m *Machine }

func (h serviceSelection) handle(ctx context.Context, t turn) (step, error) {
	services, err := h.m.repo.ListActiveServices(ctx, t.business.ID)
	if err != nil {
		return step{}, fmt.Errorf("list services: %w", err)
	}
	if len(services) == 0 {
		return step{next: NewSession(), replies: []string{replyNoServices}}, nil
	}
	n, err := parseChoice(t.input, len(services))
	if apperror.Is(err, apperror.KindValidation) {
		return step{next: t.session, replies: []string{replyInvalidOption(len(services))}}, nil
	}
	if err != nil {
		return step{}, err
	}
	svc := services[n-1]

	employee, err := h.m.engine.ActiveEmployee(ctx, t.business.ID)
	if apperror.Is(err, apperror.KindNotFound) {
		return step{next: NewSession(), replies: []string{replyNoSlots}}, nil
	}
	if err != nil {
		return step{}, err
	}

	slots, err := h.m.engine.OpenSlots(ctx, t.business.ID, employee.ID, svc.ID, t.now)
	if err != nil {
		return step{}, err
	}
	if len(slots) == 0 {
		return step{next: NewSession(), replies: []string{replyNoSlots}}, nil
	}
	if len(slots) > MaxListedSlots {
		slots = slots[:MaxListedSlots]
	}

	next := t.session
	next.State = StateAwaitingSlot
	next.CustomerID = t.customer.ID
	next.SelectedServiceID = svc.ID
	next.SelectedEmployeeID = employee.ID
	next.AvailableSlots = slots
	return step{next: next, replies: []string{replySlotList(svc, slots, t.business.Location())}}, nil
}

type slotSelection struct{ m *Machine }

func (h slotSelection) handle(ctx context.Context, t turn) (step, error) {
	n, err := parseChoice(t.input, len(t.session.AvailableSlots))
	if err != nil {
		return step{next: t.session, replies: []string{replyInvalidOption(len(t.session.AvailableSlots))}}, nil
	}
	slot := t.session.AvailableSlots[n-1]
	if slot.Start.Before(t.now) {
		return step{next: NewSession(), replies: []string{replySlotExpired}}, nil
	}

	employeeID := t.session.SelectedEmployeeID
	if employeeID == "" {
		employee, err := h.m.engine.ActiveEmployee(ctx, t.business.ID)
		if err != nil {
			return step{}, err
		}
		employeeID = employee.ID
	}

	appt, err := h.m.engine.CreateAppointment(ctx, availability.CreateRequest{
		BusinessID: t.business.ID,
		EmployeeID: employeeID,
		CustomerID: t.customer.ID,
		ServiceID:  t.session.SelectedServiceID,
		Start:      slot.Start,
		Status:     model.StatusConfirmed,
	})
	if apperror.Is(err, apperror.KindConflict) {
		return step{next: NewSession(), replies: []string{replySlotTaken}}, nil
	}
	if err != nil {
		return step{}, err
	}

	var serviceName string
	if svc, err := h.m.repo.GetService(ctx, appt.ServiceID); err == nil {
		serviceName = svc.Name
	}
	return step{next: NewSession(), replies: []string{replyConfirmed(t.business, serviceName, appt)}}, nil
}

type cancellationSelection struct{ m *Machine }

func (h cancellationSelection) handle(ctx context.Context, t turn) (step, error) {
	n, err := parseChoice(t.input, len(t.session.PendingAppointments))
	if err != nil {
		return step{next: t.session, replies: []string{replyInvalidOption(len(t.session.PendingAppointments))}}, nil
	}
	selected := t.session.PendingAppointments[n-1]

	if _, err := h.m.engine.UpdateAppointmentStatus(ctx, selected.ID, t.business.ID, model.StatusCancelled); err != nil {
		return step{}, err
	}
	return step{next: NewSession(), replies: []string{replyCancelled(selected, t.business.Location())}}, nil
}
