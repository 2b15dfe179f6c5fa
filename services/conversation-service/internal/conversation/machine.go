package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/availability"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/resolver"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InboundMessage is one message received from a customer.
type InboundMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	MessageID string `json:"messageId,omitempty"`
}

// Result describes what one Handle call did.
type Result struct {
	Phone      string
	BusinessID string
	State      State
	Replies    []string
	// Failed is set when a step failed and the customer got the apology.
	Failed bool
}

type Deps struct {
	Phone      *phone.Normalizer
	Businesses *resolver.BusinessResolver
	Customers  *resolver.CustomerResolver
	Engine     *availability.Engine
	Repo       storage.Repository
	Store      Store
	Sender     transport.Sender
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Machine runs one conversation step per inbound message. Callers must
// serialize messages from the same phone.
type Machine struct {
	phone      *phone.Normalizer
	businesses *resolver.BusinessResolver
	customers  *resolver.CustomerResolver
	engine     *availability.Engine
	repo       storage.Repository
	store      Store
	sender     transport.Sender
	logger     *slog.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

func NewMachine(d Deps) *Machine {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		phone:      d.Phone,
		businesses: d.Businesses,
		customers:  d.Customers,
		engine:     d.Engine,
		repo:       d.Repo,
		store:      d.Store,
		sender:     d.Sender,
		logger:     d.Logger,
		now:        now,
		tracer:     otel.Tracer("conversation"),
	}
}

// turn is the input to one state handler.
type turn struct {
	session  Session
	business model.Business
	customer model.Customer
	input    string
	now      time.Time
}

// step is a handler's outcome: the session to keep and the replies to send.
type step struct {
	next    Session
	replies []string
}

type stateHandler interface {
	handle(ctx context.Context, t turn) (step, error)
}

func (m *Machine) handlerFor(s State) stateHandler {
	switch s {
	case StateAwaitingService:
		return serviceSelection{m}
	case StateAwaitingSlot:
		return slotSelection{m}
	case StateAwaitingCancellation:
		return cancellationSelection{m}
	default:
		return idle{m}
	}
}

// Handle processes msg and never fails: any error resets the conversation to
// idle and the customer receives a generic apology.
func (m *Machine) Handle(ctx context.Context, msg InboundMessage) (res Result) {
	key := m.phone.Canonical(msg.From)
	to := m.phone.Format(msg.From)
	res = Result{Phone: key, State: StateIdle}
	if key == "" {
		m.logger.Warn("message without sender ignored", "to", msg.To, "message_id", msg.MessageID)
		return res
	}

	ctx, span := m.tracer.Start(ctx, "conversation.handle",
		trace.WithAttributes(attribute.String("message.id", msg.MessageID)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			res = m.fail(ctx, key, to, res, err)
		}
	}()

	res, err := m.handle(ctx, key, to, msg, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return m.fail(ctx, key, to, res, err)
	}
	span.SetAttributes(attribute.String("conversation.state", string(res.State)))
	return res
}

// handle runs one step. key is the canonical session key and to the reply
// address; both derive from msg.From so foreign numbers keep their country.
func (m *Machine) handle(ctx context.Context, key, to string, msg InboundMessage, res Result) (Result, error) {
	business, ok, err := m.businesses.FindByDestination(ctx, msg.To)
	if err != nil {
		return res, err
	}
	if !ok {
		m.logger.Warn("message for unknown business ignored", "to", msg.To, "message_id", msg.MessageID)
		return res, nil
	}
	res.BusinessID = business.ID

	customer, err := m.customers.FindOrCreate(ctx, msg.From, business.ID)
	if err != nil {
		return res, err
	}

	session, err := m.store.Get(ctx, key)
	if err != nil {
		return res, fmt.Errorf("load session: %w", err)
	}
	if session.State != StateIdle && session.BusinessID != business.ID {
		// The customer switched to another business number mid-flow.
		session = NewSession()
	}

	out, err := m.handlerFor(session.State).handle(ctx, turn{
		session:  session,
		business: business,
		customer: customer,
		input:    normalizeInput(msg.Body),
		now:      m.now(),
	})
	if err != nil {
		return res, err
	}

	if out.next.State == StateIdle {
		err = m.store.Reset(ctx, key)
	} else {
		err = m.store.Set(ctx, key, out.next)
	}
	if err != nil {
		return res, fmt.Errorf("save session: %w", err)
	}
	res.State = out.next.State

	for _, reply := range out.replies {
		if _, err := m.sender.Send(ctx, to, reply); err != nil {
			return res, fmt.Errorf("send reply: %w", err)
		}
		res.Replies = append(res.Replies, reply)
	}

	m.logger.Info("conversation step",
		"phone", key,
		"business_id", business.ID,
		"from_state", string(session.State),
		"to_state", string(out.next.State),
	)
	return res, nil
}

func (m *Machine) fail(ctx context.Context, key, to string, res Result, cause error) Result {
	m.logger.Error("conversation step failed", "err", cause, "phone", key, "business_id", res.BusinessID)
	res.Failed = true
	res.State = StateIdle

	if err := m.store.Reset(ctx, key); err != nil {
		m.logger.Warn("session reset after failure failed", "err", err, "phone", key)
	}
	if _, err := m.sender.Send(ctx, to, replyApology); err != nil {
		m.logger.Warn("apology not delivered", "err", err, "phone", key)
		return res
	}
	res.Replies = append(res.Replies, replyApology)
	return res
}
