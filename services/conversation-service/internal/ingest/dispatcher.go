// Package ingest accepts inbound customer messages and hands them to the
// conversation machine, one message at a time per phone.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/turnobot/libs/kafkax"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/conversation"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/inbox"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"github.com/segmentio/kafka-go"
)

// TopicMessageReceived carries inbound messages keyed by canonical sender.
const TopicMessageReceived = "conversation.message.received.v1"

// Handler runs one conversation step. *conversation.Machine satisfies it.
type Handler interface {
	Handle(ctx context.Context, msg conversation.InboundMessage) conversation.Result
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg conversation.InboundMessage) error
}

// InlineDispatcher runs the step in the caller's goroutine while holding the
// sender's lock. Serialization only holds within one process.
type InlineDispatcher struct {
	handler Handler
	phone   *phone.Normalizer
	locks   *KeyedMutex
	inbox   inbox.Recorder
	logger  *slog.Logger
}

func NewInlineDispatcher(handler Handler, n *phone.Normalizer, dedup inbox.Recorder, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{handler: handler, phone: n, locks: NewKeyedMutex(), inbox: dedup, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, msg conversation.InboundMessage) error {
	if msg.MessageID != "" && d.inbox != nil {
		// Dedup is best effort; an inbox error must not drop the message.
		fresh, err := d.inbox.Record(ctx, msg.MessageID, TopicMessageReceived)
		if err != nil {
			d.logger.Warn("inbox record failed, handling without dedup", "message_id", msg.MessageID, "err", err)
		} else if !fresh {
			d.logger.Info("duplicate message ignored", "message_id", msg.MessageID)
			return nil
		}
	}

	unlock := d.locks.Lock(d.phone.Canonical(msg.From))
	defer unlock()
	d.handler.Handle(ctx, msg)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher publishes the message keyed by canonical sender phone. The
// hash balancer sends one phone to one partition, so one consumer processes a
// phone's messages in order.
type KafkaDispatcher struct {
	writer messageWriter
	phone  *phone.Normalizer
	topic  string
}

func NewKafkaDispatcher(writer messageWriter, n *phone.Normalizer) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer, phone: n, topic: TopicMessageReceived}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg conversation.InboundMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	eventID := msg.MessageID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     []byte(d.phone.Canonical(msg.From)),
		Value:   value,
		Headers: kafkax.InjectTraceHeaders(ctx, kafkax.MetaHeaders(kafkax.EventMeta{EventID: eventID, EventType: d.topic})),
	})
}

// DecodeMessage reads an InboundMessage published by KafkaDispatcher.
func DecodeMessage(msg kafka.Message) (conversation.InboundMessage, error) {
	var in conversation.InboundMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return conversation.InboundMessage{}, fmt.Errorf("decode inbound message: %w", err)
	}
	if in.MessageID == "" {
		in.MessageID = kafkax.ExtractEventMeta(msg).EventID
	}
	return in, nil
}

// HandleMessage adapts a Handler to the consumer's message callback.
func HandleMessage(h Handler) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		in, err := DecodeMessage(msg)
		if err != nil {
			return err
		}
		h.Handle(ctx, in)
		return nil
	}
}
