package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/turnobot/libs/auth"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/conversation"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
)

const maxInboundBytes = 1 << 20

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Webhook receives provider callbacks for inbound messages. Every well-formed
// POST is answered with 200, whatever happens downstream, so the provider
// never retries a message the service already saw.
type Webhook struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	secret     string
	limiter    Limiter
	normalizer *phone.Normalizer
	now        func() time.Time
}

func NewWebhook(dispatcher Dispatcher, logger *slog.Logger) *Webhook {
	return &Webhook{dispatcher: dispatcher, logger: logger, now: time.Now}
}

// WithLimiter drops messages from senders over their quota. Keys are
// canonical phones, so spelling variants share one quota. Limiter errors let
// the message through.
func (h *Webhook) WithLimiter(l Limiter, n *phone.Normalizer) *Webhook {
	h.limiter = l
	h.normalizer = n
	return h
}

// WithSignatureSecret makes the webhook reject requests whose auth.SignatureHeader
// does not match secret. An empty secret accepts unsigned requests.
func (h *Webhook) WithSignatureSecret(secret string) *Webhook {
	h.secret = secret
	return h
}

type jsonMessage struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	MessageID  string `json:"messageId"`
	MessageSid string `json:"MessageSid"`
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if h.secret != "" {
		if err := auth.Verify(r.Header.Get(auth.SignatureHeader), raw, h.secret, auth.DefaultTolerance, h.now()); err != nil {
			h.logger.Warn("inbound message rejected", "err", err, "remote_addr", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	msg, isJSON, err := parseInbound(r)
	if err != nil {
		h.logger.Warn("inbound message unreadable", "err", err)
		h.ack(w, isJSON, "ignored")
		return
	}
	if strings.TrimSpace(msg.From) == "" {
		h.logger.Warn("inbound message without sender", "message_id", msg.MessageID)
		h.ack(w, isJSON, "ignored")
		return
	}

	if h.limiter != nil {
		key := h.normalizer.Canonical(msg.From)
		allowed, err := h.limiter.Allow(r.Context(), key)
		if err != nil {
			h.logger.Warn("inbound rate limiter unavailable", "err", err)
		} else if !allowed {
			h.logger.Warn("inbound message over sender quota", "phone", key, "message_id", msg.MessageID)
			h.ack(w, isJSON, "throttled")
			return
		}
	}

	// The provider may hang up; the step still runs to completion.
	if err := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), msg); err != nil {
		h.logger.Error("inbound message dispatch failed", "err", err, "message_id", msg.MessageID)
	}
	h.ack(w, isJSON, "accepted")
}

func parseInbound(r *http.Request) (conversation.InboundMessage, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var in jsonMessage
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return conversation.InboundMessage{}, true, err
		}
		id := in.MessageID
		if id == "" {
			id = in.MessageSid
		}
		return conversation.InboundMessage{From: in.From, To: in.To, Body: in.Body, MessageID: id}, true, nil
	}

	if err := r.ParseForm(); err != nil {
		return conversation.InboundMessage{}, false, err
	}
	return conversation.InboundMessage{
		From:      strings.TrimSpace(r.PostFormValue("From")),
		To:        strings.TrimSpace(r.PostFormValue("To")),
		Body:      r.PostFormValue("Body"),
		MessageID: r.PostFormValue("MessageSid"),
	}, false, nil
}

func (h *Webhook) ack(w http.ResponseWriter, isJSON bool, status string) {
	if isJSON {
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
