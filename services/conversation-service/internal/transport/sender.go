// Package transport delivers outbound text to customers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sender delivers one message and returns the provider's delivery id.
type Sender interface {
	Send(ctx context.Context, to string, body string) (string, error)
	ProviderID() string
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "whatsapp-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) (string, error) {
	const op = "send message"
	if s.url == "" {
		return "", apperror.New(apperror.KindUnavailable, op, "transport webhook url not configured")
	}
	raw, err := json.Marshal(map[string]string{
		"to":   phone.ToTransport(to),
		"body": body,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", apperror.Wrap(err, apperror.KindUnavailable, op, "transport unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperror.New(apperror.KindUnavailable, op, fmt.Sprintf("transport webhook returned %d", resp.StatusCode))
	}

	var out struct {
		ID  string `json:"id"`
		SID string `json:"sid"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) > 0 && json.Unmarshal(data, &out) == nil {
		if out.ID != "" {
			return out.ID, nil
		}
		if out.SID != "" {
			return out.SID, nil
		}
	}
	return uuid.NewString(), nil
}

// NoopSender logs instead of delivering. It is used when no provider is
// configured.
type NoopSender struct {
	logger *slog.Logger
}

func NewNoopSender(logger *slog.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) ProviderID() string {
	return "noop"
}

func (s *NoopSender) Send(_ context.Context, to string, body string) (string, error) {
	id := uuid.NewString()
	if s.logger != nil {
		s.logger.Debug("message not delivered (noop transport)", "to", to, "delivery_id", id, "chars", len(body))
	}
	return id, nil
}

type Message struct {
	To   string
	Body string
}

// Recorder keeps every message in memory. Err, when set, is returned instead.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) ProviderID() string {
	return "recorder"
}

func (r *Recorder) Send(_ context.Context, to string, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.sent = append(r.sent, Message{To: to, Body: body})
	return uuid.NewString(), nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Last returns the most recent message, or a zero Message.
func (r *Recorder) Last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}
	}
	return r.sent[len(r.sent)-1]
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
