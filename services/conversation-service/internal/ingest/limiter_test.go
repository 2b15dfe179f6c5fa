package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLimiter(rdb, 2, time.Minute)
	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "5491123456789")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "call %d", i+1)
	}

	ok, err := l.Allow(ctx, "5491100000000")
	require.NoError(t, err)
	assert.True(t, ok, "quotas are per sender")

	mr.FastForward(time.Minute)
	ok, err = l.Allow(ctx, "5491123456789")
	require.NoError(t, err)
	assert.True(t, ok, "window resets")
}

func TestRedisLimiterUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, err := NewRedisLimiter(rdb, 2, time.Minute).Allow(context.Background(), "5491123456789")
	assert.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "call %d", i+1)
	}

	now = now.Add(time.Minute)
	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
}

func TestWebhookThrottlesSender(t *testing.T) {
	handler := &recordingHandler{}
	n := phone.NewNormalizer("54", "9")
	d := NewInlineDispatcher(handler, n, nil, discardLogger())
	wh := NewWebhook(d, discardLogger()).WithLimiter(NewMemoryLimiter(1, time.Minute), n)

	// Two spellings of the same number share one quota.
	for _, from := range []string{"whatsapp:+5491123456789", "+54 9 11 2345-6789"} {
		body := `{"from":"` + from + `","to":"+5491155550000","body":"turno"}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rw := httptest.NewRecorder()
		wh.ServeHTTP(rw, req)
		require.Equal(t, http.StatusOK, rw.Code)
	}

	assert.Len(t, handler.msgs, 1)
}
