package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	got, err := store.Get(ctx, "5491123456789")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)

	slot := model.TimeSlot{Start: fixed.Add(time.Hour), End: fixed.Add(90 * time.Minute), Available: true}
	require.NoError(t, store.Set(ctx, "5491123456789", Session{
		State:             StateAwaitingSlot,
		BusinessID:        "b1",
		SelectedServiceID: "s1",
		AvailableSlots:    []model.TimeSlot{slot},
	}))

	raw, err := mr.Get("conv:5491123456789")
	require.NoError(t, err)
	assert.Contains(t, raw, `"state":"awaiting_slot"`)
	assert.Contains(t, raw, `"selectedServiceId":"s1"`)
	assert.Contains(t, raw, `"lastMessageAt":1772445600000`)
	assert.Equal(t, time.Hour, mr.TTL("conv:5491123456789"))

	got, err = store.Get(ctx, "5491123456789")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingSlot, got.State)
	require.Len(t, got.AvailableSlots, 1)
	assert.True(t, got.AvailableSlots[0].Start.Equal(slot.Start))
	assert.True(t, got.LastMessage().Equal(fixed))

	require.NoError(t, store.Reset(ctx, "5491123456789"))
	got, err = store.Get(ctx, "5491123456789")
	require.NoError(t, err)
	assert.Equal(t, NewSession(), got)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "p", Session{State: StateAwaitingService}))

	mr.FastForward(time.Hour + time.Second)
	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
}

func TestRedisStoreUnknownStateFallsBackToIdle(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("conv:p", `{"state":"awaiting_payment","businessId":"b1"}`))

	got, err := store.Get(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, NewSession(), got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "p", Session{State: StateAwaitingService, BusinessID: "b1"}))
	now = now.Add(59 * time.Minute)
	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingService, got.State)

	now = now.Add(time.Minute)
	got, err = store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
	assert.Zero(t, store.Len())
}

func TestFailoverStoreDegradesAndRecovers(t *testing.T) {
	store, mr := newRedisStore(t)
	fallback := NewMemoryStore(time.Hour, nil)
	fs := NewFailoverStore(store, fallback, discardLogger())
	ctx := context.Background()

	var transitions []bool
	fs.OnStateChange(func(d bool) { transitions = append(transitions, d) })

	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingService}))
	assert.False(t, fs.Degraded())
	require.NoError(t, fs.Check(ctx))

	mr.SetError("connection refused")
	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingSlot}))
	assert.True(t, fs.Degraded())
	assert.ErrorIs(t, fs.Check(ctx), ErrDegraded)

	got, err := fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingSlot, got.State, "served from the fallback while degraded")

	mr.SetError("")
	got, err = fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, fs.Degraded())
	assert.Equal(t, StateAwaitingSlot, got.State, "the write made during the outage wins")

	got, err = store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingSlot, got.State, "replayed to redis")

	assert.Equal(t, []bool{false, true, false}, transitions)
}

func TestFailoverStoreResetDuringOutageSurvivesRecovery(t *testing.T) {
	store, mr := newRedisStore(t)
	fallback := NewMemoryStore(time.Hour, nil)
	fs := NewFailoverStore(store, fallback, discardLogger())
	ctx := context.Background()

	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingSlot, SelectedServiceID: "s1"}))

	mr.SetError("connection refused")
	require.NoError(t, fs.Reset(ctx, "p"))
	got, err := fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)

	mr.SetError("")
	got, err = fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State, "finished conversation stays finished")
	assert.Empty(t, got.SelectedServiceID)
	assert.False(t, mr.Exists(keyPrefix+"p"), "stale redis entry removed")

	got, err = fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
}

func TestFailoverStoreReplayRetriesWhilePrimaryDown(t *testing.T) {
	primary := &switchableStore{Store: NewMemoryStore(time.Hour, nil)}
	fs := NewFailoverStore(primary, NewMemoryStore(time.Hour, nil), discardLogger())
	ctx := context.Background()

	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingService}))
	primary.down = true
	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingCancellation}))

	got, err := fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCancellation, got.State)
	assert.True(t, fs.Degraded())

	primary.down = false
	got, err = fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCancellation, got.State)
	assert.False(t, fs.Degraded())
}

func TestFailoverStoreWithoutPrimary(t *testing.T) {
	fs := NewFailoverStore(nil, NewMemoryStore(time.Hour, nil), discardLogger())
	assert.True(t, fs.Degraded())

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "p", Session{State: StateAwaitingService}))
	got, err := fs.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingService, got.State)
	require.NoError(t, fs.Reset(ctx, "p"))
}

// switchableStore fails every call while down is set.
type switchableStore struct {
	Store
	down bool
}

func (s *switchableStore) Get(ctx context.Context, phone string) (Session, error) {
	if s.down {
		return Session{}, errors.New("down")
	}
	return s.Store.Get(ctx, phone)
}

func (s *switchableStore) Set(ctx context.Context, phone string, sess Session) error {
	if s.down {
		return errors.New("down")
	}
	return s.Store.Set(ctx, phone, sess)
}

func (s *switchableStore) Reset(ctx context.Context, phone string) error {
	if s.down {
		return errors.New("down")
	}
	return s.Store.Reset(ctx, phone)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (Session, error) {
	return Session{}, errors.New("down")
}
func (brokenStore) Set(context.Context, string, Session) error { return errors.New("down") }
func (brokenStore) Reset(context.Context, string) error        { return errors.New("down") }

func TestFailoverStoreResetIgnoresPrimaryFailure(t *testing.T) {
	fs := NewFailoverStore(brokenStore{}, NewMemoryStore(time.Hour, nil), discardLogger())
	require.NoError(t, fs.Reset(context.Background(), "p"))
	assert.True(t, fs.Degraded())
}
