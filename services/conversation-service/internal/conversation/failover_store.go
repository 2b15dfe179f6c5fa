package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrDegraded is reported by Check while sessions live only in process.
var ErrDegraded = errors.New("conversation store degraded: using process-local fallback")

// FailoverStore serves from primary and falls back to a local store when the
// primary fails. While degraded, conversations are not shared between
// instances; Degraded and Check expose that.
//
// A write that only reached the fallback stays authoritative for that phone
// until it has been replayed to the primary, so a conversation finished or
// advanced during an outage never reverts to the primary's older copy.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *slog.Logger
	degraded atomic.Bool

	mu        sync.Mutex
	listeners []func(degraded bool)

	localMu sync.Mutex
	local   map[string]bool // phone -> written to the fallback only
}

var _ Store = (*FailoverStore)(nil)

// NewFailoverStore wraps primary. A nil primary starts, and stays, degraded.
func NewFailoverStore(primary Store, fallback Store, logger *slog.Logger) *FailoverStore {
	s := &FailoverStore{primary: primary, fallback: fallback, logger: logger, local: map[string]bool{}}
	if primary == nil {
		s.degraded.Store(true)
	}
	return s
}

// OnStateChange registers fn to be called with the current state and on every
// later transition.
func (s *FailoverStore) OnStateChange(fn func(degraded bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	fn(s.Degraded())
}

func (s *FailoverStore) Degraded() bool {
	return s.degraded.Load()
}

// Check is a readiness probe.
func (s *FailoverStore) Check(context.Context) error {
	if s.Degraded() {
		return ErrDegraded
	}
	return nil
}

func (s *FailoverStore) Get(ctx context.Context, phone string) (Session, error) {
	if s.primary != nil && s.isLocal(phone) {
		return s.replay(ctx, phone)
	}
	if s.primary != nil {
		sess, err := s.primary.Get(ctx, phone)
		if err == nil {
			s.recovered()
			return sess, nil
		}
		s.failed("get", err)
	}
	return s.fallback.Get(ctx, phone)
}

func (s *FailoverStore) Set(ctx context.Context, phone string, sess Session) error {
	if s.primary != nil {
		err := s.primary.Set(ctx, phone, sess)
		if err == nil {
			s.recovered()
			s.clearLocal(ctx, phone)
			return nil
		}
		s.failed("set", err)
		s.markLocal(phone)
	}
	return s.fallback.Set(ctx, phone, sess)
}

func (s *FailoverStore) Reset(ctx context.Context, phone string) error {
	fallbackErr := s.fallback.Reset(ctx, phone)
	if s.primary == nil {
		return fallbackErr
	}
	if err := s.primary.Reset(ctx, phone); err != nil {
		s.failed("reset", err)
		s.markLocal(phone)
		return fallbackErr
	}
	s.recovered()
	s.clearLocal(ctx, phone)
	return nil
}

// replay pushes the fallback's view of phone to the primary. An idle or
// expired fallback session replays as a reset. Until the primary accepts it,
// the fallback keeps answering.
func (s *FailoverStore) replay(ctx context.Context, phone string) (Session, error) {
	sess, err := s.fallback.Get(ctx, phone)
	if err != nil {
		return Session{}, err
	}
	if sess.State == StateIdle {
		err = s.primary.Reset(ctx, phone)
	} else {
		err = s.primary.Set(ctx, phone, sess)
	}
	if err != nil {
		s.failed("replay", err)
		return sess, nil
	}
	s.recovered()
	s.clearLocal(ctx, phone)
	return sess, nil
}

func (s *FailoverStore) isLocal(phone string) bool {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	return s.local[phone]
}

func (s *FailoverStore) markLocal(phone string) {
	s.localMu.Lock()
	s.local[phone] = true
	s.localMu.Unlock()
}

// clearLocal drops the fallback copy once the primary holds the latest write.
func (s *FailoverStore) clearLocal(ctx context.Context, phone string) {
	s.localMu.Lock()
	delete(s.local, phone)
	s.localMu.Unlock()
	_ = s.fallback.Reset(ctx, phone)
}

func (s *FailoverStore) failed(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("conversation store degraded, using local fallback", "op", op, "err", err)
		s.notify(true)
		return
	}
	s.logger.Debug("conversation store primary still failing", "op", op, "err", err)
}

func (s *FailoverStore) recovered() {
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("conversation store primary recovered")
		s.notify(false)
	}
}

func (s *FailoverStore) notify(degraded bool) {
	s.mu.Lock()
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(degraded)
	}
}
