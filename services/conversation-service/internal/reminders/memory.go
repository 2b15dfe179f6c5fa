package reminders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryScheduler holds jobs in process. Nothing delivers them; it backs
// tests and runs without a database.
type MemoryScheduler struct {
	mu   sync.Mutex
	now  func() time.Time
	jobs map[string]Job
}

var (
	_ Scheduler = (*MemoryScheduler)(nil)
	_ Enqueuer  = (*MemoryScheduler)(nil)
)

func NewMemoryScheduler(now func() time.Time) *MemoryScheduler {
	if now == nil {
		now = time.Now
	}
	return &MemoryScheduler{now: now, jobs: map[string]Job{}}
}

func (s *MemoryScheduler) Schedule(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.FireAt.Before(s.now()) {
		return nil
	}
	s.jobs[job.AppointmentID] = job
	return nil
}

func (s *MemoryScheduler) Enqueue(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.AppointmentID]; !ok {
		s.jobs[job.AppointmentID] = job
	}
	return nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, appointmentID)
	return nil
}

func (s *MemoryScheduler) Pending(appointmentID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[appointmentID]
	return j, ok
}

// Jobs returns pending jobs ordered by fire time.
func (s *MemoryScheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].FireAt.Equal(out[k].FireAt) {
			return out[i].FireAt.Before(out[k].FireAt)
		}
		return out[i].AppointmentID < out[k].AppointmentID
	})
	return out
}
