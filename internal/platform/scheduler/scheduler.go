// Package scheduler tracks escalation deadlines and fires an escalation for
// every alert whose deadline elapses. It holds no alert state of its own:
// the store is the source of truth and the in-memory index is rebuilt from it
// on startup and on every resync.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medalert/medalert/internal/platform/metrics"
)

// ErrUnavailable is returned by Register once the scheduler has stopped.
var ErrUnavailable = errors.New("escalation scheduler unavailable")

// Escalator performs the escalation for a due deadline. It must treat a
// deadline that no longer matches the alert as a no-op and return nil; a
// non-nil error means the attempt failed transiently and is retried on the
// next poll.
type Escalator interface {
	EscalateDue(ctx context.Context, alertID uuid.UUID, deadline time.Time) error
}

// PendingSource lists every open alert that still has an escalation deadline.
type PendingSource interface {
	PendingDeadlines(ctx context.Context) ([]Entry, error)
}

type Scheduler struct {
	PollInterval   time.Duration
	ResyncInterval time.Duration
	Workers        int

	escalator Escalator
	source    PendingSource
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	idx     *index
	stopped bool
	// touched records ids registered or cancelled while a resync is reading
	// the store, so the snapshot does not overwrite newer information.
	touched map[uuid.UUID]struct{}
}

func New(escalator Escalator, source PendingSource, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		PollInterval:   5 * time.Second,
		ResyncInterval: time.Minute,
		Workers:        8,
		escalator:      escalator,
		source:         source,
		logger:         logger.With().Str("component", "escalation-scheduler").Logger(),
		now:            time.Now,
		idx:            newIndex(),
	}
}

func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock replaces the time source used to decide which deadlines are due.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Register schedules or replaces the deadline for alertID.
func (s *Scheduler) Register(alertID uuid.UUID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrUnavailable
	}
	s.idx.set(alertID, deadline)
	s.touch(alertID)
	s.metrics.PendingDeadlines(s.idx.len())
	return nil
}

// Cancel drops any deadline for alertID. Cancelling twice is harmless.
func (s *Scheduler) Cancel(alertID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.remove(alertID)
	s.touch(alertID)
	s.metrics.PendingDeadlines(s.idx.len())
}

func (s *Scheduler) touch(id uuid.UUID) {
	if s.touched != nil {
		s.touched[id] = struct{}{}
	}
}

// Deadline reports the registered deadline for alertID.
func (s *Scheduler) Deadline(alertID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.get(alertID)
}

// Len is the number of tracked deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.len()
}

// Stopped reports whether Start has returned.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Start rehydrates from the store and then polls for due deadlines until ctx
// is cancelled. It returns nil on cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Rehydrate(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial rehydrate failed, relying on resync")
	}

	pollTicker := time.NewTicker(s.PollInterval)
	resyncTicker := time.NewTicker(s.ResyncInterval)
	defer pollTicker.Stop()
	defer resyncTicker.Stop()

	s.logger.Info().
		Dur("poll_interval", s.PollInterval).
		Dur("resync_interval", s.ResyncInterval).
		Int("workers", s.Workers).
		Msg("escalation scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.logger.Info().Msg("escalation scheduler stopped")
			return nil
		case <-pollTicker.C:
			s.Poll(ctx)
		case <-resyncTicker.C:
			if err := s.Rehydrate(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("resync failed")
			}
		}
	}
}

// Poll escalates every deadline that is due now and returns how many were
// dispatched. Failed escalations are put back with their original deadline
// unless a newer registration arrived in the meantime.
func (s *Scheduler) Poll(ctx context.Context) int {
	start := time.Now()
	now := s.now()

	s.mu.Lock()
	due := s.idx.popDue(now)
	s.metrics.PendingDeadlines(s.idx.len())
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, e := range due {
		e := e
		g.Go(func() error {
			if err := s.escalator.EscalateDue(ctx, e.AlertID, e.Deadline); err != nil {
				s.metrics.EscalationFailure()
				s.logger.Warn().Err(err).
					Str("alert_id", e.AlertID.String()).
					Time("deadline", e.Deadline).
					Msg("escalation failed, re-queued")
				s.requeue(e)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.Poll(time.Since(start))
	s.logger.Debug().Int("due", len(due)).Msg("poll complete")
	return len(due)
}

func (s *Scheduler) requeue(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idx.get(e.AlertID); ok {
		return
	}
	s.idx.set(e.AlertID, e.Deadline)
	s.metrics.PendingDeadlines(s.idx.len())
}

// Rehydrate replaces the index with the deadlines recorded in the store.
// Registrations and cancellations that happen while the store is being read
// are kept.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	s.mu.Lock()
	s.touched = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	entries, err := s.source.PendingDeadlines(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	touched := s.touched
	s.touched = nil
	if err != nil {
		return err
	}

	next := newIndex()
	for _, e := range entries {
		if _, ok := touched[e.AlertID]; ok {
			continue
		}
		next.set(e.AlertID, e.Deadline)
	}
	for id := range touched {
		if d, ok := s.idx.get(id); ok {
			next.set(id, d)
		}
	}
	s.idx = next
	s.metrics.PendingDeadlines(next.len())
	s.logger.Debug().Int("pending", next.len()).Msg("deadlines rehydrated")
	return nil
}
