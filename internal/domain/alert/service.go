package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medalert/medalert/internal/domain/policy"
	"github.com/medalert/medalert/internal/platform/auth"
	"github.com/medalert/medalert/internal/platform/metrics"
	"github.com/medalert/medalert/internal/platform/realtime"
	"github.com/medalert/medalert/internal/platform/scheduler"
)

var (
	readRoles     = []string{auth.RoleOperator, auth.RoleNurse, auth.RoleDoctor, auth.RoleHeadDoctor}
	createRoles   = []string{auth.RoleOperator, auth.RoleNurse, auth.RoleDoctor, auth.RoleHeadDoctor}
	respondRoles  = []string{auth.RoleNurse, auth.RoleDoctor, auth.RoleHeadDoctor}
	escalateRoles = []string{auth.RoleHeadDoctor}
)

// Scheduler receives deadline changes after they are committed.
type Scheduler interface {
	Register(alertID uuid.UUID, deadline time.Time) error
	Cancel(alertID uuid.UUID)
}

// Service is the alert lifecycle engine. Every state change goes through it:
// it validates the transition, commits the alert together with its history
// and only then updates the scheduler and notifies live subscribers.
type Service struct {
	repo      Repository
	policy    *policy.Resolver
	publisher realtime.Publisher
	scheduler Scheduler
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	locks     *keyedMutex
	retry     RetryPolicy
	now       func() time.Time
}

func NewService(repo Repository, resolver *policy.Resolver, pub realtime.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		policy:    resolver,
		publisher: pub,
		logger:    logger.With().Str("component", "alert-engine").Logger(),
		locks:     newKeyedMutex(),
		retry:     DefaultRetryPolicy,
		now:       time.Now,
	}
}

func (s *Service) SetScheduler(sch Scheduler) { s.scheduler = sch }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }
func (s *Service) SetClock(now func() time.Time) { s.now = now }
func (s *Service) SetRetryPolicy(p RetryPolicy) { s.retry = p }
func (s *Service) SetPublisher(p realtime.Publisher) { s.publisher = p }

// clock returns the current time at the precision the store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func authorize(actor auth.Actor, hospitalID string, roles ...string) error {
	if !actor.HasAnyRole(roles...) {
		return ErrUnauthorized
	}
	if !actor.CanAccessHospital(hospitalID) {
		return ErrUnauthorized
	}
	return nil
}

// -- Create --

func (s *Service) CreateAlert(ctx context.Context, actor auth.Actor, in CreateInput) (*Alert, error) {
	if !actor.HasAnyRole(createRoles...) {
		return nil, ErrUnauthorized
	}
	if in.HospitalID == "" {
		in.HospitalID = actor.HospitalID
	}
	if in.DepartmentID != nil && *in.DepartmentID == "" {
		in.DepartmentID = nil
	}

	verr := &ValidationError{}
	if in.Room == "" {
		verr.add("room is required")
	}
	if in.Type == "" {
		verr.add("type is required")
	} else if !in.Type.Valid() {
		verr.add("type %q is not a known alert type", in.Type)
	}
	if in.Urgency < policy.MinUrgency || in.Urgency > policy.MaxUrgency {
		verr.add("urgency must be between %d and %d", policy.MinUrgency, policy.MaxUrgency)
	}
	if in.HospitalID == "" {
		verr.add("hospital_id is required")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if !actor.CanAccessHospital(in.HospitalID) {
		return nil, ErrUnauthorized
	}

	now := s.clock()
	a := &Alert{
		ID:           uuid.New(),
		Room:         in.Room,
		Type:         in.Type,
		Urgency:      in.Urgency,
		Description:  in.Description,
		PatientID:    in.PatientID,
		HospitalID:   in.HospitalID,
		DepartmentID: in.DepartmentID,
		Status:       StatusActive,
		Tier:         1,
		CreatedBy:    actor.UserID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d := s.decide(a, 1)
	a.ResponsibleRole = d.Role
	a.NextDeadline = deadlineFor(now, d)

	ev := newTimeline(a, KindCreated, actor.UserID, nil, map[string]interface{}{
		"type":             a.Type,
		"urgency":          a.Urgency,
		"room":             a.Room,
		"responsible_role": a.ResponsibleRole,
	})

	unlock := s.locks.Lock(a.ID)
	defer unlock()

	err := s.retry.retry(ctx, func() error {
		return s.repo.Create(ctx, a, ev)
	}, s.onRetry("create", a.ID))
	if err != nil {
		return nil, err
	}

	s.metrics.AlertCreated(string(a.Type))
	s.metrics.Transition(string(KindCreated))
	s.syncDeadline(a)
	s.publish(ctx, EventAlertCreated, a, eventData{Alert: a})

	s.logger.Info().
		Str("alert_id", a.ID.String()).
		Str("hospital_id", a.HospitalID).
		Str("type", string(a.Type)).
		Int("urgency", a.Urgency).
		Str("responsible_role", a.ResponsibleRole).
		Msg("alert created")
	return a, nil
}

// -- Transitions --

// mutation is the outcome of applying an operation to the current alert.
type mutation struct {
	next    *Alert
	changes Changes
	// appendOnly is set for acknowledgments that leave the alert unchanged.
	appendOnly *Acknowledgment
	eventType  string
	data       eventData
}

type eventData struct {
	Alert          *Alert          `json:"alert"`
	Acknowledgment *Acknowledgment `json:"acknowledgment,omitempty"`
	Escalation     *Escalation     `json:"escalation,omitempty"`
}

// mutate runs one read-modify-write cycle for id while holding the alert's
// lock. apply sees a fresh copy of the alert on every attempt; the store
// rejects the write if another writer committed first.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, apply func(cur *Alert, now time.Time) (*mutation, error)) (*Alert, *mutation, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		cur *Alert
		m   *mutation
	)
	err := s.retry.retry(ctx, func() error {
		var err error
		cur, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		m, err = apply(cur.clone(), s.clock())
		if err != nil {
			return err
		}
		if m.appendOnly != nil {
			return s.repo.AppendAcknowledgment(ctx, m.appendOnly, cur.Version)
		}
		return s.repo.Update(ctx, m.next, cur.Version, m.changes)
	}, s.onRetry(op, id))
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.RaceConflict(op)
		}
		return nil, nil, err
	}

	if m.appendOnly != nil {
		return cur, m, nil
	}

	s.syncDeadline(m.next)
	// mutations without a timeline entry change bookkeeping only
	if m.changes.Timeline != nil {
		s.metrics.Transition(string(m.changes.Timeline.Kind))
		s.publish(ctx, m.eventType, m.next, m.data)
	}
	return m.next, m, nil
}

// advance moves a to the status reached by kind and returns the timeline
// entry for the change.
func advance(a *Alert, kind EventKind, actor string, now time.Time, meta map[string]interface{}) (*TimelineEvent, error) {
	to, err := Next(a.Status, kind)
	if err != nil {
		return nil, err
	}
	from := a.Status
	a.Status = to
	a.Version++
	a.UpdatedAt = now
	return newTimeline(a, kind, actor, &from, meta), nil
}

// AcknowledgeAlert records that actor has taken responsibility. The first
// acknowledgment moves the alert to acknowledged and stops escalation; later
// ones are recorded without changing the alert.
func (s *Service) AcknowledgeAlert(ctx context.Context, actor auth.Actor, id uuid.UUID, in AckInput) (*Alert, error) {
	if in.EstimatedResponseMinutes != nil && *in.EstimatedResponseMinutes < 0 {
		return nil, &ValidationError{Problems: []string{"estimated_response_minutes must not be negative"}}
	}

	a, m, err := s.mutate(ctx, "acknowledge", id, func(a *Alert, now time.Time) (*mutation, error) {
		if err := authorize(actor, a.HospitalID, respondRoles...); err != nil {
			return nil, err
		}
		if in.ExpectedVersion != nil && *in.ExpectedVersion != a.Version {
			return nil, conflict("alert is at version %d, not %d", a.Version, *in.ExpectedVersion)
		}

		ack := &Acknowledgment{
			ID:                       uuid.New(),
			AlertID:                  a.ID,
			UserID:                   actor.UserID,
			Assessment:               in.Assessment,
			Action:                   in.Action,
			EstimatedResponseMinutes: in.EstimatedResponseMinutes,
			DelegateTo:               in.DelegateTo,
			Notes:                    in.Notes,
			CreatedAt:                now,
		}

		switch a.Status {
		case StatusResolved:
			return nil, conflict("alert is already resolved")
		case StatusAcknowledged, StatusInProgress:
			return &mutation{appendOnly: ack}, nil
		}

		prevTier := a.Tier
		ev, err := advance(a, KindAcknowledged, actor.UserID, now, map[string]interface{}{
			"tier":        prevTier,
			"delegate_to": in.DelegateTo,
		})
		if err != nil {
			return nil, err
		}
		if a.AcknowledgedAt == nil {
			a.AcknowledgedBy = &actor.UserID
			a.AcknowledgedAt = &now
			ack.First = true
		}
		if in.DelegateTo != nil && *in.DelegateTo != "" {
			a.AssignedTo = in.DelegateTo
		}
		a.NextDeadline = nil

		return &mutation{
			next:      a,
			changes:   Changes{Timeline: ev, Acknowledgment: ack},
			eventType: EventAlertAcknowledged,
			data:      eventData{Alert: a, Acknowledgment: ack},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if m.appendOnly != nil {
		s.logger.Info().Str("alert_id", id.String()).Str("user_id", actor.UserID).
			Msg("additional acknowledgment recorded")
		return a, nil
	}
	if ack := m.changes.Acknowledgment; ack != nil && a.AcknowledgedAt.Equal(ack.CreatedAt) {
		s.metrics.Acknowledged(a.AcknowledgedAt.Sub(a.CreatedAt))
	}
	s.logger.Info().Str("alert_id", id.String()).Str("user_id", actor.UserID).
		Int64("version", a.Version).Msg("alert acknowledged")
	return a, nil
}

// DelegateAlert hands an acknowledged alert to another user.
func (s *Service) DelegateAlert(ctx context.Context, actor auth.Actor, id uuid.UUID, toUserID string) (*Alert, error) {
	if toUserID == "" {
		return nil, &ValidationError{Problems: []string{"delegate_to is required"}}
	}
	a, _, err := s.mutate(ctx, "delegate", id, func(a *Alert, now time.Time) (*mutation, error) {
		if err := authorize(actor, a.HospitalID, respondRoles...); err != nil {
			return nil, err
		}
		prev := a.AssignedTo
		ev, err := advance(a, KindDelegated, actor.UserID, now, map[string]interface{}{
			"from": prev,
			"to":   toUserID,
		})
		if err != nil {
			return nil, err
		}
		a.AssignedTo = &toUserID
		return &mutation{
			next:      a,
			changes:   Changes{Timeline: ev},
			eventType: EventAlertDelegated,
			data:      eventData{Alert: a},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", id.String()).Str("delegate_to", toUserID).Msg("alert delegated")
	return a, nil
}

// StartAlert marks an acknowledged alert as being worked on.
func (s *Service) StartAlert(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Alert, error) {
	a, _, err := s.mutate(ctx, "start", id, func(a *Alert, now time.Time) (*mutation, error) {
		if err := authorize(actor, a.HospitalID, respondRoles...); err != nil {
			return nil, err
		}
		ev, err := advance(a, KindInProgress, actor.UserID, now, nil)
		if err != nil {
			return nil, err
		}
		return &mutation{
			next:      a,
			changes:   Changes{Timeline: ev},
			eventType: EventAlertInProgress,
			data:      eventData{Alert: a},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", id.String()).Msg("alert in progress")
	return a, nil
}

// ResolveAlert closes an alert. Resolution is terminal.
func (s *Service) ResolveAlert(ctx context.Context, actor auth.Actor, id uuid.UUID, notes *string) (*Alert, error) {
	a, _, err := s.mutate(ctx, "resolve", id, func(a *Alert, now time.Time) (*mutation, error) {
		if err := authorize(actor, a.HospitalID, respondRoles...); err != nil {
			return nil, err
		}
		if a.Status == StatusResolved {
			return nil, conflict("alert is already resolved")
		}
		ev, err := advance(a, KindResolved, actor.UserID, now, map[string]interface{}{
			"tier": a.Tier,
		})
		if err != nil {
			return nil, err
		}
		a.ResolvedBy = &actor.UserID
		a.ResolvedAt = &now
		a.ResolutionNotes = notes
		a.NextDeadline = nil
		ttr := int(now.Sub(a.CreatedAt) / time.Second)
		a.TimeToResolve = &ttr
		if a.AcknowledgedAt != nil {
			tta := int(a.AcknowledgedAt.Sub(a.CreatedAt) / time.Second)
			a.TimeToAcknowledge = &tta
		}
		return &mutation{
			next:      a,
			changes:   Changes{Timeline: ev},
			eventType: EventAlertResolved,
			data:      eventData{Alert: a},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Resolved(a.ResolvedAt.Sub(a.CreatedAt))
	s.logger.Info().Str("alert_id", id.String()).Str("user_id", actor.UserID).Msg("alert resolved")
	return a, nil
}

// EscalateAlert moves an unacknowledged alert to the next tier. Deadline
// escalations come from the scheduler and are only applied if the alert
// still carries the deadline the scheduler saw and it has elapsed.
func (s *Service) EscalateAlert(ctx context.Context, actor auth.Actor, id uuid.UUID, in EscalateInput) (*Alert, error) {
	switch in.Reason {
	case ReasonDeadlineElapsed:
		if !actor.HasAnyRole(auth.RoleSystem) {
			return nil, ErrUnauthorized
		}
	case ReasonManual:
	default:
		return nil, &ValidationError{Problems: []string{"reason must be deadline_elapsed or manual"}}
	}

	a, m, err := s.mutate(ctx, "escalate", id, func(a *Alert, now time.Time) (*mutation, error) {
		if in.Reason == ReasonManual {
			if err := authorize(actor, a.HospitalID, escalateRoles...); err != nil {
				return nil, err
			}
		}
		if in.ExpectedVersion != nil && *in.ExpectedVersion != a.Version {
			return nil, conflict("alert is at version %d, not %d", a.Version, *in.ExpectedVersion)
		}

		switch a.Status {
		case StatusResolved:
			return nil, conflict("alert is already resolved")
		case StatusAcknowledged:
			return nil, conflict("alert has been acknowledged")
		}
		if in.Reason == ReasonDeadlineElapsed {
			if !a.Status.Pending() || a.NextDeadline == nil {
				return nil, conflict("alert has no pending deadline")
			}
			if in.ExpectedDeadline != nil && !a.NextDeadline.Equal(*in.ExpectedDeadline) {
				return nil, conflict("deadline moved to %s", a.NextDeadline.Format(time.RFC3339Nano))
			}
			if now.Before(*a.NextDeadline) {
				return nil, conflict("deadline has not elapsed")
			}
		}

		cur := s.decide(a, a.Tier)
		if cur.Final {
			return nil, fmt.Errorf("%w beyond tier %d", errNoFurtherTier, a.Tier)
		}
		next := s.decide(a, a.Tier+1)

		rec := &Escalation{
			ID:          uuid.New(),
			AlertID:     a.ID,
			FromTier:    a.Tier,
			ToTier:      a.Tier + 1,
			FromRole:    a.ResponsibleRole,
			ToRole:      next.Role,
			Reason:      in.Reason,
			TriggeredBy: actor.UserID,
			CreatedAt:   now,
		}
		ev, err := advance(a, KindEscalated, actor.UserID, now, map[string]interface{}{
			"reason":    in.Reason,
			"from_tier": rec.FromTier,
			"to_tier":   rec.ToTier,
			"to_role":   rec.ToRole,
		})
		if err != nil {
			return nil, err
		}
		a.Tier = next.Tier
		a.EscalationCount++
		a.ResponsibleRole = next.Role
		a.NextDeadline = deadlineFor(now, next)

		return &mutation{
			next:      a,
			changes:   Changes{Timeline: ev, Escalation: rec},
			eventType: EventAlertEscalated,
			data:      eventData{Alert: a, Escalation: rec},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Escalation(string(in.Reason))
	s.logger.Warn().
		Str("alert_id", id.String()).
		Str("reason", string(in.Reason)).
		Int("from_tier", m.changes.Escalation.FromTier).
		Int("to_tier", a.Tier).
		Str("responsible_role", a.ResponsibleRole).
		Msg("alert escalated")
	return a, nil
}

// EscalateDue is called by the scheduler for an elapsed deadline. Outcomes
// that make the deadline moot are swallowed so the scheduler drops the entry;
// anything else is returned so it is retried.
func (s *Service) EscalateDue(ctx context.Context, id uuid.UUID, deadline time.Time) error {
	_, err := s.EscalateAlert(ctx, auth.SystemActor(), id, EscalateInput{
		Reason:           ReasonDeadlineElapsed,
		ExpectedDeadline: &deadline,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition):
		s.logger.Debug().Err(err).Str("alert_id", id.String()).Msg("dropping deadline")
		return nil
	case errors.Is(err, errNoFurtherTier):
		return s.settleDeadline(ctx, id, deadline)
	case errors.Is(err, ErrConflict):
		s.logger.Debug().Err(err).Str("alert_id", id.String()).Msg("stale deadline")
		s.reschedule(ctx, id)
		return nil
	}
	return err
}

// settleDeadline clears an elapsed deadline on an alert that already sits at
// the last tier of its policy, which happens when the policy loses tiers
// while the alert is open. The alert stays open with its current role.
func (s *Service) settleDeadline(ctx context.Context, id uuid.UUID, deadline time.Time) error {
	a, _, err := s.mutate(ctx, "settle", id, func(a *Alert, now time.Time) (*mutation, error) {
		if !a.Status.Pending() || a.NextDeadline == nil || !a.NextDeadline.Equal(deadline) {
			return nil, conflict("deadline moved")
		}
		if !s.decide(a, a.Tier).Final {
			return nil, conflict("tier %d can escalate again", a.Tier)
		}
		a.NextDeadline = nil
		a.Version++
		a.UpdatedAt = now
		return &mutation{next: a}, nil
	})
	switch {
	case err == nil:
		s.logger.Warn().
			Str("alert_id", id.String()).
			Int("tier", a.Tier).
			Str("responsible_role", a.ResponsibleRole).
			Msg("deadline elapsed at the last tier, alert left open")
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrConflict):
		s.reschedule(ctx, id)
		return nil
	}
	return err
}

// reschedule re-registers whatever deadline the store currently holds for id.
func (s *Service) reschedule(ctx context.Context, id uuid.UUID) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return
	}
	if a.Status.Pending() && a.NextDeadline != nil {
		s.syncDeadline(a)
	}
}

// PendingDeadlines lists the deadlines the scheduler should be tracking.
func (s *Service) PendingDeadlines(ctx context.Context) ([]scheduler.Entry, error) {
	return s.repo.ListPendingDeadlines(ctx)
}

// -- Queries --

func (s *Service) GetAlert(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a.HospitalID, readRoles...); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAlertDetail(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Detail, error) {
	a, err := s.GetAlert(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Alert: a}
	if d.Timeline, err = s.repo.ListTimeline(ctx, id); err != nil {
		return nil, err
	}
	if d.Acknowledgments, err = s.repo.ListAcknowledgments(ctx, id); err != nil {
		return nil, err
	}
	if d.Escalations, err = s.repo.ListEscalations(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// ListAlerts lists alerts visible to actor. Hospital-scoped actors only ever
// see their own hospital.
func (s *Service) ListAlerts(ctx context.Context, actor auth.Actor, f ListFilter, limit, offset int) ([]*Alert, int, error) {
	if !actor.HasAnyRole(readRoles...) {
		return nil, 0, ErrUnauthorized
	}
	if f.HospitalID == "" {
		f.HospitalID = actor.HospitalID
	}
	if f.HospitalID != "" && !actor.CanAccessHospital(f.HospitalID) {
		return nil, 0, ErrUnauthorized
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, &ValidationError{Problems: []string{"unknown status " + string(st)}}
		}
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) ListTimeline(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*TimelineEvent, error) {
	if _, err := s.GetAlert(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListTimeline(ctx, id)
}

func (s *Service) ListAcknowledgments(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*Acknowledgment, error) {
	if _, err := s.GetAlert(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListAcknowledgments(ctx, id)
}

func (s *Service) ListEscalations(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*Escalation, error) {
	if _, err := s.GetAlert(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListEscalations(ctx, id)
}

// -- helpers --

func (s *Service) decide(a *Alert, tier int) policy.Decision {
	return s.policy.Resolve(policy.Query{
		HospitalID:   a.HospitalID,
		DepartmentID: a.Department(),
		AlertType:    string(a.Type),
		Urgency:      a.Urgency,
		Tier:         tier,
	})
}

func deadlineFor(now time.Time, d policy.Decision) *time.Time {
	if d.Final {
		return nil
	}
	t := now.Add(d.Window)
	return &t
}

func newTimeline(a *Alert, kind EventKind, actor string, from *Status, meta map[string]interface{}) *TimelineEvent {
	ev := &TimelineEvent{
		ID:         uuid.New(),
		AlertID:    a.ID,
		Kind:       kind,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   a.Status,
		Version:    a.Version,
		CreatedAt:  a.UpdatedAt,
	}
	if len(meta) > 0 {
		ev.Metadata, _ = json.Marshal(meta)
	}
	return ev
}

// syncDeadline mirrors a committed alert's deadline into the scheduler.
func (s *Service) syncDeadline(a *Alert) {
	if a.NextDeadline == nil {
		if s.scheduler != nil {
			s.scheduler.Cancel(a.ID)
		}
		return
	}
	if s.scheduler == nil {
		s.logger.Error().Err(ErrSchedulerUnavailable).Str("alert_id", a.ID.String()).
			Msg("deadline not registered")
		return
	}
	if err := s.scheduler.Register(a.ID, *a.NextDeadline); err != nil {
		s.logger.Error().Err(errors.Join(ErrSchedulerUnavailable, err)).
			Str("alert_id", a.ID.String()).
			Time("deadline", *a.NextDeadline).
			Msg("deadline not registered, will be picked up on resync")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, a *Alert, data eventData) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("failed to marshal event")
		return
	}
	ev := realtime.Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		AlertID:      a.ID.String(),
		HospitalID:   a.HospitalID,
		DepartmentID: a.Department(),
		Urgency:      a.Urgency,
		Status:       string(a.Status),
		Version:      a.Version,
		Timestamp:    a.UpdatedAt,
		Data:         payload,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("alert_id", a.ID.String()).Str("type", eventType).Msg("publish failed")
	}
}

func (s *Service) onRetry(op string, id uuid.UUID) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		s.metrics.StoreRetry()
		s.logger.Warn().Err(err).
			Str("operation", op).
			Str("alert_id", id.String()).
			Dur("backoff", wait).
			Msg("store write failed, retrying")
	}
}
