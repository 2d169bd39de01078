package alert

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medalert/medalert/internal/domain/policy"
	"github.com/medalert/medalert/internal/platform/auth"
	"github.com/medalert/medalert/internal/platform/realtime"
	"github.com/medalert/medalert/internal/platform/scheduler"
)

var errStoreDown = errors.New("connection reset by peer")

// -- Mock Repository --

type mockRepo struct {
	mu          sync.Mutex
	alerts      map[uuid.UUID]*Alert
	timeline    map[uuid.UUID][]*TimelineEvent
	acks        map[uuid.UUID][]*Acknowledgment
	escalations map[uuid.UUID][]*Escalation

	// failUpdates makes the next n writes fail with a transient error.
	failUpdates int
	// beforeUpdate runs once, before the version check of the next Update.
	beforeUpdate func()
	updates      int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		alerts:      make(map[uuid.UUID]*Alert),
		timeline:    make(map[uuid.UUID][]*TimelineEvent),
		acks:        make(map[uuid.UUID][]*Acknowledgment),
		escalations: make(map[uuid.UUID][]*Escalation),
	}
}

func (m *mockRepo) transient() bool {
	if m.failUpdates > 0 {
		m.failUpdates--
		return true
	}
	return false
}

func (m *mockRepo) Create(_ context.Context, a *Alert, ev *TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transient() {
		return errStoreDown
	}
	m.alerts[a.ID] = a.clone()
	m.timeline[a.ID] = append(m.timeline[a.ID], ev)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (m *mockRepo) Update(_ context.Context, a *Alert, prevVersion int64, ch Changes) error {
	m.mu.Lock()
	hook := m.beforeUpdate
	m.beforeUpdate = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.transient() {
		return errStoreDown
	}
	stored, ok := m.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != prevVersion {
		return conflict("version %d is no longer current", prevVersion)
	}
	m.alerts[a.ID] = a.clone()
	if ch.Timeline != nil {
		m.timeline[a.ID] = append(m.timeline[a.ID], ch.Timeline)
	}
	if ch.Acknowledgment != nil {
		m.acks[a.ID] = append(m.acks[a.ID], ch.Acknowledgment)
	}
	if ch.Escalation != nil {
		m.escalations[a.ID] = append(m.escalations[a.ID], ch.Escalation)
	}
	return nil
}

func (m *mockRepo) AppendAcknowledgment(_ context.Context, ack *Acknowledgment, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transient() {
		return errStoreDown
	}
	stored, ok := m.alerts[ack.AlertID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != version {
		return conflict("version %d is no longer current", version)
	}
	m.acks[ack.AlertID] = append(m.acks[ack.AlertID], ack)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Alert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alert
	for _, a := range m.alerts {
		if f.HospitalID != "" && a.HospitalID != f.HospitalID {
			continue
		}
		if f.DepartmentID != "" && a.Department() != f.DepartmentID {
			continue
		}
		if f.MaxUrgency > 0 && a.Urgency > f.MaxUrgency {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, s := range f.Statuses {
				if a.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ListPendingDeadlines(_ context.Context) ([]scheduler.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduler.Entry
	for _, a := range m.alerts {
		if a.Status.Pending() && a.NextDeadline != nil {
			out = append(out, scheduler.Entry{AlertID: a.ID, Deadline: *a.NextDeadline})
		}
	}
	return out, nil
}

func (m *mockRepo) ListTimeline(_ context.Context, id uuid.UUID) ([]*TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*TimelineEvent(nil), m.timeline[id]...), nil
}

func (m *mockRepo) ListAcknowledgments(_ context.Context, id uuid.UUID) ([]*Acknowledgment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Acknowledgment(nil), m.acks[id]...), nil
}

func (m *mockRepo) ListEscalations(_ context.Context, id uuid.UUID) ([]*Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Escalation(nil), m.escalations[id]...), nil
}

// -- Fakes --

type fakeScheduler struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]time.Time
	fail      bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{deadlines: make(map[uuid.UUID]time.Time)}
}

func (f *fakeScheduler) Register(id uuid.UUID, d time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return scheduler.ErrUnavailable
	}
	f.deadlines[id] = d
	return nil
}

func (f *fakeScheduler) Cancel(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deadlines, id)
}

func (f *fakeScheduler) deadline(id uuid.UUID) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deadlines[id]
	return d, ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// -- Fixture --

type fixture struct {
	svc   *Service
	repo  *mockRepo
	sched *fakeScheduler
	pub   *fakePublisher
	clock *testClock
}

func newFixture() *fixture {
	repo := newMockRepo()
	pub := &fakePublisher{}
	sched := newFakeScheduler()
	clock := &testClock{now: time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)}

	svc := NewService(repo, policy.DefaultResolver(), pub, zerolog.Nop())
	svc.SetScheduler(sched)
	svc.SetClock(clock.Now)
	svc.SetRetryPolicy(RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	return &fixture{svc: svc, repo: repo, sched: sched, pub: pub, clock: clock}
}

const hospital = "st-marys"

var (
	operator   = auth.Actor{UserID: "op-1", Roles: []string{auth.RoleOperator}, HospitalID: hospital}
	nurse      = auth.Actor{UserID: "nurse-1", Roles: []string{auth.RoleNurse}, HospitalID: hospital}
	nurse2     = auth.Actor{UserID: "nurse-2", Roles: []string{auth.RoleNurse}, HospitalID: hospital}
	doctor     = auth.Actor{UserID: "doc-1", Roles: []string{auth.RoleDoctor}, HospitalID: hospital}
	headDoctor = auth.Actor{UserID: "head-1", Roles: []string{auth.RoleHeadDoctor}, HospitalID: hospital}
	outsider   = auth.Actor{UserID: "nurse-x", Roles: []string{auth.RoleNurse}, HospitalID: "elsewhere"}
)

func (f *fixture) create(t interface{ Fatalf(string, ...interface{}) }, typ AlertType, urgency int) *Alert {
	a, err := f.svc.CreateAlert(context.Background(), operator, CreateInput{
		Room:    "ICU-4",
		Type:    typ,
		Urgency: urgency,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	return a
}
