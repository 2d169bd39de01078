package alert

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from Status
		kind EventKind
		want Status
		ok   bool
	}{
		{StatusActive, KindAcknowledged, StatusAcknowledged, true},
		{StatusActive, KindEscalated, StatusEscalated, true},
		{StatusActive, KindResolved, "", false},
		{StatusActive, KindInProgress, "", false},
		{StatusActive, KindDelegated, "", false},
		{StatusAcknowledged, KindDelegated, StatusAcknowledged, true},
		{StatusAcknowledged, KindInProgress, StatusInProgress, true},
		{StatusAcknowledged, KindResolved, StatusResolved, true},
		{StatusAcknowledged, KindEscalated, "", false},
		{StatusInProgress, KindResolved, StatusResolved, true},
		{StatusInProgress, KindEscalated, StatusEscalated, true},
		{StatusInProgress, KindAcknowledged, "", false},
		{StatusEscalated, KindAcknowledged, StatusAcknowledged, true},
		{StatusEscalated, KindEscalated, StatusEscalated, true},
		{StatusEscalated, KindResolved, StatusResolved, true},
		{StatusEscalated, KindInProgress, "", false},
		{StatusResolved, KindAcknowledged, "", false},
		{StatusResolved, KindEscalated, "", false},
		{StatusResolved, KindResolved, "", false},
		{"archived", KindAcknowledged, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.kind), func(t *testing.T) {
			got, err := Next(tt.from, tt.kind)
			if tt.ok {
				if err != nil || got != tt.want {
					t.Errorf("Next = %s, %v; want %s", got, err, tt.want)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %s, %v", got, err)
			}
			if CanTransition(tt.from, tt.kind) {
				t.Error("CanTransition disagrees with Next")
			}
		})
	}
}

func TestResolvedIsTerminal(t *testing.T) {
	for _, k := range []EventKind{KindCreated, KindAcknowledged, KindDelegated, KindInProgress, KindEscalated, KindResolved} {
		if CanTransition(StatusResolved, k) {
			t.Errorf("%s allowed from resolved", k)
		}
	}
}

func TestReplay(t *testing.T) {
	active := StatusActive
	ev := func(kind EventKind, to Status) *TimelineEvent {
		return &TimelineEvent{Kind: kind, ToStatus: to, FromStatus: &active}
	}
	created := &TimelineEvent{Kind: KindCreated, ToStatus: StatusActive}

	status, err := Replay([]*TimelineEvent{
		created,
		ev(KindEscalated, StatusEscalated),
		ev(KindEscalated, StatusEscalated),
		ev(KindAcknowledged, StatusAcknowledged),
		ev(KindResolved, StatusResolved),
	})
	if err != nil || status != StatusResolved {
		t.Errorf("Replay = %s, %v", status, err)
	}

	bad := [][]*TimelineEvent{
		nil,
		{ev(KindAcknowledged, StatusAcknowledged)},
		{created, ev(KindResolved, StatusResolved)},
		{created, ev(KindAcknowledged, StatusInProgress)},
	}
	for i, events := range bad {
		if _, err := Replay(events); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("case %d: expected ErrInvalidTransition, got %v", i, err)
		}
	}
}
