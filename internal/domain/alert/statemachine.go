package alert

import "fmt"

// transitions is the complete lifecycle graph. A kind missing from a
// status's row is illegal from that status.
var transitions = map[Status]map[EventKind]Status{
	StatusActive: {
		KindAcknowledged: StatusAcknowledged,
		KindEscalated:    StatusEscalated,
	},
	StatusAcknowledged: {
		KindDelegated:  StatusAcknowledged,
		KindInProgress: StatusInProgress,
		KindResolved:   StatusResolved,
	},
	StatusInProgress: {
		KindResolved:  StatusResolved,
		KindEscalated: StatusEscalated,
	},
	StatusEscalated: {
		KindAcknowledged: StatusAcknowledged,
		KindEscalated:    StatusEscalated,
		KindResolved:     StatusResolved,
	},
	StatusResolved: {},
}

// Next returns the status reached by applying kind to from.
func Next(from Status, kind EventKind) (Status, error) {
	row, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	to, ok := row[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, kind, from)
	}
	return to, nil
}

// CanTransition reports whether kind is legal from status.
func CanTransition(from Status, kind EventKind) bool {
	_, err := Next(from, kind)
	return err == nil
}

// Replay reconstructs an alert's status from its ordered timeline. The first
// event must be the creation; every later event must be a legal transition
// whose recorded target matches the graph.
func Replay(events []*TimelineEvent) (Status, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("%w: empty timeline", ErrInvalidTransition)
	}
	first := events[0]
	if first.Kind != KindCreated || first.ToStatus != StatusActive {
		return "", fmt.Errorf("%w: timeline must start with creation", ErrInvalidTransition)
	}
	status := StatusActive
	for i, ev := range events[1:] {
		next, err := Next(status, ev.Kind)
		if err != nil {
			return "", fmt.Errorf("event %d: %w", i+1, err)
		}
		if ev.ToStatus != next {
			return "", fmt.Errorf("%w: event %d records %s, graph gives %s", ErrInvalidTransition, i+1, ev.ToStatus, next)
		}
		status = next
	}
	return status, nil
}
