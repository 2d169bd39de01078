package alert

import (
	"context"

	"github.com/google/uuid"

	"github.com/medalert/medalert/internal/platform/scheduler"
)

// Changes are the append-only records committed together with an alert
// update.
type Changes struct {
	Timeline       *TimelineEvent
	Acknowledgment *Acknowledgment
	Escalation     *Escalation
}

// Repository is the alert store. Writes are atomic: an alert row and its
// history records are committed together or not at all.
type Repository interface {
	Create(ctx context.Context, a *Alert, ev *TimelineEvent) error
	// GetByID returns ErrNotFound for an unknown id.
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// Update stores a only if the stored version still equals prevVersion,
	// returning ErrConflict otherwise.
	Update(ctx context.Context, a *Alert, prevVersion int64, ch Changes) error
	// AppendAcknowledgment records an acknowledgment that does not change the
	// alert, provided its version is still version.
	AppendAcknowledgment(ctx context.Context, ack *Acknowledgment, version int64) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Alert, int, error)
	// ListPendingDeadlines returns every open alert that has a deadline.
	ListPendingDeadlines(ctx context.Context) ([]scheduler.Entry, error)
	ListTimeline(ctx context.Context, alertID uuid.UUID) ([]*TimelineEvent, error)
	ListAcknowledgments(ctx context.Context, alertID uuid.UUID) ([]*Acknowledgment, error)
	ListEscalations(ctx context.Context, alertID uuid.UUID) ([]*Escalation, error)
}
