package alert

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusEscalated    Status = "escalated"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusInProgress, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Pending reports whether the alert is waiting for acknowledgment and may
// carry an escalation deadline.
func (s Status) Pending() bool { return s == StatusActive || s == StatusEscalated }

type AlertType string

const (
	TypeCardiacArrest    AlertType = "cardiac_arrest"
	TypeCodeBlue         AlertType = "code_blue"
	TypeFire             AlertType = "fire"
	TypeSecurity         AlertType = "security"
	TypeMedicalEmergency AlertType = "medical_emergency"
	TypeOther            AlertType = "other"
)

func (t AlertType) Valid() bool {
	switch t {
	case TypeCardiacArrest, TypeCodeBlue, TypeFire, TypeSecurity, TypeMedicalEmergency, TypeOther:
		return true
	}
	return false
}

// EventKind names a timeline entry. Each committed transition produces
// exactly one.
type EventKind string

const (
	KindCreated      EventKind = "created"
	KindAcknowledged EventKind = "acknowledged"
	KindDelegated    EventKind = "delegated"
	KindInProgress   EventKind = "in_progress"
	KindEscalated    EventKind = "escalated"
	KindResolved     EventKind = "resolved"
)

// Event types published to live subscribers.
const (
	EventAlertCreated      = "alert.created"
	EventAlertAcknowledged = "alert.acknowledged"
	EventAlertDelegated    = "alert.delegated"
	EventAlertInProgress   = "alert.in_progress"
	EventAlertEscalated    = "alert.escalated"
	EventAlertResolved     = "alert.resolved"
)

// EscalationReason records why an alert moved up a tier.
type EscalationReason string

const (
	ReasonDeadlineElapsed EscalationReason = "deadline_elapsed"
	ReasonManual          EscalationReason = "manual"
)

// Alert maps to the alert table.
type Alert struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Room              string     `db:"room" json:"room"`
	Type              AlertType  `db:"type" json:"type"`
	Urgency           int        `db:"urgency" json:"urgency"`
	Description       string     `db:"description" json:"description,omitempty"`
	PatientID         *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	HospitalID        string     `db:"hospital_id" json:"hospital_id"`
	DepartmentID      *string    `db:"department_id" json:"department_id,omitempty"`
	Status            Status     `db:"status" json:"status"`
	Tier              int        `db:"tier" json:"tier"`
	EscalationCount   int        `db:"escalation_count" json:"escalation_count"`
	ResponsibleRole   string     `db:"responsible_role" json:"responsible_role"`
	NextDeadline      *time.Time `db:"next_deadline" json:"next_deadline,omitempty"`
	CreatedBy         string     `db:"created_by" json:"created_by"`
	AcknowledgedBy    *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AssignedTo        *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	ResolvedBy        *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes   *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	TimeToAcknowledge *int       `db:"time_to_acknowledge" json:"time_to_acknowledge_seconds,omitempty"`
	TimeToResolve     *int       `db:"time_to_resolve" json:"time_to_resolve_seconds,omitempty"`
	Version           int64      `db:"version" json:"version"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Department returns the department id or "".
func (a *Alert) Department() string {
	if a.DepartmentID == nil {
		return ""
	}
	return *a.DepartmentID
}

func (a *Alert) clone() *Alert {
	c := *a
	return &c
}

// Acknowledgment maps to the alert_acknowledgment table.
type Acknowledgment struct {
	ID                       uuid.UUID `db:"id" json:"id"`
	AlertID                  uuid.UUID `db:"alert_id" json:"alert_id"`
	UserID                   string    `db:"user_id" json:"user_id"`
	Assessment               *string   `db:"assessment" json:"assessment,omitempty"`
	Action                   *string   `db:"action" json:"action,omitempty"`
	EstimatedResponseMinutes *int      `db:"estimated_response_minutes" json:"estimated_response_minutes,omitempty"`
	DelegateTo               *string   `db:"delegate_to" json:"delegate_to,omitempty"`
	Notes                    *string   `db:"notes" json:"notes,omitempty"`
	First                    bool      `db:"first" json:"first"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
}

// Escalation maps to the alert_escalation table.
type Escalation struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	AlertID     uuid.UUID        `db:"alert_id" json:"alert_id"`
	FromTier    int              `db:"from_tier" json:"from_tier"`
	ToTier      int              `db:"to_tier" json:"to_tier"`
	FromRole    string           `db:"from_role" json:"from_role"`
	ToRole      string           `db:"to_role" json:"to_role"`
	Reason      EscalationReason `db:"reason" json:"reason"`
	TriggeredBy string           `db:"triggered_by" json:"triggered_by"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// TimelineEvent maps to the alert_timeline table.
type TimelineEvent struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	AlertID    uuid.UUID       `db:"alert_id" json:"alert_id"`
	Kind       EventKind       `db:"kind" json:"kind"`
	Actor      string          `db:"actor" json:"actor"`
	FromStatus *Status         `db:"from_status" json:"from_status,omitempty"`
	ToStatus   Status          `db:"to_status" json:"to_status"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Version    int64           `db:"version" json:"version"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Detail is an alert with its full history.
type Detail struct {
	Alert           *Alert            `json:"alert"`
	Timeline        []*TimelineEvent  `json:"timeline"`
	Acknowledgments []*Acknowledgment `json:"acknowledgments"`
	Escalations     []*Escalation     `json:"escalations"`
}

// CreateInput is the request to raise a new alert.
type CreateInput struct {
	Room         string     `json:"room"`
	Type         AlertType  `json:"type"`
	Urgency      int        `json:"urgency"`
	Description  string     `json:"description"`
	PatientID    *uuid.UUID `json:"patient_id"`
	HospitalID   string     `json:"hospital_id"`
	DepartmentID *string    `json:"department_id"`
}

// AckInput is an acknowledgment. ExpectedVersion, when set, makes the
// acknowledgment fail with ErrConflict if the alert changed since the caller
// read it.
type AckInput struct {
	Assessment               *string `json:"assessment"`
	Action                   *string `json:"action"`
	EstimatedResponseMinutes *int    `json:"estimated_response_minutes"`
	DelegateTo               *string `json:"delegate_to"`
	Notes                    *string `json:"notes"`
	ExpectedVersion          *int64  `json:"expected_version"`
}

// EscalateInput describes an escalation request. The scheduler sets
// ExpectedDeadline to the deadline it observed; a manual escalation may set
// ExpectedVersion.
type EscalateInput struct {
	Reason           EscalationReason `json:"reason"`
	ExpectedDeadline *time.Time       `json:"-"`
	ExpectedVersion  *int64           `json:"expected_version"`
}

// ListFilter narrows ListAlerts. Zero values match everything.
type ListFilter struct {
	HospitalID   string
	DepartmentID string
	Statuses     []Status
	MaxUrgency   int
}
