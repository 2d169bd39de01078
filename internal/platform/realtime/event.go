package realtime

import (
	"encoding/json"
	"time"
)

// Control frame types sent on a live connection alongside domain events.
const (
	TypeConnectionReady = "connection.ready"
	TypeResyncRequired  = "connection.resync_required"
)

// Event is a committed lifecycle change fanned out to live subscribers.
// Control frames reuse the shape with only Type, ID and Timestamp set.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AlertID      string          `json:"alert_id,omitempty"`
	HospitalID   string          `json:"hospital_id,omitempty"`
	DepartmentID string          `json:"department_id,omitempty"`
	Urgency      int             `json:"urgency,omitempty"`
	Status       string          `json:"status,omitempty"`
	Version      int64           `json:"version,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Filter selects the events a subscription receives. An empty HospitalID
// matches every hospital and is only handed out to global administrators.
type Filter struct {
	HospitalID   string
	DepartmentID string
	// MaxUrgency keeps events at this urgency or more severe (numerically
	// lower). Zero disables the filter.
	MaxUrgency int
}

func (f Filter) Matches(ev Event) bool {
	if f.HospitalID != "" && f.HospitalID != ev.HospitalID {
		return false
	}
	if f.DepartmentID != "" && f.DepartmentID != ev.DepartmentID {
		return false
	}
	if f.MaxUrgency > 0 && ev.Urgency > f.MaxUrgency {
		return false
	}
	return true
}
