// Package policy maps an alert's type, urgency and current escalation tier to
// the response window and the responsible role. Resolution is pure: a
// Resolver is compiled once from configuration and never mutated.
package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MinUrgency = 1
	MaxUrgency = 5
)

// DefaultWindows are the response windows per urgency level before any
// hospital override or alert-type cap is applied.
var DefaultWindows = map[int]time.Duration{
	1: 5 * time.Minute,
	2: 10 * time.Minute,
	3: 15 * time.Minute,
	4: 30 * time.Minute,
	5: 60 * time.Minute,
}

// DefaultRoles is the tier progression used when no override is configured.
var DefaultRoles = []string{"nurse", "doctor", "head_doctor"}

// DefaultTypeCaps bound the window of life-threatening alert types regardless
// of the urgency the operator chose.
var DefaultTypeCaps = map[string]time.Duration{
	"cardiac_arrest": 5 * time.Minute,
	"code_blue":      5 * time.Minute,
	"fire":           5 * time.Minute,
}

// Scope is one level of escalation configuration. Empty fields inherit from
// the enclosing scope.
type Scope struct {
	Roles    []string                 `mapstructure:"roles"`
	Windows  map[string]time.Duration `mapstructure:"windows"`
	TypeCaps map[string]time.Duration `mapstructure:"type_caps"`
}

// HospitalScope carries per-department overrides below the hospital level.
type HospitalScope struct {
	Scope       `mapstructure:",squash"`
	Departments map[string]Scope `mapstructure:"departments"`
}

// Config is the full escalation policy document.
type Config struct {
	Defaults  Scope                    `mapstructure:"defaults"`
	Hospitals map[string]HospitalScope `mapstructure:"hospitals"`
}

// Query identifies the alert being resolved.
type Query struct {
	HospitalID   string
	DepartmentID string
	AlertType    string
	Urgency      int
	Tier         int
}

// Decision is the policy outcome for one tier.
type Decision struct {
	Tier int
	// Role is responsible for the alert while it sits at Tier. Empty when Tier
	// exceeds MaxTier.
	Role string
	// Window is how long Role has to acknowledge before the alert escalates.
	// Zero when Final.
	Window   time.Duration
	NextRole string
	MaxTier  int
	// Final is set at and beyond MaxTier: there is nobody left to escalate to.
	Final bool
}

type table struct {
	roles    []string
	windows  [MaxUrgency + 1]time.Duration
	typeCaps map[string]time.Duration
}

// Resolver answers policy queries against a compiled Config.
type Resolver struct {
	defaults    *table
	hospitals   map[string]*table
	departments map[string]*table // "hospital/department"
}

// NewResolver compiles cfg. Every effective scope must keep windows
// non-increasing as urgency becomes more severe and must name at least one
// role.
func NewResolver(cfg Config) (*Resolver, error) {
	base := Scope{Roles: DefaultRoles, Windows: nil, TypeCaps: nil}
	defaults, err := compile(nil, base, "defaults")
	if err != nil {
		return nil, err
	}
	defaults, err = compile(defaults, cfg.Defaults, "defaults")
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		defaults:    defaults,
		hospitals:   make(map[string]*table),
		departments: make(map[string]*table),
	}
	for id, hs := range cfg.Hospitals {
		hid := scopeKey(id)
		if _, dup := r.hospitals[hid]; dup {
			return nil, fmt.Errorf("hospital %q is configured more than once", id)
		}
		ht, err := compile(defaults, hs.Scope, "hospital "+id)
		if err != nil {
			return nil, err
		}
		r.hospitals[hid] = ht
		for dept, ds := range hs.Departments {
			key := hid + "/" + scopeKey(dept)
			if _, dup := r.departments[key]; dup {
				return nil, fmt.Errorf("hospital %q department %q is configured more than once", id, dept)
			}
			dt, err := compile(ht, ds, "hospital "+id+" department "+dept)
			if err != nil {
				return nil, err
			}
			r.departments[key] = dt
		}
	}
	return r, nil
}

// DefaultResolver resolves with the built-in defaults only.
func DefaultResolver() *Resolver {
	r, err := NewResolver(Config{})
	if err != nil {
		panic(err)
	}
	return r
}

func compile(parent *table, s Scope, name string) (*table, error) {
	t := &table{typeCaps: make(map[string]time.Duration)}
	if parent != nil {
		t.roles = parent.roles
		t.windows = parent.windows
		for k, v := range parent.typeCaps {
			t.typeCaps[k] = v
		}
	} else {
		for u, w := range DefaultWindows {
			t.windows[u] = w
		}
		for k, v := range DefaultTypeCaps {
			t.typeCaps[k] = v
		}
	}

	if len(s.Roles) > 0 {
		t.roles = append([]string(nil), s.Roles...)
	}
	for key, w := range s.Windows {
		u, err := strconv.Atoi(key)
		if err != nil || u < MinUrgency || u > MaxUrgency {
			return nil, fmt.Errorf("%s: window key %q is not an urgency level 1-5", name, key)
		}
		if w <= 0 {
			return nil, fmt.Errorf("%s: window for urgency %d must be positive", name, u)
		}
		t.windows[u] = w
	}
	for typ, c := range s.TypeCaps {
		if c <= 0 {
			return nil, fmt.Errorf("%s: cap for %s must be positive", name, typ)
		}
		t.typeCaps[typ] = c
	}

	if len(t.roles) == 0 {
		return nil, fmt.Errorf("%s: at least one escalation role is required", name)
	}
	for i, role := range t.roles {
		if role == "" {
			return nil, fmt.Errorf("%s: role for tier %d is empty", name, i+1)
		}
	}
	for u := MinUrgency + 1; u <= MaxUrgency; u++ {
		if t.windows[u] < t.windows[u-1] {
			return nil, fmt.Errorf("%s: window for urgency %d (%s) is shorter than for urgency %d (%s)",
				name, u, t.windows[u], u-1, t.windows[u-1])
		}
	}
	return t, nil
}

// scopeKey normalises a hospital or department id for lookup.
func scopeKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r *Resolver) tableFor(hospitalID, departmentID string) *table {
	hospitalID, departmentID = scopeKey(hospitalID), scopeKey(departmentID)
	if departmentID != "" {
		if t, ok := r.departments[hospitalID+"/"+departmentID]; ok {
			return t
		}
	}
	if t, ok := r.hospitals[hospitalID]; ok {
		return t
	}
	return r.defaults
}

// Window returns the response window for urgency and alertType in the given
// hospital/department. Urgency outside 1-5 is clamped.
func (r *Resolver) Window(hospitalID, departmentID, alertType string, urgency int) time.Duration {
	return r.tableFor(hospitalID, departmentID).window(alertType, urgency)
}

func (t *table) window(alertType string, urgency int) time.Duration {
	if urgency < MinUrgency {
		urgency = MinUrgency
	}
	if urgency > MaxUrgency {
		urgency = MaxUrgency
	}
	w := t.windows[urgency]
	if c, ok := t.typeCaps[alertType]; ok && c < w {
		w = c
	}
	return w
}

// MaxTier is the highest tier configured for the hospital/department.
func (r *Resolver) MaxTier(hospitalID, departmentID string) int {
	return len(r.tableFor(hospitalID, departmentID).roles)
}

// Resolve returns the decision for q.Tier. Past the last configured tier the
// decision names no role and never escalates.
func (r *Resolver) Resolve(q Query) Decision {
	t := r.tableFor(q.HospitalID, q.DepartmentID)
	max := len(t.roles)
	d := Decision{Tier: q.Tier, MaxTier: max, Final: true}
	if q.Tier < 1 || q.Tier > max {
		return d
	}
	d.Role = t.roles[q.Tier-1]
	if q.Tier < max {
		d.Final = false
		d.NextRole = t.roles[q.Tier]
		d.Window = t.window(q.AlertType, q.Urgency)
	}
	return d
}

// Row is one line of the resolved windows table.
type Row struct {
	Scope   string
	Roles   []string
	Windows [MaxUrgency]time.Duration
}

// Table lists the effective roles and uncapped windows of every scope, sorted
// by scope name.
func (r *Resolver) Table() []Row {
	row := func(name string, t *table) Row {
		out := Row{Scope: name, Roles: t.roles}
		for u := MinUrgency; u <= MaxUrgency; u++ {
			out.Windows[u-1] = t.windows[u]
		}
		return out
	}
	rows := []Row{row("defaults", r.defaults)}
	var names []string
	for id := range r.hospitals {
		names = append(names, id)
	}
	for id := range r.departments {
		names = append(names, id)
	}
	sort.Strings(names)
	for _, n := range names {
		if t, ok := r.hospitals[n]; ok {
			rows = append(rows, row(n, t))
			continue
		}
		rows = append(rows, row(n, r.departments[n]))
	}
	return rows
}
