package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var alertTypes = []string{"cardiac_arrest", "code_blue", "fire", "security", "medical_emergency", "other"}

func TestResolve_Defaults(t *testing.T) {
	r := DefaultResolver()

	tests := []struct {
		name   string
		q      Query
		role   string
		window time.Duration
		final  bool
		next   string
	}{
		{"tier 1 urgency 3", Query{AlertType: "medical_emergency", Urgency: 3, Tier: 1}, "nurse", 15 * time.Minute, false, "doctor"},
		{"tier 2 urgency 5", Query{AlertType: "other", Urgency: 5, Tier: 2}, "doctor", 60 * time.Minute, false, "head_doctor"},
		{"cardiac arrest capped", Query{AlertType: "cardiac_arrest", Urgency: 5, Tier: 1}, "nurse", 5 * time.Minute, false, "doctor"},
		{"final tier", Query{AlertType: "medical_emergency", Urgency: 1, Tier: 3}, "head_doctor", 0, true, ""},
		{"beyond final tier", Query{AlertType: "medical_emergency", Urgency: 1, Tier: 4}, "", 0, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Resolve(tt.q)
			if d.Role != tt.role {
				t.Errorf("role = %q, want %q", d.Role, tt.role)
			}
			if d.Window != tt.window {
				t.Errorf("window = %s, want %s", d.Window, tt.window)
			}
			if d.Final != tt.final {
				t.Errorf("final = %v, want %v", d.Final, tt.final)
			}
			if d.NextRole != tt.next {
				t.Errorf("next role = %q, want %q", d.NextRole, tt.next)
			}
			if d.MaxTier != 3 {
				t.Errorf("max tier = %d, want 3", d.MaxTier)
			}
		})
	}
}

// A more severe urgency must never get a longer window, for every alert type
// and every tier that escalates.
func TestResolve_Monotonic(t *testing.T) {
	r, err := NewResolver(Config{
		Hospitals: map[string]HospitalScope{
			"h-1": {
				Scope: Scope{Windows: map[string]time.Duration{"5": 2 * time.Hour}},
				Departments: map[string]Scope{
					"icu": {
						Windows:  map[string]time.Duration{"1": 2 * time.Minute},
						TypeCaps: map[string]time.Duration{"medical_emergency": 7 * time.Minute},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	scopes := [][2]string{{"", ""}, {"h-1", ""}, {"h-1", "icu"}, {"h-1", "unknown"}}
	for _, sc := range scopes {
		max := r.MaxTier(sc[0], sc[1])
		for _, typ := range alertTypes {
			for tier := 1; tier < max; tier++ {
				for u := MinUrgency; u < MaxUrgency; u++ {
					more := r.Resolve(Query{HospitalID: sc[0], DepartmentID: sc[1], AlertType: typ, Urgency: u, Tier: tier})
					less := r.Resolve(Query{HospitalID: sc[0], DepartmentID: sc[1], AlertType: typ, Urgency: u + 1, Tier: tier})
					if more.Window > less.Window {
						t.Errorf("%v %s tier %d: urgency %d window %s > urgency %d window %s",
							sc, typ, tier, u, more.Window, u+1, less.Window)
					}
					if more.Window <= 0 {
						t.Errorf("%v %s tier %d urgency %d: non-positive window", sc, typ, tier, u)
					}
				}
			}
		}
	}
}

func TestResolve_Overrides(t *testing.T) {
	r, err := NewResolver(Config{
		Defaults: Scope{Windows: map[string]time.Duration{"3": 20 * time.Minute}},
		Hospitals: map[string]HospitalScope{
			"h-1": {
				Scope: Scope{Roles: []string{"nurse", "charge_nurse", "doctor", "head_doctor"}},
				Departments: map[string]Scope{
					"er": {Windows: map[string]time.Duration{"3": 4 * time.Minute, "2": 3 * time.Minute, "1": 2 * time.Minute}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if w := r.Window("other-hospital", "", "medical_emergency", 3); w != 20*time.Minute {
		t.Errorf("default override window = %s, want 20m", w)
	}
	if got := r.MaxTier("h-1", ""); got != 4 {
		t.Errorf("h-1 max tier = %d, want 4", got)
	}
	d := r.Resolve(Query{HospitalID: "h-1", AlertType: "medical_emergency", Urgency: 3, Tier: 1})
	if d.NextRole != "charge_nurse" {
		t.Errorf("h-1 next role = %q, want charge_nurse", d.NextRole)
	}
	// Department inherits roles from its hospital.
	d = r.Resolve(Query{HospitalID: "h-1", DepartmentID: "er", AlertType: "medical_emergency", Urgency: 3, Tier: 3})
	if d.Role != "doctor" || d.Window != 4*time.Minute {
		t.Errorf("er decision = %+v", d)
	}
	// Caps still apply under a department override.
	if w := r.Window("h-1", "er", "fire", 5); w != 5*time.Minute {
		t.Errorf("fire in er = %s, want 5m", w)
	}
}

func TestResolve_UrgencyClamped(t *testing.T) {
	r := DefaultResolver()
	if w := r.Window("", "", "other", 0); w != DefaultWindows[1] {
		t.Errorf("urgency 0 window = %s", w)
	}
	if w := r.Window("", "", "other", 9); w != DefaultWindows[5] {
		t.Errorf("urgency 9 window = %s", w)
	}
}

func TestNewResolver_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			"non monotonic",
			Config{Defaults: Scope{Windows: map[string]time.Duration{"2": time.Minute}}},
			"shorter than",
		},
		{
			"bad urgency key",
			Config{Defaults: Scope{Windows: map[string]time.Duration{"urgent": time.Minute}}},
			"not an urgency level",
		},
		{
			"zero window",
			Config{Defaults: Scope{Windows: map[string]time.Duration{"1": 0}}},
			"must be positive",
		},
		{
			"empty role",
			Config{Hospitals: map[string]HospitalScope{"h": {Scope: Scope{Roles: []string{"nurse", ""}}}}},
			"role for tier 2 is empty",
		},
		{
			"department breaks monotonicity",
			Config{Hospitals: map[string]HospitalScope{"h": {Departments: map[string]Scope{
				"icu": {Windows: map[string]time.Duration{"5": time.Minute}},
			}}}},
			"department icu",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
defaults:
  windows:
    "1": 3m
hospitals:
  st-marys:
    roles: [nurse, doctor]
    departments:
      icu:
        windows:
          "2": 4m
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w := r.Window("", "", "other", 1); w != 3*time.Minute {
		t.Errorf("default urgency 1 = %s, want 3m", w)
	}
	if got := r.MaxTier("st-marys", "icu"); got != 2 {
		t.Errorf("icu max tier = %d, want 2", got)
	}
	if w := r.Window("st-marys", "icu", "other", 2); w != 4*time.Minute {
		t.Errorf("icu urgency 2 = %s, want 4m", w)
	}
	if rows := r.Table(); len(rows) != 3 {
		t.Errorf("table rows = %d, want 3", len(rows))
	}
}

func TestLoad_CaseAndDottedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
hospitals:
  StMarys:
    roles: [nurse, charge_nurse, doctor, head_doctor]
    windows:
      "1": 2m
    departments:
      ICU.North:
        roles: [doctor]
  st.lukes:
    roles: [doctor]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		hospital, department string
		maxTier              int
	}{
		{"StMarys", "", 4},
		{"stmarys", "", 4},
		{"StMarys", "ICU.North", 1},
		{"stmarys", "icu.north", 1},
		{"st.lukes", "", 1},
		{"ST.LUKES", "", 1},
		{"st", "", len(DefaultRoles)},
	}
	for _, tt := range tests {
		if got := r.MaxTier(tt.hospital, tt.department); got != tt.maxTier {
			t.Errorf("MaxTier(%q, %q) = %d, want %d", tt.hospital, tt.department, got, tt.maxTier)
		}
	}
	if w := r.Window("StMarys", "", "other", 1); w != 2*time.Minute {
		t.Errorf("StMarys urgency 1 = %s, want 2m", w)
	}

	var scopes []string
	for _, row := range r.Table() {
		scopes = append(scopes, row.Scope)
	}
	got := strings.Join(scopes, ",")
	if got != "defaults,st.lukes,stmarys,stmarys/icu.north" {
		t.Errorf("table scopes = %s", got)
	}
}

func TestNewResolver_DuplicateAfterNormalising(t *testing.T) {
	cfg := Config{Hospitals: map[string]HospitalScope{
		"StMarys":  {Scope: Scope{Roles: []string{"nurse"}}},
		"stmarys ": {Scope: Scope{Roles: []string{"doctor"}}},
	}}
	if _, err := NewResolver(cfg); err == nil || !strings.Contains(err.Error(), "more than once") {
		t.Fatalf("expected duplicate hospital error, got %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	r, err := Load("")
	if err != nil || r.MaxTier("", "") != len(DefaultRoles) {
		t.Fatalf("empty path should give defaults, got %v", err)
	}
}
