package schema

import (
	"errors"
	"testing"
)

func newTestSchema(t *testing.T) *Schema {
	t.Helper()
	s := New()
	s.MustCreateClass("Person", VertexClass)
	s.MustCreateClass("Employee", "Person")
	s.MustCreateClass("Company", VertexClass)
	s.MustCreateClass("Friend", EdgeClass)
	return s
}

func TestIsSubclassOf(t *testing.T) {
	s := newTestSchema(t)

	tests := []struct {
		name, super string
		want        bool
	}{
		{"Employee", "Person", true},
		{"Employee", "V", true},
		{"Person", "Person", true},
		{"Person", "Employee", false},
		{"Friend", "E", true},
		{"Friend", "V", false},
		{"Missing", "V", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"<"+tt.super, func(t *testing.T) {
			if got := s.IsSubclassOf(tt.name, tt.super); got != tt.want {
				t.Errorf("IsSubclassOf(%s, %s) = %v, want %v", tt.name, tt.super, got, tt.want)
			}
		})
	}
}

func TestPolymorphicClusters(t *testing.T) {
	s := newTestSchema(t)
	person, _ := s.Class("Person")
	employee, _ := s.Class("Employee")

	extra, err := s.AddCluster("Employee", "employee_eu")
	if err != nil {
		t.Fatalf("AddCluster: %v", err)
	}

	ids := s.PolymorphicClusterIDs("Person")
	want := map[int32]bool{person.DefaultCluster(): true, employee.DefaultCluster(): true, extra: true}
	if len(ids) != len(want) {
		t.Fatalf("got clusters %v, want %d", ids, len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected cluster %d", id)
		}
	}

	if name, ok := s.ClassOfCluster(extra); !ok || name != "Employee" {
		t.Errorf("ClassOfCluster(%d) = %q", extra, name)
	}
	if id, ok := s.ClusterID("employee_eu"); !ok || id != extra {
		t.Errorf("ClusterID = %d", id)
	}
}

func TestCreateErrors(t *testing.T) {
	s := newTestSchema(t)

	if _, err := s.CreateClass("Person", ""); !errors.Is(err, ErrClassExists) {
		t.Errorf("duplicate class: got %v", err)
	}
	if _, err := s.CreateClass("X", "Nope"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing superclass: got %v", err)
	}
	if _, err := s.CreateIndex("Person.name", "Person", false, "name"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := s.CreateIndex("Person.name", "Person", false, "name"); !errors.Is(err, ErrIndexExists) {
		t.Errorf("duplicate index: got %v", err)
	}
	if _, err := s.CreateIndex("bad", "Person", false); err == nil {
		t.Error("index without fields should fail")
	}
}

func TestIndexesIncludeSuperclass(t *testing.T) {
	s := newTestSchema(t)
	s.CreateIndex("Person.name", "Person", false, "name")
	s.CreateIndex("Employee.badge", "Employee", true, "badge", "site")

	if got := len(s.Indexes("Employee")); got != 2 {
		t.Errorf("Employee indexes = %d, want 2", got)
	}
	if got := len(s.Indexes("Person")); got != 1 {
		t.Errorf("Person indexes = %d, want 1", got)
	}
	def, _ := s.Index("Employee.badge")
	if !def.Composite() {
		t.Error("two-field index should be composite")
	}
}

func TestMostSpecific(t *testing.T) {
	s := newTestSchema(t)

	tests := []struct {
		a, b   string
		want   string
		wantOK bool
	}{
		{"Person", "Employee", "Employee", true},
		{"Employee", "Person", "Employee", true},
		{"", "Person", "Person", true},
		{"Person", "", "Person", true},
		{"Person", "Company", "", false},
	}
	for _, tt := range tests {
		got, ok := MostSpecific(s, tt.a, tt.b)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MostSpecific(%q, %q) = %q, %v", tt.a, tt.b, got, ok)
		}
	}
	if !IsVertexClass(s, "Employee") || IsEdgeClass(s, "Employee") || !IsEdgeClass(s, "Friend") {
		t.Error("vertex/edge classification wrong")
	}
}
