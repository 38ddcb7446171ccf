package dependency

import (
	"reflect"
	"strings"
	"testing"
)

func TestResolve_Empty(t *testing.T) {
	result := Resolve(nil)
	if result.HasErrors() {
		t.Errorf("expected no errors, got: %v", result.Errors)
	}
	if result.HasWarnings() {
		t.Errorf("expected no warnings, got: %v", result.Warnings)
	}
	if len(result.Ordered) != 0 {
		t.Errorf("expected empty ordered list, got %d nodes", len(result.Ordered))
	}
}

func TestResolve_KeepsInputOrderWithoutDependencies(t *testing.T) {
	result := Resolve([]Node{{Name: "orders"}, {Name: "customers"}, {Name: "products"}})
	if result.HasErrors() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	want := []string{"orders", "customers", "products"}
	if !reflect.DeepEqual(result.Ordered, want) {
		t.Errorf("Ordered = %v, want %v", result.Ordered, want)
	}
}

func TestResolve_ParentsFirst(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		want  []string
	}{
		{
			name: "child declared first",
			nodes: []Node{
				{Name: "order_lines", Dependencies: []string{"orders", "products"}},
				{Name: "orders", Dependencies: []string{"customers"}},
				{Name: "customers"},
				{Name: "products"},
			},
			want: []string{"customers", "orders", "products", "order_lines"},
		},
		{
			name: "self reference ignored",
			nodes: []Node{
				{Name: "employees", Dependencies: []string{"employees", "departments"}},
				{Name: "departments"},
			},
			want: []string{"departments", "employees"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Resolve(tt.nodes)
			if result.HasErrors() {
				t.Fatalf("unexpected errors: %v", result.Errors)
			}
			if !reflect.DeepEqual(result.Ordered, tt.want) {
				t.Errorf("Ordered = %v, want %v", result.Ordered, tt.want)
			}
		})
	}
}

func TestResolve_MissingDependencyIsWarning(t *testing.T) {
	result := Resolve([]Node{{Name: "orders", Dependencies: []string{"customers"}}})
	if result.HasErrors() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Type != "missing" {
		t.Fatalf("expected one missing warning, got %v", result.Warnings)
	}
	if !reflect.DeepEqual(result.Ordered, []string{"orders"}) {
		t.Errorf("Ordered = %v", result.Ordered)
	}
}

func TestResolve_Cycle(t *testing.T) {
	nodes := []Node{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"c"}},
		{Name: "c", Dependencies: []string{"a"}},
	}
	result := Resolve(nodes)
	if !result.HasErrors() {
		t.Fatal("expected circular dependency error")
	}
	if result.Errors[0].Type != "circular" {
		t.Errorf("Type = %q, want circular", result.Errors[0].Type)
	}
	if !strings.Contains(result.Errors[0].Message, "a -> b -> c -> a") {
		t.Errorf("unexpected message: %s", result.Errors[0].Message)
	}
	if !reflect.DeepEqual(result.Ordered, []string{"a", "b", "c"}) {
		t.Errorf("expected input order fallback, got %v", result.Ordered)
	}
}

func TestValidateGraph(t *testing.T) {
	errs := ValidateGraph([]Node{
		{Name: "a", Dependencies: []string{"missing"}},
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(errs))
	}
}
