package validation

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

func TestValidateSetup(t *testing.T) {
	tests := []struct {
		name       string
		setup      *schema.Setup
		wantErrors int
		wantField  string
	}{
		{name: "valid", setup: schema.NewSetup("orders", "sales.customers")},
		{name: "nil setup", setup: nil, wantErrors: 1, wantField: "scope.tables"},
		{name: "empty name", setup: &schema.Setup{Tables: []schema.SetupTable{{Name: " "}}}, wantErrors: 1, wantField: "scope.tables[0].name"},
		{name: "duplicate table", setup: schema.NewSetup("orders", "ORDERS"), wantErrors: 1, wantField: "scope.tables[1].name"},
		{
			name:       "bad direction",
			setup:      &schema.Setup{Tables: []schema.SetupTable{{Name: "orders", Direction: "sideways"}}},
			wantErrors: 1,
			wantField:  "scope.tables[0].direction",
		},
		{
			name:       "duplicate column",
			setup:      &schema.Setup{Tables: []schema.SetupTable{{Name: "orders", Columns: []string{"a", "A"}}}},
			wantErrors: 1,
			wantField:  "scope.tables[0].columns",
		},
		{
			name: "filter on unknown table",
			setup: &schema.Setup{
				Tables:  []schema.SetupTable{{Name: "orders"}},
				Filters: []schema.Filter{{Table: "items", Column: "region", Parameter: "region"}},
			},
			wantErrors: 1,
			wantField:  "scope.filters[0].table",
		},
		{
			name: "filter without parameter",
			setup: &schema.Setup{
				Tables:  []schema.SetupTable{{Name: "orders"}},
				Filters: []schema.Filter{{Table: "orders", Column: "region"}},
			},
			wantErrors: 1,
			wantField:  "scope.filters[0].parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSetup(tt.setup)
			if len(result.Errors) != tt.wantErrors {
				t.Fatalf("errors = %v, want %d", result.Errors, tt.wantErrors)
			}
			if result.Valid != (tt.wantErrors == 0) {
				t.Errorf("Valid = %t", result.Valid)
			}
			if tt.wantField == "" {
				return
			}
			var ve *Error
			if !errors.As(result.Errors[0], &ve) || ve.Field != tt.wantField {
				t.Errorf("field = %v, want %q", result.Errors[0], tt.wantField)
			}
		})
	}
}

func TestValidateSetup_FilterWarning(t *testing.T) {
	setup := &schema.Setup{
		Tables:  []schema.SetupTable{{Name: "orders"}},
		Filters: []schema.Filter{{Table: "orders", Column: "region", Parameter: "region"}},
	}
	result := ValidateSetup(setup)
	if !result.Valid || len(result.Warnings) != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Summary() != "Validation passed with warnings (1 warning(s))" {
		t.Errorf("Summary() = %q", result.Summary())
	}
}

func TestValidateProvider(t *testing.T) {
	if !slices.Contains(provider.Names(), "validation-test") {
		provider.Register("validation-test", func(string) (provider.Provider, error) { return nil, nil })
	}

	tests := []struct {
		name, provider, conn string
		wantErr              string
	}{
		{"known", "validation-test", "x.db", ""},
		{"empty", "", "x.db", "provider cannot be empty"},
		{"unknown", "oracle", "x.db", "unknown provider"},
		{"no connection", "validation-test", " ", "connection string cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProvider("server", tt.provider, tt.conn)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateProvider() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateProvider() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://localhost:8080/sync", false},
		{"https://sync.example.com", false},
		{"", true},
		{"ftp://host/x", true},
		{"http://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		if err := ValidateURL("client.server_url", tt.raw); (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestValidateBatchBounds(t *testing.T) {
	if err := ValidateBatchBounds(1<<20, 0); err != nil {
		t.Errorf("bytes only: %v", err)
	}
	if err := ValidateBatchBounds(0, 0); err == nil {
		t.Error("no bounds should fail")
	}
	if err := ValidateBatchBounds(-1, 10); err == nil {
		t.Error("negative bound should fail")
	}
}

func TestErrors_Error(t *testing.T) {
	errs := Errors{
		&Error{Field: "a", Message: "bad"},
		&Error{Field: "b", Message: "worse", Err: errors.New("cause")},
	}
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "worse: cause") {
		t.Errorf("Errors.Error() = %q", got)
	}

	r := NewResult()
	r.AddError(nil)
	if r.HasErrors() || r.Error() != nil {
		t.Error("nil error recorded")
	}
	other := NewResult()
	other.AddError(errs[0])
	r.Merge(other)
	if r.Valid || !errors.Is(r.Error(), errs[0]) {
		t.Errorf("Merge() = %+v", r)
	}
}
