package e2e

import (
	"strings"
	"testing"
)

// AssertSuccess fails the test if the command did not succeed.
func AssertSuccess(t *testing.T, r *Result) {
	t.Helper()
	if !r.Success() {
		t.Fatalf("expected success, got error: %v\nstdout: %s", r.Err, r.Stdout)
	}
}

// AssertError fails the test if the command did not return an error.
func AssertError(t *testing.T, r *Result) {
	t.Helper()
	if r.Success() {
		t.Fatalf("expected error, but command succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertOutputContains fails the test if stdout doesn't contain the substring.
func AssertOutputContains(t *testing.T, r *Result, substr string) {
	t.Helper()
	if !strings.Contains(r.Stdout, substr) {
		t.Errorf("expected output to contain %q\ngot: %s", substr, r.Stdout)
	}
}

// AssertErrorContains fails the test if the error message doesn't contain the substring.
func AssertErrorContains(t *testing.T, r *Result, substr string) {
	t.Helper()
	if r.Success() {
		t.Fatalf("expected error containing %q, but command succeeded", substr)
	}
	if errMsg := r.Err.Error(); !strings.Contains(errMsg, substr) {
		t.Errorf("expected error to contain %q\ngot: %s", substr, errMsg)
	}
}

// AssertRowCount fails the test if table does not hold want rows.
func AssertRowCount(t *testing.T, d *Database, table string, want int64) {
	t.Helper()
	if got := d.QueryInt("SELECT COUNT(*) FROM " + table); got != want {
		t.Errorf("%s: expected %d rows in %s, got %d", d.Path, want, table, got)
	}
}

// AssertSameRows fails the test if a query returns different rows on a and b.
// The query must select a single text column.
func AssertSameRows(t *testing.T, a, b *Database, query string) {
	t.Helper()
	left, right := a.QueryString(query), b.QueryString(query)
	if left != right {
		t.Errorf("databases differ for %q\n%s: %s\n%s: %s", query, a.Path, left, b.Path, right)
	}
}
