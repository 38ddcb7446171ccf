package syncerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:       KindTransient,
		Op:         "apply_changes",
		Step:       "sending_changes",
		BatchIndex: 2,
		DataSource: "db.local",
		Catalog:    "main",
		Number:     "5",
		Err:        errors.New("database is locked"),
	}

	msg := err.Error()
	for _, want := range []string{"[transient]", "apply_changes", "step sending_changes", "batch 2", "catalog=main", "code=5", "database is locked"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	base := New(KindSchemaMismatch, "migrate", "primary key changed")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", base, KindSchemaMismatch},
		{"wrapped", fmt.Errorf("outer: %w", base), KindSchemaMismatch},
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), KindCancelled},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(KindInternal, "op", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWithStep_FirstAnnotationWins(t *testing.T) {
	err := WithStep(New(KindProtocol, "receive", "out of order"), "getting_changes", 1)
	err = WithStep(err, "completed", 9)

	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("expected *Error")
	}
	if se.Step != "getting_changes" || se.BatchIndex != 1 {
		t.Errorf("got step %q batch %d, want getting_changes 1", se.Step, se.BatchIndex)
	}
}

func TestWithStep_Unclassified(t *testing.T) {
	err := WithStep(context.Canceled, "sending_changes", 0)
	if !IsKind(err, KindCancelled) {
		t.Errorf("expected cancelled kind, got %q", KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected wrapped context.Canceled")
	}
}
