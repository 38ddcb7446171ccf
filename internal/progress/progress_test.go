package progress

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/ui"
)

func TestBar_CountsRowsPerBatch(t *testing.T) {
	ui.EnableColors()

	var buf bytes.Buffer
	b := NewBar(&buf, Download, 3, -1)
	if b.enabled {
		t.Fatal("expected bar to be disabled for a buffer")
	}
	tests := []struct {
		index, rows int
		complete    bool
	}{
		{0, 100, false},
		{1, 100, false},
		{2, 50, true},
	}
	for _, tt := range tests {
		b.Batch(tt.index, tt.rows)
		if b.Complete() != tt.complete {
			t.Errorf("after batch %d Complete() = %v, want %v", tt.index, b.Complete(), tt.complete)
		}
	}
	if b.rows != 250 || b.done != 3 {
		t.Errorf("rows = %d, batches = %d, want 250 and 3", b.rows, b.done)
	}
	if got := b.description(); got != "Downloading batch 3/3" {
		t.Errorf("description() = %q", got)
	}
	b.Finish()
	if buf.Len() != 0 {
		t.Errorf("disabled bar wrote %q", buf.String())
	}
}

func TestShouldShowProgress(t *testing.T) {
	ui.DisableColors()
	defer ui.EnableColors()

	if shouldShowProgress(&bytes.Buffer{}) {
		t.Error("expected no progress without colors")
	}
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	reg := interceptor.NewRegistry()
	tr := Attach(reg, &bytes.Buffer{})

	run := func(args any) {
		t.Helper()
		var err error
		switch a := args.(type) {
		case *interceptor.BatchCreatedArgs:
			err = interceptor.Run(ctx, reg, a)
		case *interceptor.SendingChangesArgs:
			err = interceptor.Run(ctx, reg, a)
		case *interceptor.BatchAppliedArgs:
			err = interceptor.Run(ctx, reg, a)
		}
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	run(&interceptor.BatchCreatedArgs{Side: interceptor.Client, Info: &batch.Info{Count: 2, RowsCount: 15}})
	if tr.uploadRows != 15 {
		t.Errorf("uploadRows = %d, want 15", tr.uploadRows)
	}
	run(&interceptor.SendingChangesArgs{Side: interceptor.Client, BatchIndex: 0, BatchCount: 2, RowCount: 10})
	if tr.bar == nil || tr.bar.dir != Upload || tr.bar.rows != 10 {
		t.Fatalf("upload bar = %+v", tr.bar)
	}
	run(&interceptor.SendingChangesArgs{Side: interceptor.Client, BatchIndex: 1, BatchCount: 2, RowCount: 5, IsLast: true})
	if tr.bar != nil {
		t.Error("expected the upload bar to finish after the last batch")
	}

	run(&interceptor.BatchAppliedArgs{Side: interceptor.Client, BatchIndex: 0, BatchCount: 3, Applied: 8, Skipped: 1, Conflicts: 1})
	if tr.bar == nil || tr.bar.dir != Download || tr.bar.rows != 10 {
		t.Fatalf("download bar = %+v", tr.bar)
	}

	// Server side events are ignored
	run(&interceptor.BatchAppliedArgs{Side: interceptor.Server, BatchIndex: 2, BatchCount: 3, Applied: 4})
	run(&interceptor.SendingChangesArgs{Side: interceptor.Server, BatchIndex: 0, BatchCount: 1})
	if tr.bar == nil || tr.bar.dir != Download || tr.bar.rows != 10 {
		t.Fatal("server events must not touch the client bar")
	}

	tr.Close()
	if tr.bar != nil {
		t.Error("expected Close to finish the open bar")
	}
	for name, registered := range map[string]bool{
		"BatchCreatedArgs":   interceptor.Has[interceptor.BatchCreatedArgs](reg),
		"SendingChangesArgs": interceptor.Has[interceptor.SendingChangesArgs](reg),
		"BatchAppliedArgs":   interceptor.Has[interceptor.BatchAppliedArgs](reg),
	} {
		if registered {
			t.Errorf("expected Close to remove the %s handler", name)
		}
	}
}
