package progress

import (
	"context"
	"io"
	"sync"

	"github.com/klauern/rowsync/internal/interceptor"
)

// Tracker shows the rows a client session uploads and downloads. It owns
// the BatchCreatedArgs, SendingChangesArgs and BatchAppliedArgs handlers of
// the registry it is attached to.
type Tracker struct {
	reg *interceptor.Registry
	w   io.Writer

	mu sync.Mutex
	// uploadRows is the size of the outgoing change set, -1 until known.
	uploadRows int64
	bar        *Bar
}

// Attach registers the tracker's handlers on reg.
func Attach(reg *interceptor.Registry, w io.Writer) *Tracker {
	t := &Tracker{reg: reg, w: w, uploadRows: -1}
	interceptor.On(reg, func(_ context.Context, a *interceptor.BatchCreatedArgs) error {
		if a.Side == interceptor.Client && a.Info != nil {
			t.mu.Lock()
			t.uploadRows = int64(a.Info.RowsCount)
			t.mu.Unlock()
		}
		return nil
	})
	interceptor.On(reg, func(_ context.Context, a *interceptor.SendingChangesArgs) error {
		if a.Side == interceptor.Client {
			t.step(Upload, a.BatchIndex, a.BatchCount, a.RowCount)
		}
		return nil
	})
	interceptor.On(reg, func(_ context.Context, a *interceptor.BatchAppliedArgs) error {
		if a.Side == interceptor.Client {
			t.step(Download, a.BatchIndex, a.BatchCount, a.Applied+a.Skipped+a.Conflicts)
		}
		return nil
	})
	return t
}

func (t *Tracker) step(dir Direction, index, count, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index == 0 {
		t.finishLocked()
		total := int64(-1)
		if dir == Upload {
			total = t.uploadRows
		}
		t.bar = NewBar(t.w, dir, count, total)
	}
	if t.bar == nil || t.bar.dir != dir {
		return
	}
	t.bar.Batch(index, rows)
	if t.bar.Complete() {
		t.finishLocked()
	}
}

func (t *Tracker) finishLocked() {
	if t.bar != nil {
		t.bar.Finish()
		t.bar = nil
	}
}

// Close finishes any open bar and removes the handlers.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.finishLocked()
	t.mu.Unlock()
	interceptor.Off[interceptor.BatchCreatedArgs](t.reg)
	interceptor.Off[interceptor.SendingChangesArgs](t.reg)
	interceptor.Off[interceptor.BatchAppliedArgs](t.reg)
}
