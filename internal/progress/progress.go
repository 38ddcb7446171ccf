// Package progress shows row transfer progress of a sync session on the
// terminal.
package progress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/ui"
)

// Direction names the way rows travel.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

func (d Direction) verb() string {
	if d == Upload {
		return "Uploading"
	}
	return "Downloading"
}

// Bar counts the rows of one direction of a session, batch by batch. When
// no terminal is attached it logs each batch at debug level instead.
type Bar struct {
	dir     Direction
	bar     *progressbar.ProgressBar
	enabled bool

	batches int
	done    int
	rows    int
}

// NewBar starts a bar for a change set of batches parts. totalRows sizes the
// bar; pass -1 when the row count is not known up front.
func NewBar(w io.Writer, dir Direction, batches int, totalRows int64) *Bar {
	if w == nil {
		w = os.Stderr
	}
	b := &Bar{dir: dir, batches: batches, enabled: shouldShowProgress(w)}
	if !b.enabled {
		return b
	}

	b.bar = progressbar.NewOptions64(
		totalRows,
		progressbar.OptionSetDescription(b.description()),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(ui.IsColorEnabled()),
	)
	return b
}

func (b *Bar) description() string {
	return fmt.Sprintf("%s batch %d/%d", b.dir.verb(), b.done, b.batches)
}

// Batch records one finished part carrying rows rows.
func (b *Bar) Batch(index, rows int) {
	b.done++
	b.rows += rows
	if !b.enabled {
		logging.Debug(b.dir.verb()+" batch",
			logging.Batch(index),
			logging.Count(rows),
		)
		return
	}
	b.bar.Describe(b.description())
	_ = b.bar.Add(rows)
}

// Complete reports whether every batch was recorded.
func (b *Bar) Complete() bool {
	return b.done >= b.batches
}

// Finish closes the bar and logs the totals.
func (b *Bar) Finish() {
	logging.Debug(string(b.dir)+" finished",
		slog.Int("batches", b.done),
		logging.Count(b.rows),
	)
	if b.enabled {
		_ = b.bar.Finish()
	}
}

// shouldShowProgress reports whether w is a color enabled terminal and the
// logger is quiet enough not to interleave with the bar.
func shouldShowProgress(w io.Writer) bool {
	if !ui.IsColorEnabled() {
		return false
	}
	f, ok := w.(*os.File)
	if !ok || !ui.IsTerminal(f) {
		return false
	}
	return !logging.Default().Enabled(context.Background(), logging.LevelDebug)
}
