package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/klauern/rowsync/internal/scope"
	"github.com/klauern/rowsync/internal/sync"
)

const defaultWidth = 80

// TerminalWidth returns the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Truncate shortens s to width runes, marking the cut with "…".
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

var titleCaser = cases.Title(language.English)

// Title formats an identifier such as "sending_changes" for display.
func Title(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// RenderResult writes a colored report of a sync session.
func RenderResult(w io.Writer, r *sync.Result) {
	var head string
	switch r.Status {
	case sync.StatusCompleted:
		head = StatusSuccess(Title(string(r.Status)))
	case sync.StatusCancelled:
		head = StatusWarning(Title(string(r.Status)))
	default:
		head = StatusError(Title(string(r.Status)))
	}
	fmt.Fprintf(w, "%s %s %s\n", head, Bold(r.ScopeName), Dim(r.Duration().Round(time.Millisecond).String()))

	fmt.Fprintf(w, "  %s %s rows in %d batches, %s applied by the server\n",
		Header("Uploaded:  "), humanize.Comma(int64(r.UploadedChanges)), len(r.UploadedBatches), humanize.Comma(int64(r.ServerApplied)))
	fmt.Fprintf(w, "  %s %s rows in %d batches, %s applied, %s skipped\n",
		Header("Downloaded:"), humanize.Comma(int64(r.DownloadedChanges)), len(r.DownloadedBatches),
		humanize.Comma(int64(r.Applied)), humanize.Comma(int64(r.Skipped)))

	conflicts := fmt.Sprintf("%d (policy %s)", len(r.Conflicts), r.Policy)
	if n := len(r.Unresolved()); n > 0 {
		conflicts += ", " + Warning(fmt.Sprintf("%d unresolved", n))
	}
	fmt.Fprintf(w, "  %s %s\n", Header("Conflicts: "), conflicts)

	mark := fmt.Sprintf("%d", r.Watermark)
	if !r.WatermarkAdvanced {
		mark += " " + Dim("(not advanced)")
	}
	fmt.Fprintf(w, "  %s %s\n", Header("Watermark: "), mark)

	width := TerminalWidth() - 6
	for _, c := range r.Unresolved() {
		fmt.Fprintf(w, "    %s\n", StatusWarning(Truncate(c.Summary(), width)))
	}

	if r.Err != nil {
		where := Title(string(r.Step))
		if r.BatchIndex >= 0 {
			where += fmt.Sprintf(", batch %d", r.BatchIndex)
		}
		fmt.Fprintf(w, "  %s %s: %v\n", Error("Error:     "), where, r.Err)
	}
}

// RenderClientScope writes the client's view of a scope.
func RenderClientScope(w io.Writer, s *scope.ClientScopeInfo) {
	fmt.Fprintf(w, "%s %s\n", Header("Scope:"), Bold(s.Name))
	fmt.Fprintf(w, "  Client ID:        %s\n", s.ID)
	fmt.Fprintf(w, "  Version:          %s\n", valueOr(s.Version, "-"))
	if s.Schema != nil {
		fmt.Fprintf(w, "  Tables:           %d\n", len(s.Schema.Tables))
	}
	fmt.Fprintf(w, "  Server watermark: %d\n", s.LastServerSyncTimestamp)
	fmt.Fprintf(w, "  Local watermark:  %d\n", s.LastSyncTimestamp)
	fmt.Fprintf(w, "  Last sync:        %s\n", when(s.LastSync, s.LastSyncDuration))
}

// RenderHistories writes the server's per-client watermarks.
func RenderHistories(w io.Writer, histories []*scope.ServerHistoryScopeInfo) {
	if len(histories) == 0 {
		fmt.Fprintln(w, Dim("No clients have synchronized yet."))
		return
	}
	fmt.Fprintf(w, "%-36s  %-16s  %12s  %s\n", Header("CLIENT"), Header("SCOPE"), Header("WATERMARK"), Header("LAST SYNC"))
	for _, h := range histories {
		fmt.Fprintf(w, "%-36s  %-16s  %12d  %s\n",
			h.ClientScopeID, Truncate(h.Name, 16), h.LastSyncTimestamp, when(h.LastSync, h.LastSyncDuration))
	}
}

func when(t time.Time, took time.Duration) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (took %s)", humanize.Time(t), took.Round(time.Millisecond))
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
